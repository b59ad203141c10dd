package core

import (
	"context"
	"time"

	"github.com/dkeye/WatchParty/internal/domain"
)

// RoomState is the durable part of a room: everything except the chat log.
type RoomState struct {
	Room         domain.Room
	Participants []domain.Participant
	Playback     domain.PlaybackState
}

// Store is the persistence port. A nil Store means rooms live only in memory.
// Implementations must be safe for concurrent use.
type Store interface {
	// LoadRoom returns ErrRoomNotFound when the id is unknown.
	LoadRoom(ctx context.Context, id domain.RoomID) (RoomState, error)
	// SaveRoom upserts the room row and its playback state.
	SaveRoom(ctx context.Context, state RoomState) error
	// DeleteRoom cascades to participants and messages.
	DeleteRoom(ctx context.Context, id domain.RoomID) error
	SaveParticipant(ctx context.Context, roomID domain.RoomID, p domain.Participant) error
	RemoveParticipant(ctx context.Context, roomID domain.RoomID, id domain.ParticipantID) error
	SaveMessage(ctx context.Context, roomID domain.RoomID, m domain.Message) error
	// LoadRecentMessages returns at most limit messages in chronological order.
	LoadRecentMessages(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.Message, error)
	// SweepInactive deletes rooms idle for longer than idle and returns how many.
	SweepInactive(ctx context.Context, idle time.Duration) (int, error)
}

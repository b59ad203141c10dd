package core

import (
	"time"

	"github.com/dkeye/WatchParty/internal/domain"
)

// Snapshot is the full observable state handed to joiners and snapshot reads.
type Snapshot struct {
	Room         domain.Room          `json:"room"`
	Participants []domain.Participant `json:"participants"`
	Messages     []domain.Message     `json:"messages"`
	Playback     domain.PlaybackState `json:"playbackState"`
}

type RoomInfo struct {
	ID           domain.RoomID  `json:"id"`
	Name         string         `json:"name"`
	Content      domain.Content `json:"content"`
	Host         domain.HostRef `json:"host"`
	MemberCount  int            `json:"participantCount"`
	LastActivity time.Time      `json:"lastActivity"`
}

type JoinResult struct {
	Snapshot    Snapshot
	Participant domain.Participant
	// Rejoined is set when the id was already present; Replaced is the
	// session that owned it before, if any.
	Rejoined bool
	Replaced MemberSession
}

type LeaveResult struct {
	Participant domain.Participant
	NewHost     *domain.Participant
	Empty       bool
}

type KickResult struct {
	Target  domain.Participant
	Session MemberSession
	NewHost *domain.Participant
	Empty   bool
}

// RoomService is the core-facing API of a room.
// It owns the membership set and the broadcast group but never touches
// transport resources beyond TrySend.
type RoomService interface {
	ID() domain.RoomID
	Info() RoomInfo
	Snapshot() Snapshot
	State() RoomState
	MemberCount() int
	Participant(id domain.ParticipantID) (domain.Participant, bool)
	SessionOf(id domain.ParticipantID) (MemberSession, bool)
	LastActivity() time.Time
	Touch()
	Closed() bool

	Join(p domain.Participant, ms MemberSession) (JoinResult, error)
	Leave(id domain.ParticipantID, sid SessionID) (LeaveResult, error)
	Kick(requester, target domain.ParticipantID) (KickResult, error)
	TransferHost(requester, target domain.ParticipantID) (domain.HostRef, error)
	PostMessage(author domain.ParticipantID, content string) (domain.Message, error)
	UpdatePlayback(requester domain.ParticipantID, patch domain.PlaybackPatch) (domain.PlaybackState, error)

	// Close notifies every attached session and refuses further mutations.
	// It returns the sessions that were attached.
	Close(reason string) []MemberSession
	// CloseIfEmpty closes the room only when it has no participants left.
	CloseIfEmpty() bool
}

// DropHandler is told about sessions whose send queue rejected a frame.
// It runs after the room lock is released.
type DropHandler func(room RoomService, ms MemberSession)

type RoomOptions struct {
	Now    func() time.Time
	OnDrop DropHandler
}

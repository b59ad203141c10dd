package core

import (
	"encoding/json"

	"github.com/dkeye/WatchParty/internal/domain"
)

type EventType string

const (
	EventRoomCreated       EventType = "room-created"
	EventRoomJoined        EventType = "room-joined"
	EventParticipantJoined EventType = "participant-joined"
	EventParticipantLeft   EventType = "participant-left"
	EventParticipantKicked EventType = "participant-kicked"
	EventKicked            EventType = "kicked"
	EventHostChanged       EventType = "host-changed"
	EventNewMessage        EventType = "new-message"
	EventPlaybackUpdated   EventType = "playback-updated"
	EventRoomClosed        EventType = "room-closed"
	EventLeft              EventType = "left"
	EventError             EventType = "error"
)

// Event is the outbound envelope shared by every transport.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

func (e Event) Encode() (Frame, error) {
	return json.Marshal(e)
}

type RoomCreatedEvent struct {
	RoomID      domain.RoomID      `json:"roomId"`
	Participant domain.Participant `json:"participant"`
}

type ParticipantEvent struct {
	Participant domain.Participant `json:"participant"`
}

type HostChangedEvent struct {
	Host     domain.HostRef `json:"host"`
	Previous domain.HostRef `json:"previous"`
}

type KickedEvent struct {
	RoomID domain.RoomID  `json:"roomId"`
	By     domain.HostRef `json:"by"`
}

type RoomClosedEvent struct {
	RoomID domain.RoomID `json:"roomId"`
	Reason string        `json:"reason"`
}

type LeftEvent struct {
	RoomID domain.RoomID `json:"roomId"`
	Reason string        `json:"reason"`
}

type ErrorEvent struct {
	Error string `json:"error"`
}

func NewErrorEvent(msg string) Event {
	return Event{Type: EventError, Data: ErrorEvent{Error: msg}}
}

package domain

import (
	"errors"
	"strings"
	"time"
)

type RoomID string

const (
	MaxRoomNameLen = 64
	MaxContentLen  = 128

	DefaultMaxParticipants = 50
	MaxParticipantsCap     = 500
)

var (
	ErrRoomNameEmpty   = errors.New("room name empty")
	ErrRoomNameTooLong = errors.New("room name too long")
	ErrContentEmpty    = errors.New("content title and episode required")
	ErrContentTooLong  = errors.New("content descriptor too long")
	ErrInvalidPlayback = errors.New("invalid playback values")
	ErrInvalidRoomID   = errors.New("invalid room id")
)

// Content describes what the room is watching.
type Content struct {
	Title   string `json:"title"`
	Episode string `json:"episode"`
}

// Settings are fixed when the room is created.
type Settings struct {
	SyncPlayback    bool `json:"syncPlayback"`
	AllowChat       bool `json:"allowChat"`
	MaxParticipants int  `json:"maxParticipants"`
}

func DefaultSettings() Settings {
	return Settings{
		SyncPlayback:    true,
		AllowChat:       true,
		MaxParticipants: DefaultMaxParticipants,
	}
}

// Normalize clamps MaxParticipants into [1, MaxParticipantsCap].
func (s Settings) Normalize() Settings {
	if s.MaxParticipants <= 0 {
		s.MaxParticipants = DefaultMaxParticipants
	}
	if s.MaxParticipants > MaxParticipantsCap {
		s.MaxParticipants = MaxParticipantsCap
	}
	return s
}

// SettingsPatch is what a creator asks for; nil fields keep the defaults.
type SettingsPatch struct {
	SyncPlayback    *bool `json:"syncPlayback,omitempty"`
	AllowChat       *bool `json:"allowChat,omitempty"`
	MaxParticipants *int  `json:"maxParticipants,omitempty"`
}

// Over lays the patch over defaults. MaxParticipants may only lower the
// default cap; a non-positive value keeps it.
func (p *SettingsPatch) Over(defaults Settings) Settings {
	s := defaults
	if p == nil {
		return s.Normalize()
	}
	if p.SyncPlayback != nil {
		s.SyncPlayback = *p.SyncPlayback
	}
	if p.AllowChat != nil {
		s.AllowChat = *p.AllowChat
	}
	if p.MaxParticipants != nil && *p.MaxParticipants > 0 && *p.MaxParticipants < s.MaxParticipants {
		s.MaxParticipants = *p.MaxParticipants
	}
	return s.Normalize()
}

// HostRef duplicates id and name of the participant acting as host.
type HostRef struct {
	ID   ParticipantID `json:"id"`
	Name string        `json:"name"`
}

type Room struct {
	ID           RoomID    `json:"id"`
	Name         string    `json:"name"`
	Content      Content   `json:"content"`
	Host         HostRef   `json:"host"`
	Settings     Settings  `json:"settings"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

func NormalizeRoomName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLen {
		return "", ErrRoomNameTooLong
	}
	return name, nil
}

func NormalizeContent(c Content) (Content, error) {
	c.Title = strings.TrimSpace(c.Title)
	c.Episode = strings.TrimSpace(c.Episode)
	if c.Title == "" || c.Episode == "" {
		return Content{}, ErrContentEmpty
	}
	if len(c.Title) > MaxContentLen || len(c.Episode) > MaxContentLen {
		return Content{}, ErrContentTooLong
	}
	return c, nil
}

// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUserIDTooLong   = errors.New("participant id too long")
)

// ParticipantID is the stable identity of a participant inside a room.
// Realtime clients use their client token, REST callers supply their own.
type ParticipantID string

// NewParticipantID is used when a REST caller does not bring an id.
func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

// Participant is one member of a room.
type Participant struct {
	ID       ParticipantID `json:"id"`
	Name     string        `json:"name"`
	IsHost   bool          `json:"isHost"`
	JoinedAt time.Time     `json:"joinedAt"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(id ParticipantID, name string, now time.Time) (*Participant, error) {
	name, err := NormalizeUsername(name)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = NewParticipantID()
	}
	if len(id) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	return &Participant{ID: id, Name: name, JoinedAt: now}, nil
}

func NormalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return "", ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return "", ErrUsernameTooLong
	}
	return username, nil
}

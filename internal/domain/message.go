package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxMessageLen = 2000

	// MaxStoredMessages bounds the in-memory chat log of a room.
	MaxStoredMessages = 100
	// SnapshotMessages is how much history a joiner or a snapshot read receives.
	SnapshotMessages = 50
)

var (
	ErrMessageEmpty   = errors.New("message empty")
	ErrMessageTooLong = errors.New("message too long")
)

// Message is a chat line. AuthorName is frozen at send time.
type Message struct {
	ID         string        `json:"id"`
	AuthorID   ParticipantID `json:"authorId"`
	AuthorName string        `json:"authorName"`
	Content    string        `json:"content"`
	SentAt     time.Time     `json:"timestamp"`
}

func NewMessage(author *Participant, content string, now time.Time) Message {
	return Message{
		ID:         uuid.NewString(),
		AuthorID:   author.ID,
		AuthorName: author.Name,
		Content:    content,
		SentAt:     now,
	}
}

func NormalizeMessage(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrMessageEmpty
	}
	if utf8.RuneCountInString(content) > MaxMessageLen {
		return "", ErrMessageTooLong
	}
	return content, nil
}

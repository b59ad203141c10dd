package core

import "errors"

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomClosed   = errors.New("room closed")

	// Declined mutations. These are routine outcomes of concurrent use:
	// the room state is untouched and nothing is broadcast.
	ErrRoomFull       = errors.New("room is full")
	ErrNotParticipant = errors.New("not a participant of this room")
	ErrNotHost        = errors.New("only the host can do that")
	ErrTargetNotFound = errors.New("target participant not found")
	ErrChatDisabled   = errors.New("chat is disabled in this room")
	ErrSyncDisabled   = errors.New("playback sync is disabled in this room")
	ErrStaleSession   = errors.New("session no longer owns this participant")
)

// IsDeclined reports whether err is a permission or availability refusal
// rather than a failure.
func IsDeclined(err error) bool {
	switch {
	case errors.Is(err, ErrRoomFull),
		errors.Is(err, ErrNotParticipant),
		errors.Is(err, ErrNotHost),
		errors.Is(err, ErrTargetNotFound),
		errors.Is(err, ErrChatDisabled),
		errors.Is(err, ErrSyncDisabled),
		errors.Is(err, ErrStaleSession):
		return true
	}
	return false
}

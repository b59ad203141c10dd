package signal

import (
	"errors"

	"github.com/dkeye/WatchParty/internal/app/orch"
	"github.com/dkeye/WatchParty/internal/core"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{core.ErrRoomNotFound, "room_not_found"},
	{core.ErrRoomClosed, "room_not_found"},
	{core.ErrRoomFull, "room_full"},
	{core.ErrNotParticipant, "not_participant"},
	{core.ErrNotHost, "not_host"},
	{core.ErrTargetNotFound, "target_not_found"},
	{core.ErrChatDisabled, "chat_disabled"},
	{core.ErrSyncDisabled, "sync_disabled"},
	{core.ErrStaleSession, "stale_session"},
	{orch.ErrNotInRoom, "not_in_room"},
	{orch.ErrNoSession, "no_session"},
	{ErrRateLimited, "rate_limited"},
}

// ErrorCode maps an operation error to the code sent in an error event.
func ErrorCode(err error) string {
	var ve *orch.ValidationError
	if errors.As(err, &ve) {
		return "invalid_" + ve.Field
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal"
}

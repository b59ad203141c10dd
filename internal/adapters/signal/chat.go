package signal

import (
	"errors"

	"github.com/dkeye/WatchParty/internal/core"
)

var ErrRateLimited = errors.New("too many messages")

func (ctl *SignalWSController) handleSendMessage(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type messagePayload struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	var p messagePayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	ident, ok := ctl.Orch.Registry.Identity(sid)
	if !ok {
		return
	}
	if !ctl.chat.Allow(ident.ID) {
		ctl.replyErr(conn, ErrRateLimited)
		return
	}
	if _, err := ctl.Orch.SendMessage(sid, p.Content); err != nil {
		ctl.replyErr(conn, err)
	}
}

package signal

import (
	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
)

func (ctl *SignalWSController) handleUpdatePlayback(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p struct {
		Type string `json:"type"`
		domain.PlaybackPatch
	}
	if !ctl.decode(conn, data, &p) {
		return
	}
	if p.Empty() {
		ctl.sendError(conn, "invalid_playback")
		return
	}
	if _, err := ctl.Orch.UpdatePlayback(sid, p.PlaybackPatch); err != nil {
		ctl.replyErr(conn, err)
	}
}

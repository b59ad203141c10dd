package signal

import (
	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
)

type targetPayload struct {
	Type     string               `json:"type"`
	TargetID domain.ParticipantID `json:"targetId"`
}

func (ctl *SignalWSController) handleKick(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p targetPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	if _, err := ctl.Orch.Kick(sid, p.TargetID); err != nil {
		ctl.replyErr(conn, err)
	}
}

func (ctl *SignalWSController) handleTransferHost(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p targetPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	if _, err := ctl.Orch.TransferHost(sid, p.TargetID); err != nil {
		ctl.replyErr(conn, err)
	}
}

package signal

import (
	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
)

func (ctl *SignalWSController) handleWhoAmI(
	sid core.SessionID,
	conn *WsSignalConn,
) {
	ident, ok := ctl.Orch.Registry.Identity(sid)
	if !ok {
		ctl.sendError(conn, "no_session")
		return
	}

	resp := struct {
		Type     string               `json:"type"`
		ID       domain.ParticipantID `json:"id"`
		Username string               `json:"username"`
		Room     domain.RoomID        `json:"room,omitempty"`
		RoomName string               `json:"room_name,omitempty"`
		IsHost   bool                 `json:"isHost,omitempty"`
	}{
		Type:     "whoami",
		ID:       ident.ID,
		Username: ident.Name,
	}
	if roomID, _, ok := ctl.Orch.Registry.RoomOf(sid); ok {
		if room, ok := ctl.Orch.Rooms.Get(roomID); ok {
			info := room.Info()
			resp.Room = roomID
			resp.RoomName = info.Name
			resp.IsHost = info.Host.ID == ident.ID
		}
	}
	ctl.sendJSON(conn, resp)
}

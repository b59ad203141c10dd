package signal

import (
	"context"
	"time"

	"github.com/dkeye/WatchParty/internal/app/orch"
	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/rs/zerolog/log"
)

// joinTimeout bounds a store rehydration triggered by a join.
const joinTimeout = 5 * time.Second

func (ctl *SignalWSController) handleCreateRoom(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type createPayload struct {
		Type           string                `json:"type"`
		Name           string                `json:"name"`
		ContentTitle   string                `json:"contentTitle"`
		ContentEpisode string                `json:"contentEpisode"`
		HostName       string                `json:"hostName"`
		Settings       *domain.SettingsPatch `json:"settings,omitempty"`
	}
	var p createPayload
	if !ctl.decode(conn, data, &p) {
		return
	}

	snap, err := ctl.Orch.CreateRoomFor(sid, orch.CreateRoomRequest{
		Name:           p.Name,
		ContentTitle:   p.ContentTitle,
		ContentEpisode: p.ContentEpisode,
		HostName:       p.HostName,
		Settings:       p.Settings,
	})
	if err != nil {
		ctl.replyErr(conn, err)
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(snap.Room.ID)).Msg("create")
}

func (ctl *SignalWSController) handleJoin(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type joinPayload struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId"`
		Name   string `json:"name,omitempty"`
	}
	var p joinPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	roomID, err := domain.ParseRoomID(p.RoomID)
	if err != nil {
		ctl.sendError(conn, "invalid_roomId")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(roomID)).Msg("join")
	if _, err := ctl.Orch.Join(ctx, sid, roomID, p.Name); err != nil {
		ctl.replyErr(conn, err)
	}
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(
	sid core.SessionID,
	conn *WsSignalConn,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	if err := ctl.Orch.Leave(sid); err != nil {
		ctl.replyErr(conn, err)
	}
}

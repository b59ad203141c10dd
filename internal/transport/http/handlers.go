// Package http exposes the request/response access path to rooms.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/WatchParty/internal/app/orch"
	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// SessionNameKey must match the key the realtime handshake reads.
const SessionNameKey = "display_name"

const requestTimeout = 5 * time.Second

type Handlers struct {
	Orch *orch.Orchestrator
}

// Register mounts the room routes on g.
func Register(g *gin.RouterGroup, o *orch.Orchestrator) {
	h := &Handlers{Orch: o}
	g.POST("/rooms", h.createRoom)
	g.GET("/rooms", h.listRooms)
	g.GET("/rooms/:id", h.getRoom)
	g.POST("/rooms/:id/join", h.joinRoom)
	g.POST("/rooms/:id/leave", h.leaveRoom)
	g.POST("/rooms/:id/messages", h.postMessage)
	g.PUT("/rooms/:id/playback", h.updatePlayback)
	g.POST("/rooms/:id/kick", h.kick)
	g.POST("/rooms/:id/host", h.transferHost)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type CreateRoomRequest struct {
	Name           string                `json:"name"`
	ContentTitle   string                `json:"contentTitle"`
	ContentEpisode string                `json:"contentEpisode"`
	HostName       string                `json:"hostName"`
	HostID         domain.ParticipantID  `json:"hostId,omitempty"`
	Settings       *domain.SettingsPatch `json:"settings,omitempty"`
}

type ActorRequest struct {
	ParticipantID domain.ParticipantID `json:"participantId,omitempty"`
	Name          string               `json:"name,omitempty"`
}

type MessageRequest struct {
	ActorRequest
	Content string `json:"content"`
}

type PlaybackRequest struct {
	ActorRequest
	domain.PlaybackPatch
}

type TargetRequest struct {
	ParticipantID domain.ParticipantID `json:"participantId,omitempty"`
	TargetID      domain.ParticipantID `json:"targetId"`
}

type JoinResponse struct {
	Participant domain.Participant `json:"participant"`
	Room        core.Snapshot      `json:"room"`
}

// actorID falls back to the browser's client token when the caller does not
// name a participant.
func actorID(c *gin.Context, id domain.ParticipantID) domain.ParticipantID {
	if id != "" {
		return id
	}
	return domain.ParticipantID(c.GetString("client_token"))
}

func rememberName(c *gin.Context, name string) {
	if name == "" {
		return
	}
	s := sessions.Default(c)
	s.Set(SessionNameKey, name)
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "transport.http").Msg("save session")
	}
}

func roomID(c *gin.Context) (domain.RoomID, bool) {
	id, err := domain.ParseRoomID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return "", false
	}
	return id, true
}

// bind decodes the JSON body; an empty body leaves v zeroed.
func bind(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
		return false
	}
	return true
}

func reqCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

// StatusOf maps an operation error onto an HTTP status.
func StatusOf(err error) int {
	var ve *orch.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrRoomNotFound), errors.Is(err, core.ErrRoomClosed):
		return http.StatusNotFound
	case errors.Is(err, core.ErrRoomFull):
		return http.StatusConflict
	case core.IsDeclined(err):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	status := StatusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "transport.http").Str("path", c.FullPath()).Msg("request failed")
		msg = "internal error"
	}
	c.JSON(status, ErrorResponse{Error: msg})
}

func (h *Handlers) createRoom(c *gin.Context) {
	var req CreateRoomRequest
	if !bind(c, &req) {
		return
	}
	snap, err := h.Orch.CreateRoom(orch.CreateRoomRequest{
		Name:           req.Name,
		ContentTitle:   req.ContentTitle,
		ContentEpisode: req.ContentEpisode,
		HostName:       req.HostName,
		HostID:         actorID(c, req.HostID),
		Settings:       req.Settings,
	})
	if err != nil {
		fail(c, err)
		return
	}
	rememberName(c, req.HostName)
	c.JSON(http.StatusCreated, snap)
}

func (h *Handlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.Orch.ListRooms()})
}

func (h *Handlers) getRoom(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	snap, err := h.Orch.Snapshot(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handlers) joinRoom(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}
	var req ActorRequest
	if !bind(c, &req) {
		return
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	res, err := h.Orch.JoinAs(ctx, id, orch.Actor{ID: actorID(c, req.ParticipantID), Name: req.Name})
	if err != nil {
		fail(c, err)
		return
	}
	rememberName(c, req.Name)
	c.JSON(http.StatusOK, JoinResponse{Participant: res.Participant, Room: res.Snapshot})
}

func (h *Handlers) leaveRoom(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}
	var req ActorRequest
	if !bind(c, &req) {
		return
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Orch.LeaveAs(ctx, id, actorID(c, req.ParticipantID)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) postMessage(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}
	var req MessageRequest
	if !bind(c, &req) {
		return
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	msg, err := h.Orch.SendMessageAs(ctx, id, orch.Actor{ID: actorID(c, req.ParticipantID), Name: req.Name}, req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handlers) updatePlayback(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}
	var req PlaybackRequest
	if !bind(c, &req) {
		return
	}
	if req.PlaybackPatch.Empty() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty playback update"})
		return
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	st, err := h.Orch.UpdatePlaybackAs(ctx, id, orch.Actor{ID: actorID(c, req.ParticipantID), Name: req.Name}, req.PlaybackPatch)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handlers) kick(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}
	var req TargetRequest
	if !bind(c, &req) {
		return
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	res, err := h.Orch.KickAs(ctx, id, actorID(c, req.ParticipantID), req.TargetID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kicked": res.Target, "newHost": res.NewHost})
}

func (h *Handlers) transferHost(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		return
	}
	var req TargetRequest
	if !bind(c, &req) {
		return
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	host, err := h.Orch.TransferHostAs(ctx, id, actorID(c, req.ParticipantID), req.TargetID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"host": host})
}

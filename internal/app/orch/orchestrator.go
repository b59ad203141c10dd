package orch

import (
	"errors"
	"time"

	"github.com/dkeye/WatchParty/internal/app"
	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoSession = errors.New("unknown session")
	ErrNotInRoom = errors.New("not in a room")

	ErrMissingParticipant = errors.New("participant id is required")
	ErrMissingTarget      = errors.New("target participant id is required")
)

// ValidationError is a malformed request field, rejected before any room is touched.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// Orchestrator drives room operations for both access paths: realtime
// sessions, which act as the identity bound to their connection, and plain
// request/response callers, which name the participant they act as.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Policy   app.Policy
	Persist  *app.Persister

	// Defaults fill in settings a creator leaves out; MaxParticipants also
	// caps what a creator may ask for.
	Defaults domain.Settings
	Now      func() time.Time

	// joined, when set, runs after a session's room.Join returns and
	// before its binding is checked again.
	joined func(core.SessionID)
}

func NewOrchestrator(reg *app.Registry, rooms *app.RoomManager, policy app.Policy, persist *app.Persister, defaults domain.Settings) *Orchestrator {
	o := &Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Policy:   policy,
		Persist:  persist,
		Defaults: defaults.Normalize(),
		Now:      time.Now,
	}
	rooms.SetDropHandler(o.onDrop)
	rooms.OnEvict(o.onEvict)
	return o
}

// onDrop is called by a room, outside its lock, for a session that could
// not take another frame.
func (o *Orchestrator) onDrop(room core.RoomService, ms core.MemberSession) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(room, ms) {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("room", string(room.ID())).Str("sid", string(ms.ID())).Msg("slow consumer, closing connection")
		o.Registry.Cancel(ms.ID())
	case app.NoAction:
	}
}

// onEvict detaches every session still pointing at an evicted room.
// The connections stay open; the room already told them it closed.
func (o *Orchestrator) onEvict(room core.RoomService, _ []core.MemberSession) {
	for _, snap := range o.Registry.SessionsOfRoom(room.ID()) {
		o.Registry.ClearRoomIf(snap.SID, room.ID())
	}
}

// settings merges a creator's request with the defaults.
func (o *Orchestrator) settings(req *domain.SettingsPatch) domain.Settings {
	return req.Over(o.Defaults)
}

// afterMutation keeps the registry and the store in step with a successful mutation.
func (o *Orchestrator) afterMutation(room core.RoomService) {
	o.Rooms.Touch(room.ID())
}

// afterRemoval handles a participant that left the room by any path.
func (o *Orchestrator) afterRemoval(room core.RoomService, pid domain.ParticipantID, newHost *domain.Participant, empty bool) {
	o.Persist.RemoveParticipant(room.ID(), pid)
	if empty {
		o.Rooms.EvictIfEmpty(room.ID())
		return
	}
	if newHost != nil {
		o.Persist.SaveRoom(room)
	}
	o.afterMutation(room)
}

// roomErr folds a room that closed under us into not-found.
func roomErr(err error) error {
	if errors.Is(err, core.ErrRoomClosed) {
		return core.ErrRoomNotFound
	}
	return err
}

func observe(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case core.IsDeclined(err):
		result = "declined"
	case errors.Is(err, core.ErrRoomNotFound):
		result = "not_found"
	default:
		var ve *ValidationError
		if errors.As(err, &ve) {
			result = "invalid"
		} else {
			result = "error"
		}
	}
	metrics.Operations.WithLabelValues(op, result).Inc()
}

func (o *Orchestrator) send(ms core.MemberSession, ev core.Event) {
	if ms == nil {
		return
	}
	frame, err := ev.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", string(ev.Type)).Msg("encode event")
		return
	}
	if err := ms.Signal().TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(ms.ID())).Str("type", string(ev.Type)).Msg("direct send dropped")
	}
}

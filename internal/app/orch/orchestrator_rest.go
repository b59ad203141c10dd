package orch

import (
	"context"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/rs/zerolog/log"
)

// Actor is who a request/response caller acts as. An empty ID on join gets
// a fresh one.
type Actor struct {
	ID   domain.ParticipantID
	Name string
}

// CreateRoom creates a room for a caller without a connection. The host is
// present in the room but has no session attached.
func (o *Orchestrator) CreateRoom(req CreateRoomRequest) (core.Snapshot, error) {
	snap, err := o.createRoom(req)
	observe("create_room", err)
	return snap, err
}

func (o *Orchestrator) createRoom(req CreateRoomRequest) (core.Snapshot, error) {
	in, err := o.validateCreate(req)
	if err != nil {
		return core.Snapshot{}, err
	}
	room := o.Rooms.CreateRoom(in.name, in.content, in.host, in.settings)
	return room.Snapshot(), nil
}

func (o *Orchestrator) Snapshot(ctx context.Context, id domain.RoomID) (core.Snapshot, error) {
	room, err := o.Rooms.GetOrLoad(ctx, id)
	if err != nil {
		return core.Snapshot{}, err
	}
	return room.Snapshot(), nil
}

func (o *Orchestrator) ListRooms() []core.RoomInfo {
	return o.Rooms.List()
}

func (o *Orchestrator) JoinAs(ctx context.Context, id domain.RoomID, actor Actor) (core.JoinResult, error) {
	res, err := o.joinAs(ctx, id, actor)
	observe("join", err)
	return res, err
}

func (o *Orchestrator) joinAs(ctx context.Context, id domain.RoomID, actor Actor) (core.JoinResult, error) {
	p, err := domain.NewParticipant(actor.ID, actor.Name, o.Now())
	if err != nil {
		return core.JoinResult{}, invalid("participant", err)
	}
	room, err := o.Rooms.GetOrLoad(ctx, id)
	if err != nil {
		return core.JoinResult{}, err
	}
	return o.admit(room, *p)
}

// admit joins p without a session; a participant already present keeps
// whatever connection it has.
func (o *Orchestrator) admit(room core.RoomService, p domain.Participant) (core.JoinResult, error) {
	res, err := room.Join(p, nil)
	if err != nil {
		return core.JoinResult{}, roomErr(err)
	}
	if !res.Rejoined {
		o.Persist.SaveParticipant(room.ID(), res.Participant)
		log.Info().Str("module", "orch").Str("room", string(room.ID())).Str("participant", string(p.ID)).Msg("participant joined without session")
	}
	o.afterMutation(room)
	return res, nil
}

// ensure resolves the room and makes sure actor is a participant of it,
// joining it if needed.
func (o *Orchestrator) ensure(ctx context.Context, id domain.RoomID, actor Actor) (core.RoomService, domain.ParticipantID, error) {
	if actor.ID == "" {
		return nil, "", invalid("participantId", ErrMissingParticipant)
	}
	if len(actor.ID) > domain.MaxUserIDLen {
		return nil, "", invalid("participantId", domain.ErrUserIDTooLong)
	}
	room, err := o.Rooms.GetOrLoad(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if _, ok := room.Participant(actor.ID); ok {
		return room, actor.ID, nil
	}
	p, err := domain.NewParticipant(actor.ID, actor.Name, o.Now())
	if err != nil {
		return nil, "", invalid("name", err)
	}
	if _, err := o.admit(room, *p); err != nil {
		return nil, "", err
	}
	return room, actor.ID, nil
}

// LeaveAs removes a participant regardless of any connection it has.
func (o *Orchestrator) LeaveAs(ctx context.Context, id domain.RoomID, pid domain.ParticipantID) error {
	err := o.leaveAs(ctx, id, pid)
	observe("leave", err)
	return err
}

func (o *Orchestrator) leaveAs(ctx context.Context, id domain.RoomID, pid domain.ParticipantID) error {
	if pid == "" {
		return invalid("participantId", ErrMissingParticipant)
	}
	room, err := o.Rooms.GetOrLoad(ctx, id)
	if err != nil {
		return err
	}
	sess, _ := room.SessionOf(pid)
	res, err := room.Leave(pid, "")
	if err != nil {
		return roomErr(err)
	}
	if sess != nil {
		o.Registry.ClearRoomIf(sess.ID(), id)
		o.send(sess, core.Event{Type: core.EventLeft, Data: core.LeftEvent{RoomID: id, Reason: "left"}})
	}
	o.afterRemoval(room, pid, res.NewHost, res.Empty)
	return nil
}

func (o *Orchestrator) SendMessageAs(ctx context.Context, id domain.RoomID, actor Actor, content string) (domain.Message, error) {
	msg, err := o.sendMessageAs(ctx, id, actor, content)
	observe("send_message", err)
	return msg, err
}

func (o *Orchestrator) sendMessageAs(ctx context.Context, id domain.RoomID, actor Actor, content string) (domain.Message, error) {
	content, err := domain.NormalizeMessage(content)
	if err != nil {
		return domain.Message{}, invalid("content", err)
	}
	room, pid, err := o.ensure(ctx, id, actor)
	if err != nil {
		return domain.Message{}, err
	}
	return o.postMessage(room, pid, content)
}

func (o *Orchestrator) UpdatePlaybackAs(ctx context.Context, id domain.RoomID, actor Actor, patch domain.PlaybackPatch) (domain.PlaybackState, error) {
	st, err := o.updatePlaybackAs(ctx, id, actor, patch)
	observe("update_playback", err)
	return st, err
}

func (o *Orchestrator) updatePlaybackAs(ctx context.Context, id domain.RoomID, actor Actor, patch domain.PlaybackPatch) (domain.PlaybackState, error) {
	if err := patch.Validate(); err != nil {
		return domain.PlaybackState{}, invalid("playback", err)
	}
	room, pid, err := o.ensure(ctx, id, actor)
	if err != nil {
		return domain.PlaybackState{}, err
	}
	return o.applyPlayback(room, pid, patch)
}

// KickAs and TransferHostAs never synthesize the requester: a fresh
// participant could not be host anyway.
func (o *Orchestrator) KickAs(ctx context.Context, id domain.RoomID, requester, target domain.ParticipantID) (core.KickResult, error) {
	res, err := o.kickAs(ctx, id, requester, target)
	observe("kick", err)
	return res, err
}

func (o *Orchestrator) kickAs(ctx context.Context, id domain.RoomID, requester, target domain.ParticipantID) (core.KickResult, error) {
	if requester == "" {
		return core.KickResult{}, invalid("participantId", ErrMissingParticipant)
	}
	if target == "" {
		return core.KickResult{}, invalid("targetId", ErrMissingTarget)
	}
	room, err := o.Rooms.GetOrLoad(ctx, id)
	if err != nil {
		return core.KickResult{}, err
	}
	return o.kickIn(room, requester, target)
}

func (o *Orchestrator) TransferHostAs(ctx context.Context, id domain.RoomID, requester, target domain.ParticipantID) (domain.HostRef, error) {
	host, err := o.transferHostAs(ctx, id, requester, target)
	observe("transfer_host", err)
	return host, err
}

func (o *Orchestrator) transferHostAs(ctx context.Context, id domain.RoomID, requester, target domain.ParticipantID) (domain.HostRef, error) {
	if requester == "" {
		return domain.HostRef{}, invalid("participantId", ErrMissingParticipant)
	}
	if target == "" {
		return domain.HostRef{}, invalid("targetId", ErrMissingTarget)
	}
	room, err := o.Rooms.GetOrLoad(ctx, id)
	if err != nil {
		return domain.HostRef{}, err
	}
	return o.transferIn(room, requester, target)
}

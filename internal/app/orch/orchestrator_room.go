package orch

import (
	"context"

	"github.com/dkeye/WatchParty/internal/app"
	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/rs/zerolog/log"
)

type CreateRoomRequest struct {
	Name           string
	ContentTitle   string
	ContentEpisode string
	HostName       string
	HostID         domain.ParticipantID
	Settings       *domain.SettingsPatch
}

type createInput struct {
	name     string
	content  domain.Content
	host     domain.Participant
	settings domain.Settings
}

func (o *Orchestrator) validateCreate(req CreateRoomRequest) (createInput, error) {
	name, err := domain.NormalizeRoomName(req.Name)
	if err != nil {
		return createInput{}, invalid("name", err)
	}
	content, err := domain.NormalizeContent(domain.Content{Title: req.ContentTitle, Episode: req.ContentEpisode})
	if err != nil {
		return createInput{}, invalid("content", err)
	}
	host, err := domain.NewParticipant(req.HostID, req.HostName, o.Now())
	if err != nil {
		return createInput{}, invalid("hostName", err)
	}
	return createInput{name: name, content: content, host: *host, settings: o.settings(req.Settings)}, nil
}

// CreateRoomFor creates a room hosted by the identity bound to sid and
// attaches the connection to it, leaving any room it was in.
func (o *Orchestrator) CreateRoomFor(sid core.SessionID, req CreateRoomRequest) (core.Snapshot, error) {
	snap, err := o.createRoomFor(sid, req)
	observe("create_room", err)
	return snap, err
}

func (o *Orchestrator) createRoomFor(sid core.SessionID, req CreateRoomRequest) (core.Snapshot, error) {
	ident, ok := o.Registry.Identity(sid)
	if !ok {
		return core.Snapshot{}, ErrNoSession
	}
	if req.HostName == "" {
		req.HostName = ident.Name
	}
	req.HostID = ident.ID
	in, err := o.validateCreate(req)
	if err != nil {
		return core.Snapshot{}, err
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return core.Snapshot{}, ErrNoSession
	}
	o.leaveCurrent(sid, "switched")
	o.Registry.UpdateUsername(sid, in.host.Name)

	room := o.Rooms.CreateRoom(in.name, in.content, in.host, in.settings)
	if !o.Registry.UpdateRoom(sid, room.ID()) {
		// The connection went away while the room was being made.
		o.Rooms.Evict(room.ID(), "abandoned")
		return core.Snapshot{}, ErrNoSession
	}
	created := in.host
	created.IsHost = true
	o.send(sess, core.Event{Type: core.EventRoomCreated, Data: core.RoomCreatedEvent{RoomID: room.ID(), Participant: created}})
	res, err := room.Join(in.host, sess)
	if err != nil {
		o.Registry.ClearRoomIf(sid, room.ID())
		return core.Snapshot{}, roomErr(err)
	}
	if !o.stillBound(room, in.host.ID, sid) {
		return core.Snapshot{}, ErrNoSession
	}
	return res.Snapshot, nil
}

// stillBound reports whether sid is still bound to room after joining it.
// A disconnect that raced the join already ran its leave path with nothing
// to remove, so the join is undone on its behalf.
func (o *Orchestrator) stillBound(room core.RoomService, pid domain.ParticipantID, sid core.SessionID) bool {
	if o.joined != nil {
		o.joined(sid)
	}
	if cur, _, ok := o.Registry.RoomOf(sid); ok && cur == room.ID() {
		return true
	}
	if lr, err := room.Leave(pid, sid); err == nil {
		o.afterRemoval(room, pid, lr.NewHost, lr.Empty)
	}
	return false
}

// Join attaches the connection to roomID under its bound identity.
// Joining the room it is already in re-sends the snapshot.
func (o *Orchestrator) Join(ctx context.Context, sid core.SessionID, roomID domain.RoomID, name string) (core.JoinResult, error) {
	res, err := o.join(ctx, sid, roomID, name)
	observe("join", err)
	return res, err
}

func (o *Orchestrator) join(ctx context.Context, sid core.SessionID, roomID domain.RoomID, name string) (core.JoinResult, error) {
	ident, ok := o.Registry.Identity(sid)
	if !ok {
		return core.JoinResult{}, ErrNoSession
	}
	if name == "" {
		name = ident.Name
	}
	p, err := domain.NewParticipant(ident.ID, name, o.Now())
	if err != nil {
		return core.JoinResult{}, invalid("username", err)
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return core.JoinResult{}, ErrNoSession
	}

	if cur, _, ok := o.Registry.RoomOf(sid); ok && cur != roomID {
		o.leaveCurrent(sid, "switched")
	}
	room, err := o.Rooms.GetOrLoad(ctx, roomID)
	if err != nil {
		return core.JoinResult{}, err
	}
	o.Registry.UpdateUsername(sid, p.Name)
	if !o.Registry.UpdateRoom(sid, roomID) {
		return core.JoinResult{}, ErrNoSession
	}

	res, err := room.Join(*p, sess)
	if err != nil {
		o.Registry.ClearRoomIf(sid, roomID)
		return core.JoinResult{}, roomErr(err)
	}
	if !o.stillBound(room, p.ID, sid) {
		return core.JoinResult{}, ErrNoSession
	}

	if res.Replaced != nil {
		o.detachReplaced(roomID, res.Replaced)
	}
	if !res.Rejoined {
		o.Persist.SaveParticipant(roomID, res.Participant)
	}
	o.afterMutation(room)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Bool("rejoined", res.Rejoined).Msg("joined room")
	return res, nil
}

// detachReplaced tells an older connection of a reconnected identity that it
// no longer speaks for the participant.
func (o *Orchestrator) detachReplaced(roomID domain.RoomID, old core.MemberSession) {
	if o.Registry.ClearRoomIf(old.ID(), roomID) {
		o.send(old, core.Event{Type: core.EventLeft, Data: core.LeftEvent{RoomID: roomID, Reason: "replaced"}})
	}
}

// Leave runs the explicit leave path for the connection's current room.
func (o *Orchestrator) Leave(sid core.SessionID) error {
	roomID, ok := o.leaveCurrent(sid, "left")
	var err error
	if !ok {
		err = ErrNotInRoom
	}
	observe("leave", err)
	if ok {
		if sess, found := o.Registry.GetSession(sid); found {
			o.send(sess, core.Event{Type: core.EventLeft, Data: core.LeftEvent{RoomID: roomID, Reason: "left"}})
		}
	}
	return err
}

// OnDisconnect forgets the connection and, if it was in a room, runs the
// same leave path an explicit leave would. Safe to call more than once.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	entry, ok := o.Registry.Unbind(sid)
	if !ok || entry.RoomID == "" {
		return
	}
	o.leaveRoom(entry.RoomID, entry.Identity.ID, sid, "disconnect")
}

// leaveCurrent takes the session's room binding so that only one caller
// ever runs the leave path for it.
func (o *Orchestrator) leaveCurrent(sid core.SessionID, reason string) (domain.RoomID, bool) {
	roomID, ident, ok := o.Registry.TakeRoom(sid)
	if !ok {
		return "", false
	}
	o.leaveRoom(roomID, ident.ID, sid, reason)
	return roomID, true
}

func (o *Orchestrator) leaveRoom(roomID domain.RoomID, pid domain.ParticipantID, sid core.SessionID, reason string) {
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return
	}
	res, err := room.Leave(pid, sid)
	if err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("room", string(roomID)).Str("participant", string(pid)).Msg("leave skipped")
		return
	}
	o.afterRemoval(room, pid, res.NewHost, res.Empty)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Str("reason", reason).Bool("empty", res.Empty).Msg("left room")
}

// current resolves the room the session acts in.
func (o *Orchestrator) current(sid core.SessionID) (core.RoomService, app.Identity, error) {
	roomID, ident, ok := o.Registry.RoomOf(sid)
	if !ok {
		if _, bound := o.Registry.Identity(sid); !bound {
			return nil, app.Identity{}, ErrNoSession
		}
		return nil, app.Identity{}, ErrNotInRoom
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		o.Registry.ClearRoomIf(sid, roomID)
		return nil, app.Identity{}, core.ErrRoomNotFound
	}
	return room, ident, nil
}

func (o *Orchestrator) SendMessage(sid core.SessionID, content string) (domain.Message, error) {
	msg, err := o.sendMessage(sid, content)
	observe("send_message", err)
	return msg, err
}

func (o *Orchestrator) sendMessage(sid core.SessionID, content string) (domain.Message, error) {
	content, err := domain.NormalizeMessage(content)
	if err != nil {
		return domain.Message{}, invalid("content", err)
	}
	room, ident, err := o.current(sid)
	if err != nil {
		return domain.Message{}, err
	}
	return o.postMessage(room, ident.ID, content)
}

func (o *Orchestrator) postMessage(room core.RoomService, author domain.ParticipantID, content string) (domain.Message, error) {
	msg, err := room.PostMessage(author, content)
	if err != nil {
		return domain.Message{}, roomErr(err)
	}
	o.Persist.SaveMessage(room.ID(), msg)
	o.afterMutation(room)
	return msg, nil
}

func (o *Orchestrator) UpdatePlayback(sid core.SessionID, patch domain.PlaybackPatch) (domain.PlaybackState, error) {
	st, err := o.updatePlayback(sid, patch)
	observe("update_playback", err)
	return st, err
}

func (o *Orchestrator) updatePlayback(sid core.SessionID, patch domain.PlaybackPatch) (domain.PlaybackState, error) {
	if err := patch.Validate(); err != nil {
		return domain.PlaybackState{}, invalid("playback", err)
	}
	room, ident, err := o.current(sid)
	if err != nil {
		return domain.PlaybackState{}, err
	}
	return o.applyPlayback(room, ident.ID, patch)
}

func (o *Orchestrator) applyPlayback(room core.RoomService, requester domain.ParticipantID, patch domain.PlaybackPatch) (domain.PlaybackState, error) {
	st, err := room.UpdatePlayback(requester, patch)
	if err != nil {
		return domain.PlaybackState{}, roomErr(err)
	}
	o.Persist.SaveRoom(room)
	o.afterMutation(room)
	return st, nil
}

func (o *Orchestrator) Kick(sid core.SessionID, target domain.ParticipantID) (core.KickResult, error) {
	res, err := o.kick(sid, target)
	observe("kick", err)
	return res, err
}

func (o *Orchestrator) kick(sid core.SessionID, target domain.ParticipantID) (core.KickResult, error) {
	if target == "" {
		return core.KickResult{}, invalid("targetId", ErrMissingTarget)
	}
	room, ident, err := o.current(sid)
	if err != nil {
		return core.KickResult{}, err
	}
	return o.kickIn(room, ident.ID, target)
}

func (o *Orchestrator) kickIn(room core.RoomService, requester, target domain.ParticipantID) (core.KickResult, error) {
	res, err := room.Kick(requester, target)
	if err != nil {
		return core.KickResult{}, roomErr(err)
	}
	if res.Session != nil {
		o.Registry.ClearRoomIf(res.Session.ID(), room.ID())
	}
	o.afterRemoval(room, target, res.NewHost, res.Empty)
	log.Info().Str("module", "orch").Str("room", string(room.ID())).Str("by", string(requester)).Str("target", string(target)).Msg("kicked participant")
	return res, nil
}

func (o *Orchestrator) TransferHost(sid core.SessionID, target domain.ParticipantID) (domain.HostRef, error) {
	host, err := o.transferHost(sid, target)
	observe("transfer_host", err)
	return host, err
}

func (o *Orchestrator) transferHost(sid core.SessionID, target domain.ParticipantID) (domain.HostRef, error) {
	if target == "" {
		return domain.HostRef{}, invalid("targetId", ErrMissingTarget)
	}
	room, ident, err := o.current(sid)
	if err != nil {
		return domain.HostRef{}, err
	}
	return o.transferIn(room, ident.ID, target)
}

func (o *Orchestrator) transferIn(room core.RoomService, requester, target domain.ParticipantID) (domain.HostRef, error) {
	host, err := room.TransferHost(requester, target)
	if err != nil {
		return domain.HostRef{}, roomErr(err)
	}
	o.Persist.SaveRoom(room)
	o.afterMutation(room)
	return host, nil
}

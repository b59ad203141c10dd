package core

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/rs/zerolog/log"
)

type memberEntry struct {
	p    domain.Participant
	seq  uint64
	sess MemberSession
}

// roomImpl is a threadsafe in-memory room.
// Every mutation and the fan-out it triggers happen under mu, so clients
// observe events in the order the mutations were applied.
// It never closes adapter-owned resources.
type roomImpl struct {
	mu       sync.Mutex
	room     domain.Room
	members  map[domain.ParticipantID]*memberEntry
	seq      uint64
	messages []domain.Message
	playback domain.PlaybackState
	closed   bool

	dropped []MemberSession
	now     func() time.Time
	onDrop  DropHandler
}

// NewRoomService builds a room from state. The participant list must not be
// empty; exactly one participant ends up as host, preferring state.Room.Host.
func NewRoomService(state RoomState, history []domain.Message, opts RoomOptions) RoomService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &roomImpl{
		room:     state.Room,
		members:  make(map[domain.ParticipantID]*memberEntry, len(state.Participants)),
		playback: state.Playback,
		now:      opts.Now,
		onDrop:   opts.OnDrop,
	}
	r.room.Settings = r.room.Settings.Normalize()

	ps := append([]domain.Participant(nil), state.Participants...)
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].JoinedAt.Before(ps[j].JoinedAt) })
	for _, p := range ps {
		p.IsHost = false
		r.seq++
		r.members[p.ID] = &memberEntry{p: p, seq: r.seq}
	}
	if host, ok := r.members[r.room.Host.ID]; ok {
		host.p.IsHost = true
		r.room.Host = domain.HostRef{ID: host.p.ID, Name: host.p.Name}
	} else if next := r.earliestLocked(); next != nil {
		next.p.IsHost = true
		r.room.Host = domain.HostRef{ID: next.p.ID, Name: next.p.Name}
	}

	if n := len(history); n > domain.MaxStoredMessages {
		history = history[n-domain.MaxStoredMessages:]
	}
	r.messages = append(make([]domain.Message, 0, len(history)), history...)
	if r.room.LastActivity.IsZero() {
		r.room.LastActivity = r.now()
	}
	return r
}

// unlock releases mu and then reports sessions that could not keep up.
func (r *roomImpl) unlock() {
	dropped := r.dropped
	r.dropped = nil
	r.mu.Unlock()
	if r.onDrop == nil {
		return
	}
	for _, ms := range dropped {
		r.onDrop(r, ms)
	}
}

func (r *roomImpl) ID() domain.RoomID { return r.room.ID }

func (r *roomImpl) Info() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoomInfo{
		ID:           r.room.ID,
		Name:         r.room.Name,
		Content:      r.room.Content,
		Host:         r.room.Host,
		MemberCount:  len(r.members),
		LastActivity: r.room.LastActivity,
	}
}

func (r *roomImpl) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *roomImpl) snapshotLocked() Snapshot {
	msgs := r.messages
	if n := len(msgs); n > domain.SnapshotMessages {
		msgs = msgs[n-domain.SnapshotMessages:]
	}
	return Snapshot{
		Room:         r.room,
		Participants: r.participantsLocked(),
		Messages:     append([]domain.Message(nil), msgs...),
		Playback:     r.playback,
	}
}

func (r *roomImpl) State() RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoomState{
		Room:         r.room,
		Participants: r.participantsLocked(),
		Playback:     r.playback,
	}
}

func (r *roomImpl) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *roomImpl) Participant(id domain.ParticipantID) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[id]; ok {
		return m.p, true
	}
	return domain.Participant{}, false
}

func (r *roomImpl) SessionOf(id domain.ParticipantID) (MemberSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[id]; ok && m.sess != nil {
		return m.sess, true
	}
	return nil, false
}

func (r *roomImpl) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.room.LastActivity
}

func (r *roomImpl) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *roomImpl) Touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.room.LastActivity = r.now()
}

func (r *roomImpl) Join(p domain.Participant, ms MemberSession) (JoinResult, error) {
	r.mu.Lock()
	defer r.unlock()
	if r.closed {
		return JoinResult{}, ErrRoomClosed
	}

	if m, ok := r.members[p.ID]; ok {
		res := JoinResult{Participant: m.p, Rejoined: true}
		if ms != nil {
			if m.sess != nil && m.sess.ID() != ms.ID() {
				res.Replaced = m.sess
			}
			m.sess = ms
		}
		r.room.LastActivity = r.now()
		res.Snapshot = r.snapshotLocked()
		r.sendLocked(m, Event{Type: EventRoomJoined, Data: res.Snapshot})
		log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("participant", string(p.ID)).Msg("participant reattached")
		return res, nil
	}

	if len(r.members) >= r.room.Settings.MaxParticipants {
		return JoinResult{}, ErrRoomFull
	}

	p.IsHost = len(r.members) == 0
	r.seq++
	m := &memberEntry{p: p, seq: r.seq, sess: ms}
	r.members[p.ID] = m
	if p.IsHost {
		r.room.Host = domain.HostRef{ID: p.ID, Name: p.Name}
	}
	r.room.LastActivity = r.now()

	snap := r.snapshotLocked()
	r.sendLocked(m, Event{Type: EventRoomJoined, Data: snap})
	r.publishLocked(p.ID, Event{Type: EventParticipantJoined, Data: ParticipantEvent{Participant: p}})
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("participant", string(p.ID)).Msg("participant joined")
	return JoinResult{Snapshot: snap, Participant: p}, nil
}

func (r *roomImpl) Leave(id domain.ParticipantID, sid SessionID) (LeaveResult, error) {
	r.mu.Lock()
	defer r.unlock()
	if r.closed {
		return LeaveResult{}, ErrRoomClosed
	}
	m, ok := r.members[id]
	if !ok {
		return LeaveResult{}, ErrNotParticipant
	}
	if sid != "" && (m.sess == nil || m.sess.ID() != sid) {
		return LeaveResult{}, ErrStaleSession
	}

	prevHost := r.room.Host
	newHost := r.removeLocked(id)
	r.publishLocked("", Event{Type: EventParticipantLeft, Data: ParticipantEvent{Participant: m.p}})
	if newHost != nil {
		r.publishLocked("", Event{Type: EventHostChanged, Data: HostChangedEvent{Host: r.room.Host, Previous: prevHost}})
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("participant", string(id)).Msg("participant left")
	return LeaveResult{Participant: m.p, NewHost: newHost, Empty: len(r.members) == 0}, nil
}

func (r *roomImpl) Kick(requester, target domain.ParticipantID) (KickResult, error) {
	r.mu.Lock()
	defer r.unlock()
	if r.closed {
		return KickResult{}, ErrRoomClosed
	}
	req, ok := r.members[requester]
	if !ok {
		return KickResult{}, ErrNotParticipant
	}
	if !req.p.IsHost {
		return KickResult{}, ErrNotHost
	}
	tgt, ok := r.members[target]
	if !ok {
		return KickResult{}, ErrTargetNotFound
	}

	by := r.room.Host
	r.sendLocked(tgt, Event{Type: EventKicked, Data: KickedEvent{RoomID: r.room.ID, By: by}})
	newHost := r.removeLocked(target)
	r.publishLocked("", Event{Type: EventParticipantKicked, Data: ParticipantEvent{Participant: tgt.p}})
	if newHost != nil {
		r.publishLocked("", Event{Type: EventHostChanged, Data: HostChangedEvent{Host: r.room.Host, Previous: by}})
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("by", string(requester)).Str("target", string(target)).Msg("participant kicked")
	return KickResult{Target: tgt.p, Session: tgt.sess, NewHost: newHost, Empty: len(r.members) == 0}, nil
}

func (r *roomImpl) TransferHost(requester, target domain.ParticipantID) (domain.HostRef, error) {
	r.mu.Lock()
	defer r.unlock()
	if r.closed {
		return domain.HostRef{}, ErrRoomClosed
	}
	req, ok := r.members[requester]
	if !ok {
		return domain.HostRef{}, ErrNotParticipant
	}
	if !req.p.IsHost {
		return domain.HostRef{}, ErrNotHost
	}
	tgt, ok := r.members[target]
	if !ok {
		return domain.HostRef{}, ErrTargetNotFound
	}

	prev := r.room.Host
	req.p.IsHost = false
	tgt.p.IsHost = true
	r.room.Host = domain.HostRef{ID: tgt.p.ID, Name: tgt.p.Name}
	r.room.LastActivity = r.now()
	r.publishLocked("", Event{Type: EventHostChanged, Data: HostChangedEvent{Host: r.room.Host, Previous: prev}})
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("host", string(target)).Msg("host transferred")
	return r.room.Host, nil
}

func (r *roomImpl) PostMessage(author domain.ParticipantID, content string) (domain.Message, error) {
	r.mu.Lock()
	defer r.unlock()
	if r.closed {
		return domain.Message{}, ErrRoomClosed
	}
	m, ok := r.members[author]
	if !ok {
		return domain.Message{}, ErrNotParticipant
	}
	if !r.room.Settings.AllowChat {
		return domain.Message{}, ErrChatDisabled
	}

	now := r.now()
	msg := domain.NewMessage(&m.p, content, now)
	r.messages = append(r.messages, msg)
	if n := len(r.messages); n > domain.MaxStoredMessages {
		r.messages = append(r.messages[:0:0], r.messages[n-domain.MaxStoredMessages:]...)
	}
	r.room.LastActivity = now
	r.publishLocked("", Event{Type: EventNewMessage, Data: msg})
	return msg, nil
}

func (r *roomImpl) UpdatePlayback(requester domain.ParticipantID, patch domain.PlaybackPatch) (domain.PlaybackState, error) {
	r.mu.Lock()
	defer r.unlock()
	if r.closed {
		return domain.PlaybackState{}, ErrRoomClosed
	}
	if _, ok := r.members[requester]; !ok {
		return domain.PlaybackState{}, ErrNotParticipant
	}
	if !r.room.Settings.SyncPlayback {
		return domain.PlaybackState{}, ErrSyncDisabled
	}

	now := r.now()
	r.playback = r.playback.Apply(patch, now)
	r.room.LastActivity = now
	r.publishLocked(requester, Event{Type: EventPlaybackUpdated, Data: r.playback})
	return r.playback, nil
}

func (r *roomImpl) Close(reason string) []MemberSession {
	r.mu.Lock()
	defer r.unlock()
	if r.closed {
		return nil
	}
	return r.closeLocked(reason)
}

func (r *roomImpl) CloseIfEmpty() bool {
	r.mu.Lock()
	defer r.unlock()
	if r.closed || len(r.members) > 0 {
		return false
	}
	r.closeLocked("empty")
	return true
}

func (r *roomImpl) closeLocked(reason string) []MemberSession {
	r.closed = true
	r.publishLocked("", Event{Type: EventRoomClosed, Data: RoomClosedEvent{RoomID: r.room.ID, Reason: reason}})
	out := make([]MemberSession, 0, len(r.members))
	for _, m := range r.members {
		if m.sess != nil {
			out = append(out, m.sess)
			m.sess = nil
		}
	}
	// Nobody can act on a closed room, so slow consumers need no policy.
	r.dropped = nil
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("reason", reason).Msg("room closed")
	return out
}

// removeLocked deletes a member and, when it was the host, promotes the
// earliest joined remaining participant. It returns the new host, if any.
func (r *roomImpl) removeLocked(id domain.ParticipantID) *domain.Participant {
	m := r.members[id]
	delete(r.members, id)
	r.room.LastActivity = r.now()
	if !m.p.IsHost {
		return nil
	}
	next := r.earliestLocked()
	if next == nil {
		r.room.Host = domain.HostRef{}
		return nil
	}
	next.p.IsHost = true
	r.room.Host = domain.HostRef{ID: next.p.ID, Name: next.p.Name}
	p := next.p
	return &p
}

func (r *roomImpl) earliestLocked() *memberEntry {
	var best *memberEntry
	for _, m := range r.members {
		if best == nil || m.seq < best.seq {
			best = m
		}
	}
	return best
}

func (r *roomImpl) participantsLocked() []domain.Participant {
	entries := make([]*memberEntry, 0, len(r.members))
	for _, m := range r.members {
		entries = append(entries, m)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]domain.Participant, len(entries))
	for i, m := range entries {
		out[i] = m.p
	}
	return out
}

func (r *roomImpl) sendLocked(m *memberEntry, ev Event) {
	if m.sess == nil {
		return
	}
	frame, err := ev.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Str("type", string(ev.Type)).Msg("encode event")
		return
	}
	if err := m.sess.Signal().TrySend(frame); err != nil {
		r.dropped = append(r.dropped, m.sess)
	}
}

// publishLocked fans ev out to every attached session except the one owned by except.
func (r *roomImpl) publishLocked(except domain.ParticipantID, ev Event) {
	frame, err := ev.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Str("type", string(ev.Type)).Msg("encode event")
		return
	}
	sent := 0
	for pid, m := range r.members {
		if pid == except || m.sess == nil {
			continue
		}
		if err := m.sess.Signal().TrySend(frame); err != nil {
			r.dropped = append(r.dropped, m.sess)
			continue
		}
		sent++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.room.ID)).Str("type", string(ev.Type)).Int("sent_to", sent).Int("dropped", len(r.dropped)).Msg("broadcast result")
}

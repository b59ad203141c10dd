package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// EvictHook is called once a room has left the registry, with the sessions
// that were still attached to it.
type EvictHook func(room core.RoomService, sessions []core.MemberSession)

type RoomManagerConfig struct {
	// IdleTimeout is how long a room may go without a mutation before its
	// expiry timer evicts it. Zero disables per-room timers.
	IdleTimeout time.Duration
	Now         func() time.Time
}

// RoomManager is the registry of live rooms. It is the only place that knows
// which rooms exist right now.
type RoomManager struct {
	mu         sync.RWMutex
	rooms      map[domain.RoomID]core.RoomService
	tombstones map[domain.RoomID]time.Time

	timersMu sync.Mutex
	timers   map[domain.RoomID]*time.Timer

	store   core.Store
	persist *Persister
	loads   singleflight.Group
	idle    time.Duration
	now     func() time.Time

	onDrop  core.DropHandler
	onEvict EvictHook

	drained atomic.Bool
}

func NewRoomManager(store core.Store, persist *Persister, cfg RoomManagerConfig) *RoomManager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RoomManager{
		rooms:      make(map[domain.RoomID]core.RoomService),
		tombstones: make(map[domain.RoomID]time.Time),
		timers:     make(map[domain.RoomID]*time.Timer),
		store:      store,
		persist:    persist,
		idle:       cfg.IdleTimeout,
		now:        cfg.Now,
	}
}

// SetDropHandler must be called before rooms are created.
func (m *RoomManager) SetDropHandler(h core.DropHandler) { m.onDrop = h }

// OnEvict must be called before rooms are created.
func (m *RoomManager) OnEvict(h EvictHook) { m.onEvict = h }

func (m *RoomManager) roomOptions() core.RoomOptions {
	return core.RoomOptions{Now: m.now, OnDrop: m.onDrop}
}

// CreateRoom registers a new room whose only participant is host.
func (m *RoomManager) CreateRoom(name string, content domain.Content, host domain.Participant, settings domain.Settings) core.RoomService {
	now := m.now()
	host.IsHost = true
	host.JoinedAt = now
	state := core.RoomState{
		Room: domain.Room{
			Name:         name,
			Content:      content,
			Host:         domain.HostRef{ID: host.ID, Name: host.Name},
			Settings:     settings.Normalize(),
			CreatedAt:    now,
			LastActivity: now,
		},
		Participants: []domain.Participant{host},
	}

	m.mu.Lock()
	id := domain.NewRoomID()
	for m.rooms[id] != nil {
		id = domain.NewRoomID()
	}
	state.Room.ID = id
	room := core.NewRoomService(state, nil, m.roomOptions())
	m.rooms[id] = room
	metrics.RoomsActive.Set(float64(len(m.rooms)))
	m.mu.Unlock()

	m.schedule(id)
	m.persist.SaveRoom(room)
	m.persist.SaveParticipant(id, host)
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("host", string(host.ID)).Msg("room created")
	return room
}

// Get looks only at memory.
func (m *RoomManager) Get(id domain.RoomID) (core.RoomService, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[id]
	return room, ok
}

// GetOrLoad returns the live room or rehydrates it from the store.
// Concurrent loads of the same id share one store round trip.
func (m *RoomManager) GetOrLoad(ctx context.Context, id domain.RoomID) (core.RoomService, error) {
	if room, ok := m.Get(id); ok {
		return room, nil
	}
	if m.store == nil {
		return nil, core.ErrRoomNotFound
	}
	v, err, _ := m.loads.Do(string(id), func() (any, error) {
		return m.load(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(core.RoomService), nil
}

func (m *RoomManager) load(ctx context.Context, id domain.RoomID) (core.RoomService, error) {
	m.mu.RLock()
	room, ok := m.rooms[id]
	_, buried := m.tombstones[id]
	m.mu.RUnlock()
	if ok {
		return room, nil
	}
	if buried {
		return nil, core.ErrRoomNotFound
	}

	state, err := m.store.LoadRoom(ctx, id)
	if err != nil {
		if !errors.Is(err, core.ErrRoomNotFound) {
			log.Error().Err(err).Str("module", "app.rooms").Str("room", string(id)).Msg("load room")
		}
		return nil, core.ErrRoomNotFound
	}
	if len(state.Participants) == 0 {
		m.persist.DeleteRoom(id)
		return nil, core.ErrRoomNotFound
	}
	history, err := m.store.LoadRecentMessages(ctx, id, domain.SnapshotMessages)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.rooms").Str("room", string(id)).Msg("load history, continuing without it")
		history = nil
	}

	room = core.NewRoomService(state, history, m.roomOptions())
	m.mu.Lock()
	if existing, ok := m.rooms[id]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	if _, buried := m.tombstones[id]; buried {
		m.mu.Unlock()
		return nil, core.ErrRoomNotFound
	}
	m.rooms[id] = room
	metrics.RoomsActive.Set(float64(len(m.rooms)))
	m.mu.Unlock()

	room.Touch()
	m.schedule(id)
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Int("participants", len(state.Participants)).Int("messages", len(history)).Msg("room rehydrated")
	return room, nil
}

// Touch marks activity and pushes the expiry timer back.
func (m *RoomManager) Touch(id domain.RoomID) {
	room, ok := m.Get(id)
	if !ok {
		return
	}
	room.Touch()
	m.schedule(id)
}

// EvictIfEmpty drops the room if nobody is left in it. A join racing the
// check either lands first and keeps the room or finds it closed.
func (m *RoomManager) EvictIfEmpty(id domain.RoomID) bool {
	room, ok := m.Get(id)
	if !ok {
		return false
	}
	if !room.CloseIfEmpty() {
		return false
	}
	return m.remove(room, "empty", nil)
}

// Evict drops the room regardless of who is still in it.
func (m *RoomManager) Evict(id domain.RoomID, reason string) bool {
	room, ok := m.Get(id)
	if !ok {
		return false
	}
	sessions := room.Close(reason)
	return m.remove(room, reason, sessions)
}

func (m *RoomManager) remove(room core.RoomService, reason string, sessions []core.MemberSession) bool {
	id := room.ID()
	m.mu.Lock()
	cur, ok := m.rooms[id]
	if !ok || cur != room {
		m.mu.Unlock()
		return false
	}
	delete(m.rooms, id)
	m.tombstones[id] = m.now()
	metrics.RoomsActive.Set(float64(len(m.rooms)))
	m.mu.Unlock()

	m.cancelTimer(id)
	metrics.RoomsEvicted.WithLabelValues(reason).Inc()
	m.persist.DeleteRoom(id)
	if m.onEvict != nil {
		m.onEvict(room, sessions)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("reason", reason).Msg("room evicted")
	return true
}

// SweepIdle evicts every room idle for at least the idle timeout and
// forgets tombstones older than it. It returns how many rooms were evicted.
func (m *RoomManager) SweepIdle(idle time.Duration) int {
	now := m.now()
	m.mu.Lock()
	for id, at := range m.tombstones {
		if now.Sub(at) >= idle {
			delete(m.tombstones, id)
		}
	}
	candidates := make([]core.RoomService, 0, len(m.rooms))
	for _, room := range m.rooms {
		candidates = append(candidates, room)
	}
	m.mu.Unlock()

	evicted := 0
	for _, room := range candidates {
		if now.Sub(room.LastActivity()) < idle {
			continue
		}
		if m.Evict(room.ID(), "idle") {
			evicted++
		}
	}
	return evicted
}

func (m *RoomManager) List() []core.RoomInfo {
	m.mu.RLock()
	out := make([]core.RoomInfo, 0, len(m.rooms))
	rooms := make([]core.RoomService, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()
	for _, r := range rooms {
		out = append(out, r.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *RoomManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// PersistAll queues a save of every live room.
func (m *RoomManager) PersistAll() {
	m.mu.RLock()
	rooms := make([]core.RoomService, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()
	for _, r := range rooms {
		m.persist.SaveRoom(r)
	}
}

// schedule (re)arms the expiry timer of a live room. remove drops the room
// before it takes timersMu, so a room evicted concurrently gets no timer.
func (m *RoomManager) schedule(id domain.RoomID) {
	if m.idle <= 0 || m.drained.Load() {
		return
	}
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
	if _, ok := m.Get(id); !ok {
		return
	}
	m.timers[id] = time.AfterFunc(m.idle, func() { m.expire(id) })
}

func (m *RoomManager) cancelTimer(id domain.RoomID) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
}

// expire runs on the timer goroutine. Activity that happened without a
// Touch only postpones the eviction.
func (m *RoomManager) expire(id domain.RoomID) {
	room, ok := m.Get(id)
	if !ok {
		m.timersMu.Lock()
		if _, live := m.Get(id); !live {
			delete(m.timers, id)
		}
		m.timersMu.Unlock()
		return
	}
	if left := m.idle - m.now().Sub(room.LastActivity()); left > 0 {
		m.timersMu.Lock()
		if _, ok := m.timers[id]; ok {
			m.timers[id] = time.AfterFunc(left, func() { m.expire(id) })
		}
		m.timersMu.Unlock()
		return
	}
	m.Evict(id, "idle")
}

// Shutdown stops every expiry timer.
func (m *RoomManager) Shutdown() {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

// Drain freezes the store at the current room state before the server lets
// its connections go. It stops the expiry timers, queues a snapshot of every
// live room and seals the persister, so the leaves and evictions that follow
// as connections close never reach the store. Rooms are rehydrated from those
// snapshots after a restart. Calls after the first do nothing.
func (m *RoomManager) Drain() {
	if !m.drained.CompareAndSwap(false, true) {
		return
	}
	m.Shutdown()
	m.mu.RLock()
	rooms := make([]core.RoomService, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()
	for _, r := range rooms {
		if !r.Closed() {
			m.persist.SaveSnapshot(r.State())
		}
	}
	m.persist.Seal()
	log.Info().Str("module", "app.rooms").Int("rooms", len(rooms)).Msg("rooms drained to store")
}

package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHost(id, name string) domain.Participant {
	return domain.Participant{ID: domain.ParticipantID(id), Name: name}
}

func createTestRoom(m *RoomManager) core.RoomService {
	return m.CreateRoom("Movie Night", domain.Content{Title: "ShowX", Episode: "Ep1"}, newHost("alice", "Alice"), domain.DefaultSettings())
}

func TestRoomManager_CreateAndGet(t *testing.T) {
	m := NewRoomManager(nil, nil, RoomManagerConfig{})
	room := createTestRoom(m)

	got, ok := m.Get(room.ID())
	require.True(t, ok)
	assert.Equal(t, room, got)
	assert.Equal(t, 1, m.Count())

	snap := room.Snapshot()
	require.Len(t, snap.Participants, 1)
	assert.True(t, snap.Participants[0].IsHost)
	assert.Equal(t, domain.HostRef{ID: "alice", Name: "Alice"}, snap.Room.Host)
	assert.NotEmpty(t, snap.Room.ID)
	assert.False(t, snap.Playback.Playing)
	assert.Empty(t, snap.Messages)

	infos := m.List()
	require.Len(t, infos, 1)
	assert.Equal(t, 1, infos[0].MemberCount)
}

func TestRoomManager_GetOrLoadWithoutStore(t *testing.T) {
	m := NewRoomManager(nil, nil, RoomManagerConfig{})
	_, err := m.GetOrLoad(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrRoomNotFound)
}

func TestRoomManager_EvictIfEmpty(t *testing.T) {
	m := NewRoomManager(nil, nil, RoomManagerConfig{})
	room := createTestRoom(m)

	assert.False(t, m.EvictIfEmpty(room.ID()), "host is still inside")

	_, err := room.Leave("alice", "")
	require.NoError(t, err)
	var evicted []domain.RoomID
	m.OnEvict(func(r core.RoomService, _ []core.MemberSession) { evicted = append(evicted, r.ID()) })
	assert.True(t, m.EvictIfEmpty(room.ID()))

	_, ok := m.Get(room.ID())
	assert.False(t, ok)
	assert.Equal(t, []domain.RoomID{room.ID()}, evicted)
	_, err = m.GetOrLoad(context.Background(), room.ID())
	assert.ErrorIs(t, err, core.ErrRoomNotFound)
}

func TestRoomManager_RehydratesFromStore(t *testing.T) {
	store := newMemStore()
	t0 := time.Now()
	store.rooms["abc"] = core.RoomState{
		Room: domain.Room{ID: "abc", Name: "Saved", Host: domain.HostRef{ID: "bob", Name: "Bob"}, LastActivity: t0},
		Participants: []domain.Participant{
			{ID: "carol", Name: "Carol", JoinedAt: t0.Add(time.Second)},
			{ID: "bob", Name: "Bob", IsHost: true, JoinedAt: t0},
		},
	}
	for i := 0; i < 70; i++ {
		store.messages["abc"] = append(store.messages["abc"], domain.Message{ID: string(rune('a' + i%26)), Content: "hi"})
	}
	m := NewRoomManager(store, nil, RoomManagerConfig{})

	room, err := m.GetOrLoad(context.Background(), "abc")
	require.NoError(t, err)
	snap := room.Snapshot()
	require.Len(t, snap.Participants, 2)
	assert.Equal(t, domain.ParticipantID("bob"), snap.Participants[0].ID)
	assert.Equal(t, domain.ParticipantID("bob"), snap.Room.Host.ID)
	assert.Len(t, snap.Messages, domain.SnapshotMessages)

	again, err := m.GetOrLoad(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, room, again)
	assert.EqualValues(t, 1, store.loads.Load())
}

func TestRoomManager_ConcurrentLoadsShareOneRead(t *testing.T) {
	store := newMemStore()
	store.rooms["abc"] = core.RoomState{
		Room:         domain.Room{ID: "abc", Name: "Saved", Host: domain.HostRef{ID: "bob", Name: "Bob"}},
		Participants: []domain.Participant{{ID: "bob", Name: "Bob", IsHost: true}},
	}
	store.gate = make(chan struct{})
	m := NewRoomManager(store, nil, RoomManagerConfig{})

	var wg sync.WaitGroup
	results := make([]core.RoomService, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := m.GetOrLoad(context.Background(), "abc")
			assert.NoError(t, err)
			results[i] = room
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
	assert.EqualValues(t, 1, store.loads.Load())
	assert.Equal(t, 1, m.Count())
}

func TestRoomManager_EmptyPersistedRoomIsNotFound(t *testing.T) {
	store := newMemStore()
	store.rooms["abc"] = core.RoomState{Room: domain.Room{ID: "abc", Name: "Saved"}}
	p := NewPersister(store, 8, time.Second)
	stop := startPersister(p)
	m := NewRoomManager(store, p, RoomManagerConfig{})

	_, err := m.GetOrLoad(context.Background(), "abc")
	assert.ErrorIs(t, err, core.ErrRoomNotFound)
	stop()

	_, ok := store.room("abc")
	assert.False(t, ok, "empty room is removed from the store")
}

func TestRoomManager_EvictedRoomIsNotResurrectedFromStaleStore(t *testing.T) {
	store := newMemStore()
	m := NewRoomManager(store, nil, RoomManagerConfig{})
	room := createTestRoom(m)
	// The delete has not reached the store yet.
	store.rooms[room.ID()] = room.State()

	require.True(t, m.Evict(room.ID(), "idle"))
	_, err := m.GetOrLoad(context.Background(), room.ID())
	assert.ErrorIs(t, err, core.ErrRoomNotFound)
}

func TestRoomManager_EvictNotifiesSessions(t *testing.T) {
	m := NewRoomManager(nil, nil, RoomManagerConfig{})
	room := createTestRoom(m)
	_, err := room.Join(newHost("alice", "Alice"), core.NewMemberSession("s1", nopConn{}))
	require.NoError(t, err)

	var got []core.MemberSession
	m.OnEvict(func(_ core.RoomService, sessions []core.MemberSession) { got = sessions })
	require.True(t, m.Evict(room.ID(), "idle"))
	require.Len(t, got, 1)
	assert.Equal(t, core.SessionID("s1"), got[0].ID())
	assert.True(t, room.Closed())
	assert.False(t, m.Evict(room.ID(), "idle"), "second eviction is a no-op")
}

func TestRoomManager_SweepIdle(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	m := NewRoomManager(nil, nil, RoomManagerConfig{Now: clock})
	stale := createTestRoom(m)

	mu.Lock()
	now = now.Add(20 * time.Minute)
	mu.Unlock()
	fresh := createTestRoom(m)

	mu.Lock()
	now = now.Add(15 * time.Minute)
	mu.Unlock()

	assert.Equal(t, 1, m.SweepIdle(30*time.Minute))
	_, ok := m.Get(stale.ID())
	assert.False(t, ok)
	_, ok = m.Get(fresh.ID())
	assert.True(t, ok)
}

func TestRoomManager_ExpiryTimer(t *testing.T) {
	m := NewRoomManager(nil, nil, RoomManagerConfig{IdleTimeout: 30 * time.Millisecond})
	defer m.Shutdown()
	room := createTestRoom(m)

	assert.Eventually(t, func() bool {
		_, ok := m.Get(room.ID())
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestRoomManager_TouchPostponesExpiry(t *testing.T) {
	m := NewRoomManager(nil, nil, RoomManagerConfig{IdleTimeout: 80 * time.Millisecond})
	defer m.Shutdown()
	room := createTestRoom(m)

	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		m.Touch(room.ID())
	}
	_, ok := m.Get(room.ID())
	assert.True(t, ok)
}

func TestRoomManager_CreatePersists(t *testing.T) {
	store := newMemStore()
	p := NewPersister(store, 8, time.Second)
	stop := startPersister(p)
	m := NewRoomManager(store, p, RoomManagerConfig{})
	room := createTestRoom(m)
	stop()

	st, ok := store.room(room.ID())
	require.True(t, ok)
	assert.Equal(t, "Movie Night", st.Room.Name)
	require.Len(t, st.Participants, 1)
	assert.Equal(t, domain.ParticipantID("alice"), st.Participants[0].ID)
}

func TestRoomManager_DrainKeepsRoomsInStore(t *testing.T) {
	store := newMemStore()
	p := NewPersister(store, 16, time.Second)
	stop := startPersister(p)
	m := NewRoomManager(store, p, RoomManagerConfig{IdleTimeout: time.Hour})
	room := createTestRoom(m)
	_, err := room.Join(newHost("bob", "Bob"), core.NewMemberSession("s-bob", nopConn{}))
	require.NoError(t, err)

	m.Drain()
	m.Drain()
	assert.Zero(t, m.timerCount())

	// Connections close after the drain; their leave path runs as usual.
	_, err = room.Leave("bob", "s-bob")
	require.NoError(t, err)
	p.RemoveParticipant(room.ID(), "bob")
	_, err = room.Leave("alice", "")
	require.NoError(t, err)
	p.RemoveParticipant(room.ID(), "alice")
	assert.True(t, m.EvictIfEmpty(room.ID()))
	stop()

	ops := store.opLog()
	assert.NotContains(t, ops, "delete_room")
	assert.NotContains(t, ops, "remove_participant")
	assert.Equal(t, "save_room", ops[len(ops)-1])
	st, ok := store.room(room.ID())
	require.True(t, ok)
	assert.Len(t, st.Participants, 2)

	fresh := NewRoomManager(store, nil, RoomManagerConfig{})
	back, err := fresh.GetOrLoad(context.Background(), room.ID())
	require.NoError(t, err)
	assert.Len(t, back.Snapshot().Participants, 2)
}

func TestRoomManager_NoTimerOutlivesRoom(t *testing.T) {
	m := NewRoomManager(nil, nil, RoomManagerConfig{IdleTimeout: time.Hour})
	defer m.Shutdown()
	room := createTestRoom(m)
	assert.Equal(t, 1, m.timerCount())

	require.True(t, m.Evict(room.ID(), "idle"))
	assert.Zero(t, m.timerCount())

	// A Touch that looked the room up just before the eviction.
	m.schedule(room.ID())
	assert.Zero(t, m.timerCount())

	// A timer that fires for a room already gone clears its own entry.
	m.timersMu.Lock()
	m.timers[room.ID()] = time.AfterFunc(time.Hour, func() {})
	m.timersMu.Unlock()
	m.expire(room.ID())
	assert.Zero(t, m.timerCount())
}

func (m *RoomManager) timerCount() int {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	return len(m.timers)
}

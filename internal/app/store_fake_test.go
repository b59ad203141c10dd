package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
)

// memStore is an in-memory core.Store for tests.
type memStore struct {
	mu       sync.Mutex
	rooms    map[domain.RoomID]core.RoomState
	messages map[domain.RoomID][]domain.Message
	ops      []string

	loads   atomic.Int32
	gate    chan struct{}
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{
		rooms:    make(map[domain.RoomID]core.RoomState),
		messages: make(map[domain.RoomID][]domain.Message),
	}
}

func (s *memStore) record(op string) {
	s.ops = append(s.ops, op)
}

func (s *memStore) LoadRoom(ctx context.Context, id domain.RoomID) (core.RoomState, error) {
	s.loads.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[id]
	if !ok {
		return core.RoomState{}, core.ErrRoomNotFound
	}
	st.Participants = append([]domain.Participant(nil), st.Participants...)
	return st, nil
}

func (s *memStore) SaveRoom(ctx context.Context, st core.RoomState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("save_room")
	if s.saveErr != nil {
		return s.saveErr
	}
	st.Participants = append([]domain.Participant(nil), st.Participants...)
	s.rooms[st.Room.ID] = st
	return nil
}

func (s *memStore) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("delete_room")
	delete(s.rooms, id)
	delete(s.messages, id)
	return nil
}

func (s *memStore) SaveParticipant(ctx context.Context, roomID domain.RoomID, p domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("save_participant")
	st, ok := s.rooms[roomID]
	if !ok {
		return core.ErrRoomNotFound
	}
	for i := range st.Participants {
		if st.Participants[i].ID == p.ID {
			st.Participants[i] = p
			s.rooms[roomID] = st
			return nil
		}
	}
	st.Participants = append(st.Participants, p)
	s.rooms[roomID] = st
	return nil
}

func (s *memStore) RemoveParticipant(ctx context.Context, roomID domain.RoomID, id domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("remove_participant")
	st, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := st.Participants[:0:0]
	for _, p := range st.Participants {
		if p.ID != id {
			out = append(out, p)
		}
	}
	st.Participants = out
	s.rooms[roomID] = st
	return nil
}

func (s *memStore) SaveMessage(ctx context.Context, roomID domain.RoomID, m domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("save_message")
	s.messages[roomID] = append(s.messages[roomID], m)
	return nil
}

func (s *memStore) LoadRecentMessages(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[roomID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.Message(nil), msgs...), nil
}

func (s *memStore) SweepInactive(ctx context.Context, idle time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("sweep_inactive")
	n := 0
	for id, st := range s.rooms {
		if time.Since(st.Room.LastActivity) >= idle {
			delete(s.rooms, id)
			delete(s.messages, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) room(id domain.RoomID) (core.RoomState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[id]
	return st, ok
}

func (s *memStore) opLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

// startPersister runs p until the returned func is called, which drains it.
func startPersister(p *Persister) func() {
	go p.Run()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	}
}

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close()                   {}

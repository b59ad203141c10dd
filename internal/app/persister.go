package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/metrics"
	"github.com/rs/zerolog/log"
)

type persistJob struct {
	op   string
	room domain.RoomID
	run  func(ctx context.Context, s core.Store) error
}

// Persister applies store writes in order on a single goroutine so callers
// never wait on the database. Failed writes are logged and dropped; memory
// stays authoritative.
type Persister struct {
	store   core.Store
	jobs    chan persistJob
	timeout time.Duration
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewPersister returns a Persister; with a nil store every call is a no-op.
func NewPersister(store core.Store, queue int, timeout time.Duration) *Persister {
	if queue <= 0 {
		queue = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Persister{
		store:   store,
		jobs:    make(chan persistJob, queue),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

func (p *Persister) Enabled() bool { return p != nil && p.store != nil }

// Run consumes jobs until Stop is called and the queue is drained.
func (p *Persister) Run() {
	defer close(p.done)
	for job := range p.jobs {
		p.exec(job)
	}
}

// Seal refuses new jobs; queued ones still run.
func (p *Persister) Seal() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
}

// Stop refuses new jobs and waits for queued ones to finish or ctx to expire.
func (p *Persister) Stop(ctx context.Context) error {
	p.Seal()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Persister) exec(job persistJob) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := job.run(ctx, p.store); err != nil {
		metrics.PersistErrors.WithLabelValues(job.op).Inc()
		log.Warn().Err(err).Str("module", "app.persist").Str("op", job.op).Str("room", string(job.room)).Msg("store write failed")
	}
}

func (p *Persister) enqueue(job persistJob) {
	if !p.Enabled() {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.jobs <- job:
	default:
		metrics.PersistErrors.WithLabelValues(job.op).Inc()
		log.Warn().Str("module", "app.persist").Str("op", job.op).Str("room", string(job.room)).Msg("persist queue full, dropping write")
	}
}

// SaveRoom stores the room as it is when the job runs, not when it was queued.
// A room closed in the meantime is skipped so it is not written back after
// its delete.
func (p *Persister) SaveRoom(room core.RoomService) {
	p.enqueue(persistJob{op: "save_room", room: room.ID(), run: func(ctx context.Context, s core.Store) error {
		if room.Closed() {
			return nil
		}
		return s.SaveRoom(ctx, room.State())
	}})
}

// SaveSnapshot stores the room as it is now.
func (p *Persister) SaveSnapshot(state core.RoomState) {
	p.enqueue(persistJob{op: "save_room", room: state.Room.ID, run: func(ctx context.Context, s core.Store) error {
		return s.SaveRoom(ctx, state)
	}})
}

func (p *Persister) DeleteRoom(id domain.RoomID) {
	p.enqueue(persistJob{op: "delete_room", room: id, run: func(ctx context.Context, s core.Store) error {
		return s.DeleteRoom(ctx, id)
	}})
}

func (p *Persister) SaveParticipant(id domain.RoomID, pt domain.Participant) {
	p.enqueue(persistJob{op: "save_participant", room: id, run: func(ctx context.Context, s core.Store) error {
		return s.SaveParticipant(ctx, id, pt)
	}})
}

func (p *Persister) RemoveParticipant(id domain.RoomID, pid domain.ParticipantID) {
	p.enqueue(persistJob{op: "remove_participant", room: id, run: func(ctx context.Context, s core.Store) error {
		return s.RemoveParticipant(ctx, id, pid)
	}})
}

func (p *Persister) SaveMessage(id domain.RoomID, m domain.Message) {
	p.enqueue(persistJob{op: "save_message", room: id, run: func(ctx context.Context, s core.Store) error {
		return s.SaveMessage(ctx, id, m)
	}})
}

// SweepInactive runs the store-side sweep behind every write queued before it.
func (p *Persister) SweepInactive(idle time.Duration) {
	p.enqueue(persistJob{op: "sweep_inactive", run: func(ctx context.Context, s core.Store) error {
		n, err := s.SweepInactive(ctx, idle)
		if err != nil {
			return err
		}
		if n > 0 {
			metrics.StoreSwept.Add(float64(n))
			log.Info().Str("module", "app.persist").Int("rooms", n).Msg("store sweep removed inactive rooms")
		}
		return nil
	}})
}

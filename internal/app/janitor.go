package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Janitor periodically evicts idle rooms from memory and asks the store to
// forget rooms nobody has touched for the same period.
type Janitor struct {
	rooms    *RoomManager
	persist  *Persister
	interval time.Duration
	idle     time.Duration
}

func NewJanitor(rooms *RoomManager, persist *Persister, interval, idle time.Duration) *Janitor {
	return &Janitor{rooms: rooms, persist: persist, interval: interval, idle: idle}
}

// Run sweeps every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	if j.interval <= 0 || j.idle <= 0 {
		log.Info().Str("module", "app.janitor").Msg("cleanup disabled")
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	log.Info().Str("module", "app.janitor").Dur("interval", j.interval).Dur("idle", j.idle).Msg("janitor started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.RunOnce()
		}
	}
}

// RunOnce performs a single sweep.
func (j *Janitor) RunOnce() int {
	evicted := j.rooms.SweepIdle(j.idle)
	if j.persist.Enabled() {
		// Refresh live rooms first so the store sweep only hits abandoned ones.
		j.rooms.PersistAll()
		j.persist.SweepInactive(j.idle)
	}
	if evicted > 0 {
		log.Info().Str("module", "app.janitor").Int("evicted", evicted).Int("rooms", j.rooms.Count()).Msg("idle rooms evicted")
	}
	return evicted
}

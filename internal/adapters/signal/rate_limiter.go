package signal

import (
	"sync"
	"time"

	"github.com/dkeye/WatchParty/internal/domain"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// RoomRateLimiter is a token bucket per participant, so reconnecting or
// opening a second tab does not reset the budget. A full bucket holds limit
// messages and refills over interval.
type RoomRateLimiter struct {
	mu       sync.Mutex
	buckets  map[domain.ParticipantID]*limiterEntry
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	return &RoomRateLimiter{
		buckets:  make(map[domain.ParticipantID]*limiterEntry),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RoomRateLimiter) Allow(pid domain.ParticipantID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e, ok := rl.buckets[pid]
	if !ok {
		rl.prune(now)
		e = &limiterEntry{l: rate.NewLimiter(rate.Every(rl.interval/time.Duration(rl.limit)), rl.limit)}
		rl.buckets[pid] = e
	}
	e.lastSeen = now
	return e.l.AllowN(now, 1)
}

// prune drops participants idle long enough for their bucket to be full again.
func (rl *RoomRateLimiter) prune(now time.Time) {
	if len(rl.buckets) < 1024 {
		return
	}
	cutoff := now.Add(-rl.interval)
	for pid, e := range rl.buckets {
		if e.lastSeen.Before(cutoff) {
			delete(rl.buckets, pid)
		}
	}
}

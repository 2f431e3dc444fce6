// Package throttle limits how fast a single user may send messages.
package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultInterval is the minimum gap between two sends of one user
	DefaultInterval = time.Second

	// DefaultIdleTTL is how long an untouched record is kept
	DefaultIdleTTL = 10 * time.Minute
)

type record struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Guard allows one send per interval per user. Each user gets a token bucket
// of size one refilled every interval, so a send is allowed iff at least one
// interval elapsed since the last allowed send. Denied calls leave the record
// untouched.
type Guard struct {
	mu        sync.Mutex
	records   map[string]*record
	interval  time.Duration
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// New creates a guard. Zero values fall back to the defaults.
func New(interval, idleTTL time.Duration) *Guard {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	// An evicted record must be one that would have allowed the next send anyway
	idleTTL = max(idleTTL, interval)

	return &Guard{
		records:  make(map[string]*record),
		interval: interval,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// Interval returns the configured minimum gap
func (g *Guard) Interval() time.Duration {
	return g.interval
}

// Allow checks and records a send for userID at the current time
func (g *Guard) Allow(userID string) bool {
	return g.AllowAt(userID, g.now())
}

// AllowAt checks and records a send for userID at the given time. The check
// and the update happen under one lock.
func (g *Guard) AllowAt(userID string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Lazy sweep, at most once per idle period
	if now.Sub(g.lastSweep) >= g.idleTTL {
		g.sweepLocked(now)
	}

	rec, ok := g.records[userID]
	if !ok {
		rec = &record{limiter: rate.NewLimiter(rate.Every(g.interval), 1)}
		g.records[userID] = rec
	}
	rec.lastUsed = now
	return rec.limiter.AllowN(now, 1)
}

// Sweep evicts records untouched for longer than the idle TTL
func (g *Guard) Sweep(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sweepLocked(now)
}

func (g *Guard) sweepLocked(now time.Time) int {
	g.lastSweep = now
	evicted := 0
	for userID, rec := range g.records {
		if now.Sub(rec.lastUsed) >= g.idleTTL {
			delete(g.records, userID)
			evicted++
		}
	}
	return evicted
}

// Run sweeps periodically until ctx is cancelled
func (g *Guard) Run(ctx context.Context) {
	ticker := time.NewTicker(g.idleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep(g.now())
		}
	}
}

// Len returns the number of tracked users
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records)
}

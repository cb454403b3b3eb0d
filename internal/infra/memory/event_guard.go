package memory

import (
	"context"
	"sync"
	"time"
)

// EventGuard remembers handled event keys in-process for ttl.
type EventGuard struct {
	ttl   time.Duration
	clock func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewEventGuard(ttl time.Duration) *EventGuard {
	return &EventGuard{
		ttl:   ttl,
		clock: time.Now,
		seen:  make(map[string]time.Time),
	}
}

// FirstDelivery reports whether key has not been seen within ttl, and marks it seen.
func (g *EventGuard) FirstDelivery(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	if expires, ok := g.seen[key]; ok && expires.After(now) {
		return false, nil
	}
	g.seen[key] = now.Add(g.ttl)
	if len(g.seen)%256 == 0 {
		g.sweepLocked(now)
	}
	return true, nil
}

// Release forgets key.
func (g *EventGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	delete(g.seen, key)
	g.mu.Unlock()
	return nil
}

func (g *EventGuard) sweepLocked(now time.Time) {
	for k, expires := range g.seen {
		if !expires.After(now) {
			delete(g.seen, k)
		}
	}
}

package enrich

import (
	"context"
	"sync"
	"time"
)

// DefaultDelay is the minimum spacing between outbound service calls.
const DefaultDelay = time.Second

// Gate enforces a minimum delay between successive outbound calls across
// the whole run. The gate is shared by every worker: the external service
// is rate-limited by caller identity, so the constraint is global, not
// per-entity. Callers block in Wait until their dispatch slot opens; the
// mutex is held for the duration, which strictly serializes dispatch.
type Gate struct {
	Delay time.Duration

	// Now and Sleep are injectable for fake-clock tests.
	Now   func() time.Time
	Sleep func(time.Duration)

	mu   sync.Mutex
	last time.Time
}

// Wait blocks until at least Delay has elapsed since the previous dispatch,
// then claims the slot. Returns early with the context error if the run is
// cancelled before the slot opens.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	delay := g.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}

	now := g.now()
	if !g.last.IsZero() {
		if wait := delay - now.Sub(g.last); wait > 0 {
			if err := g.pause(ctx, wait); err != nil {
				return err
			}
			now = g.now()
		}
	}
	g.last = now
	return nil
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *Gate) pause(ctx context.Context, d time.Duration) error {
	if g.Sleep != nil {
		g.Sleep(d)
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

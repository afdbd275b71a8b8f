package bucket

import (
	"context"
	"sync"
)

// InitCache memoizes successful per-namespace index initialization so the
// engine's EnsureIndex runs once per process per bucket instead of once per
// request. It is constructed at startup and shared by every gateway call.
// Failed initializations are not cached; the next call retries.
type InitCache struct {
	mu      sync.Mutex
	entries map[string]*initEntry
}

// initEntry carries the per-namespace lock so a slow initialization only
// blocks callers of the same namespace.
type initEntry struct {
	mu    sync.Mutex
	ready bool
}

func NewInitCache() *InitCache {
	return &InitCache{entries: make(map[string]*initEntry)}
}

// Ensure runs init for the namespace unless a previous call already
// succeeded. Concurrent callers for the same namespace serialize; the
// loser observes the winner's success and skips its own init. Callers
// for other namespaces proceed independently.
func (c *InitCache) Ensure(ctx context.Context, namespace string, init func(context.Context, string) error) error {
	c.mu.Lock()
	e := c.entries[namespace]
	if e == nil {
		e = &initEntry{}
		c.entries[namespace] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ready {
		return nil
	}
	if err := init(ctx, namespace); err != nil {
		return err
	}
	e.ready = true

	return nil
}

// Invalidate forgets the namespace so the next Ensure reinitializes it.
// Called when a bucket is deleted.
func (c *InitCache) Invalidate(namespace string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, namespace)
}

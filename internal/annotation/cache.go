package annotation

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gj2101/boutview/internal/kv"
)

const (
	sweepEvery = time.Minute
	idleAfter  = 10 * time.Minute
)

type entry struct {
	store    *Store
	refs     int
	lastUsed time.Time
}

// Cache hands out one Store per scope so every writer of a scope shares its lock. Scopes no
// session holds are dropped once they have been idle for a while; their data stays in kv.
type Cache struct {
	kv    kv.Store
	clock clockwork.Clock

	mu        sync.Mutex
	entries   map[Scope]*entry
	lastSweep time.Time
}

func NewCache(store kv.Store) *Cache {
	return NewCacheWithClock(clockwork.NewRealClock(), store)
}

func NewCacheWithClock(clock clockwork.Clock, store kv.Store) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{kv: store, clock: clock, entries: make(map[Scope]*entry), lastSweep: clock.Now()}
}

// Get returns the store of scope for the duration of one request.
func (c *Cache) Get(ctx context.Context, scope Scope) (*Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.get(ctx, scope)
	if err != nil {
		return nil, err
	}
	return e.store, nil
}

// Acquire returns the store of scope and keeps it cached until a matching Release.
func (c *Cache) Acquire(ctx context.Context, scope Scope) (*Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.get(ctx, scope)
	if err != nil {
		return nil, err
	}
	e.refs++
	return e.store, nil
}

func (c *Cache) Release(scope Scope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[scope]
	if !ok || e.refs == 0 {
		return
	}
	e.refs--
	e.lastUsed = c.clock.Now()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// get looks up or opens scope. Callers hold mu.
func (c *Cache) get(ctx context.Context, scope Scope) (*entry, error) {
	now := c.clock.Now()
	if now.Sub(c.lastSweep) >= sweepEvery {
		c.sweep(now)
	}
	if e, ok := c.entries[scope]; ok {
		e.lastUsed = now
		return e, nil
	}
	s, err := Open(ctx, c.kv, scope)
	if err != nil {
		return nil, err
	}
	e := &entry{store: s, lastUsed: now}
	c.entries[scope] = e
	return e, nil
}

// sweep drops unreferenced scopes idle for longer than idleAfter. Callers hold mu.
func (c *Cache) sweep(now time.Time) {
	c.lastSweep = now
	for scope, e := range c.entries {
		if e.refs == 0 && now.Sub(e.lastUsed) > idleAfter {
			delete(c.entries, scope)
		}
	}
}

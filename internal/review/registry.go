package review

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/gj2101/boutview/internal/annotation"
	"github.com/gj2101/boutview/internal/kv"
)

const (
	DefaultIdleTimeout = 30 * time.Minute
	idleSweepEvery     = time.Minute
)

// Registry keeps the open sessions of a server by id. Sessions without a subscriber that see
// no request for IdleTimeout are closed.
type Registry struct {
	cfg  Config
	done chan struct{}
	once sync.Once

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry fills in the shared store, clock and annotation cache once so every session of
// the registry runs on the same ones.
func NewRegistry(cfg Config) *Registry {
	if cfg.Store == nil {
		cfg.Store = kv.NewMemory()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Annotations == nil {
		cfg.Annotations = annotation.NewCacheWithClock(cfg.Clock, cfg.Store)
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	r := &Registry{cfg: cfg, done: make(chan struct{}), sessions: make(map[string]*Session)}
	go r.sweep()
	return r
}

func (r *Registry) Annotations() *annotation.Cache {
	return r.cfg.Annotations
}

func (r *Registry) Create(ctx context.Context, req Request) (*Session, error) {
	s, err := Open(ctx, uuid.NewString(), r.cfg, req)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	slog.Info("review: session opened", "session_id", s.ID(), "base_url", req.BaseURL)
	return s, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.touch()
	return s, nil
}

func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Close()
	slog.Info("review: session closed", "session_id", id)
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) sweep() {
	ticker := r.cfg.Clock.NewTicker(idleSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.Chan():
			r.closeIdle()
		}
	}
}

// closeIdle ends the sessions idle for longer than the timeout.
func (r *Registry) closeIdle() {
	now := r.cfg.Clock.Now()
	var idle []*Session
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.idleFor(now) > r.cfg.IdleTimeout {
			idle = append(idle, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()
	for _, s := range idle {
		s.Close()
		slog.Info("review: idle session closed", "session_id", s.ID())
	}
}

// Close ends every session and the idle sweeper.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.done) })
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

// Package ratelimit is a per-client token bucket for annotation writes and session commands.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gj2101/boutview/internal/httputil"
)

const (
	sweepEvery = 5 * time.Minute
	idleAfter  = 10 * time.Minute
)

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

type Limiter struct {
	clock clockwork.Clock
	rate  float64
	burst float64
	done  chan struct{}
	once  sync.Once

	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	return NewLimiterWithClock(clockwork.NewRealClock(), requestsPerSecond, burst)
}

func NewLimiterWithClock(clock clockwork.Clock, requestsPerSecond float64, burst int) *Limiter {
	l := &Limiter{
		clock:   clock,
		rate:    requestsPerSecond,
		burst:   float64(burst),
		done:    make(chan struct{}),
		buckets: make(map[string]*bucket),
	}
	go l.sweep()
	return l
}

// Allow takes a token for key when one is available.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: l.burst - 1, lastSeen: now}
		return true
	}

	b.tokens += now.Sub(b.lastSeen).Seconds() * l.rate
	b.lastSeen = now
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RetryAfter is how long until key earns its next token.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok || b.tokens >= 1 || l.rate <= 0 {
		return 0
	}
	return time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
}

func (l *Limiter) sweep() {
	ticker := l.clock.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.Chan():
			now := l.clock.Now()
			l.mu.Lock()
			for key, b := range l.buckets {
				if now.Sub(b.lastSeen) > idleAfter {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Stop ends the idle-bucket sweeper.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.done) })
}

func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httputil.ClientIP(r)
		if !l.Allow(ip) {
			seconds := int(l.RetryAfter(ip).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			httputil.WriteError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

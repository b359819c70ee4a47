// Package clock is the shared playback clock every media element of a review session follows.
package clock

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gj2101/boutview/internal/kv"
)

// PositionKey is where the playback position is persisted.
const PositionKey = "playback/position"

const (
	DefaultInterval   = time.Second
	DefaultFixedTotal = 360.0
)

// Mode selects how the timeline length is decided.
type Mode string

const (
	// Derived follows the longest media duration reported so far.
	Derived Mode = "derived"
	// Fixed uses a constant length and ignores reported durations.
	Fixed Mode = "fixed"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", Derived:
		return Derived, nil
	case Fixed:
		return Fixed, nil
	}
	return "", fmt.Errorf("unknown duration mode %q", s)
}

type State struct {
	CurrentTime   float64 `json:"currentTime"`
	IsPlaying     bool    `json:"isPlaying"`
	TotalDuration float64 `json:"totalDuration"`
}

type Config struct {
	Clock      clockwork.Clock
	Store      kv.Store
	Mode       Mode
	FixedTotal float64
	Interval   time.Duration
}

// Timekeeper advances the current time by one interval per tick while playing and stops at the
// end of the timeline. It owns at most one ticker at a time.
type Timekeeper struct {
	clock    clockwork.Clock
	store    kv.Store
	mode     Mode
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	state   State
	pending float64
	gen     uint64
	stop    chan struct{}
	closed  bool
	subs    map[int]chan State
	nextSub int
}

// New builds a paused Timekeeper and restores the persisted position. A position beyond the
// current total is held until the total grows to reach it.
func New(ctx context.Context, cfg Config) (*Timekeeper, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Store == nil {
		cfg.Store = kv.NewMemory()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Mode == "" {
		cfg.Mode = Derived
	}

	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &Timekeeper{
		clock:    cfg.Clock,
		store:    cfg.Store,
		mode:     cfg.Mode,
		interval: cfg.Interval,
		ctx:      tctx,
		cancel:   cancel,
		subs:     make(map[int]chan State),
	}
	if cfg.Mode == Fixed {
		t.state.TotalDuration = cfg.FixedTotal
		if t.state.TotalDuration <= 0 {
			t.state.TotalDuration = DefaultFixedTotal
		}
	}

	raw, found, err := cfg.Store.Get(ctx, PositionKey)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load position: %w", err)
	}
	if found {
		pos, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(pos) || pos < 0 {
			slog.Warn("clock: ignoring stored position", "value", raw)
		} else if pos <= t.state.TotalDuration {
			t.state.CurrentTime = pos
		} else {
			t.pending = pos
		}
	}
	return t, nil
}

func (t *Timekeeper) Mode() Mode {
	return t.mode
}

func (t *Timekeeper) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Timekeeper) Play() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.state.IsPlaying {
		return
	}
	t.state.IsPlaying = true
	t.reschedule()
	t.publish()
}

func (t *Timekeeper) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.IsPlaying {
		return
	}
	t.state.IsPlaying = false
	t.reschedule()
	t.publish()
}

// Toggle flips between playing and paused and returns the new play state.
func (t *Timekeeper) Toggle() bool {
	t.mu.Lock()
	playing := t.state.IsPlaying
	t.mu.Unlock()
	if playing {
		t.Pause()
	} else {
		t.Play()
	}
	return !playing
}

// Reset pauses, rewinds to zero and forgets the persisted position.
func (t *Timekeeper) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasPlaying := t.state.IsPlaying
	t.state.IsPlaying = false
	t.state.CurrentTime = 0
	t.pending = 0
	if wasPlaying {
		t.reschedule()
	}
	t.publish()
	if err := t.store.Remove(ctx, PositionKey); err != nil {
		return fmt.Errorf("remove position: %w", err)
	}
	return nil
}

// Seek moves to to, clamped to the timeline, in either state and persists it.
func (t *Timekeeper) Seek(ctx context.Context, to float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if math.IsNaN(to) {
		return fmt.Errorf("seek: invalid time")
	}
	t.state.CurrentTime = math.Max(0, math.Min(t.state.TotalDuration, to))
	t.pending = 0
	t.publish()
	return t.persist(ctx)
}

// SetTotalDuration extends the timeline in derived mode. Shorter values and fixed mode are
// ignored.
func (t *Timekeeper) SetTotalDuration(d float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mode == Fixed || math.IsNaN(d) || d <= t.state.TotalDuration {
		return
	}
	t.state.TotalDuration = d
	if t.pending > 0 && t.pending <= d {
		t.state.CurrentTime = t.pending
		t.pending = 0
	}
	if t.state.IsPlaying {
		t.reschedule()
	}
	t.publish()
}

// Tick advances a playing clock by one interval. The ticker calls it; it is exported so
// callers can drive the clock by hand.
func (t *Timekeeper) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advance()
}

func (t *Timekeeper) tick(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return
	}
	t.advance()
}

// advance reads state at fire time. Callers hold mu.
func (t *Timekeeper) advance() {
	if !t.state.IsPlaying {
		return
	}
	next := t.state.CurrentTime + t.interval.Seconds()
	if next > t.state.TotalDuration {
		t.state.CurrentTime = t.state.TotalDuration
		t.state.IsPlaying = false
		t.reschedule()
	} else {
		t.state.CurrentTime = next
	}
	t.publish()
	if err := t.persist(t.ctx); err != nil {
		slog.Warn("clock: persist position failed", "error", err)
	}
}

// reschedule stops the outstanding ticker and starts a new one when playing. Callers hold mu.
func (t *Timekeeper) reschedule() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.gen++
	if !t.state.IsPlaying || t.closed {
		return
	}
	stop := make(chan struct{})
	t.stop = stop
	ticker := t.clock.NewTicker(t.interval)
	go t.run(ticker, stop, t.gen)
}

func (t *Timekeeper) run(ticker clockwork.Ticker, stop <-chan struct{}, gen uint64) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			t.tick(gen)
		}
	}
}

func (t *Timekeeper) persist(ctx context.Context) error {
	value := strconv.FormatFloat(t.state.CurrentTime, 'f', -1, 64)
	if err := t.store.Set(ctx, PositionKey, value); err != nil {
		return fmt.Errorf("persist position: %w", err)
	}
	return nil
}

// Subscribe returns a channel that always holds the latest state. Slow readers miss
// intermediate states, never the last one.
func (t *Timekeeper) Subscribe() (<-chan State, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan State, 1)
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	ch <- t.state
	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

func (t *Timekeeper) publish() {
	for _, ch := range t.subs {
		select {
		case <-ch:
		default:
		}
		ch <- t.state
	}
}

// Close stops the ticker. The Timekeeper stays readable but no longer plays.
func (t *Timekeeper) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.state.IsPlaying = false
	t.reschedule()
	t.cancel()
	t.publish()
}

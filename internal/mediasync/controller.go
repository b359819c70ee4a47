// Package mediasync keeps media elements aligned with the shared clock.
package mediasync

import (
	"log/slog"
	"math"
	"path"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultTolerance = 0.5
	DefaultSeekDelay = time.Second
)

// Element is one playable video or audio stream.
type Element interface {
	Position() float64
	Seek(t float64)
	Play() error
	Pause()
}

// Display is element-local presentation state. The clock never touches it.
type Display struct {
	Muted   bool `json:"muted"`
	Flipped bool `json:"flipped"`
}

// DefaultFlip mirrors the camera that is mounted upside down.
func DefaultFlip(id string) bool {
	return path.Base(id) == "video_burrow_side_50.mp4"
}

type Config struct {
	Clock     clockwork.Clock
	Tolerance float64
	SeekDelay time.Duration
	Flip      func(id string) bool
	Durations *Durations
}

type tracked struct {
	el       Element
	synced   bool
	playing  bool
	reported map[float64]bool
	seeking  bool
	seekedAt time.Time
}

type Controller struct {
	clock     clockwork.Clock
	tolerance float64
	seekDelay time.Duration
	flip      func(string) bool
	durations *Durations

	mu       sync.Mutex
	elements map[string]*tracked
	display  map[string]Display
}

func NewController(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.SeekDelay <= 0 {
		cfg.SeekDelay = DefaultSeekDelay
	}
	if cfg.Flip == nil {
		cfg.Flip = DefaultFlip
	}
	if cfg.Durations == nil {
		cfg.Durations = NewDurations()
	}
	return &Controller{
		clock:     cfg.Clock,
		tolerance: cfg.Tolerance,
		seekDelay: cfg.SeekDelay,
		flip:      cfg.Flip,
		durations: cfg.Durations,
		elements:  make(map[string]*tracked),
		display:   make(map[string]Display),
	}
}

func (c *Controller) Durations() *Durations {
	return c.durations
}

// Attach starts tracking el under id, replacing any element already there.
func (c *Controller) Attach(id string, el Element) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.elements[id] = &tracked{el: el, reported: make(map[float64]bool)}
	if _, ok := c.display[id]; !ok {
		c.display[id] = Display{Flipped: c.flip(id)}
	}
}

func (c *Controller) Detach(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.elements, id)
}

func (c *Controller) Attached() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.elements))
	for id := range c.elements {
		ids = append(ids, id)
	}
	return ids
}

// Sync seeks every element that drifted more than the tolerance from t and mirrors the play
// state into elements whose last mirrored state differs. Rejected plays leave the element
// paused.
func (c *Controller) Sync(t float64, playing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, tr := range c.elements {
		if math.Abs(tr.el.Position()-t) > c.tolerance {
			tr.el.Seek(t)
		}
		if tr.synced && tr.playing == playing {
			continue
		}
		tr.synced = true
		tr.playing = playing
		if !playing {
			tr.el.Pause()
			continue
		}
		if err := tr.el.Play(); err != nil {
			slog.Debug("mediasync: play rejected", "element", id, "error", err)
		}
	}
}

// ReportDuration records the natural duration of an element once per distinct value.
func (c *Controller) ReportDuration(id string, d float64) {
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return
	}
	c.mu.Lock()
	tr, ok := c.elements[id]
	if !ok || tr.reported[d] {
		c.mu.Unlock()
		return
	}
	tr.reported[d] = true
	c.mu.Unlock()

	c.durations.Report(d)
}

func (c *Controller) SeekStarted(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tr, ok := c.elements[id]; ok && !tr.seeking {
		tr.seeking = true
		tr.seekedAt = c.clock.Now()
	}
}

func (c *Controller) SeekFinished(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tr, ok := c.elements[id]; ok {
		tr.seeking = false
	}
}

// Seeking reports whether id has an internal seek in flight.
func (c *Controller) Seeking(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	tr, ok := c.elements[id]
	return ok && tr.seeking
}

// SeekingVisible is Seeking debounced: only seeks pending longer than the delay show.
func (c *Controller) SeekingVisible(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	tr, ok := c.elements[id]
	return ok && tr.seeking && c.clock.Since(tr.seekedAt) >= c.seekDelay
}

func (c *Controller) SetMuted(id string, muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.display[id]
	d.Muted = muted
	c.display[id] = d
}

func (c *Controller) SetFlipped(id string, flipped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.display[id]
	d.Flipped = flipped
	c.display[id] = d
}

func (c *Controller) Display(id string) Display {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.display[id]
}

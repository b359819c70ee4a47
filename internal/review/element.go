package review

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Command is a correction the browser must apply to one of its media elements.
type Command struct {
	Element string  `json:"element"`
	Op      string  `json:"op"`
	Time    float64 `json:"time,omitempty"`
}

const (
	OpSeek  = "seek"
	OpPlay  = "play"
	OpPause = "pause"
)

// remoteElement stands in for a media element living in a browser. Commands are forwarded to
// the session's subscribers; positions come back through reports.
type remoteElement struct {
	id    string
	clock clockwork.Clock
	emit  func(Command)

	mu       sync.Mutex
	position float64
	at       time.Time
	playing  bool
}

func newRemoteElement(id string, clock clockwork.Clock, emit func(Command)) *remoteElement {
	return &remoteElement{id: id, clock: clock, emit: emit, at: clock.Now()}
}

// Position extrapolates the last known position while the element plays.
func (e *remoteElement) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.playing {
		return e.position
	}
	return e.position + e.clock.Since(e.at).Seconds()
}

// Seek assumes the browser lands on t until it reports otherwise.
func (e *remoteElement) Seek(t float64) {
	e.set(t, nil)
	e.emit(Command{Element: e.id, Op: OpSeek, Time: t})
}

// Play never fails here; autoplay refusals happen in the browser.
func (e *remoteElement) Play() error {
	playing := true
	e.set(e.Position(), &playing)
	e.emit(Command{Element: e.id, Op: OpPlay})
	return nil
}

func (e *remoteElement) Pause() {
	playing := false
	e.set(e.Position(), &playing)
	e.emit(Command{Element: e.id, Op: OpPause})
}

func (e *remoteElement) report(position float64) {
	e.set(position, nil)
}

func (e *remoteElement) set(position float64, playing *bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = position
	e.at = e.clock.Now()
	if playing != nil {
		e.playing = *playing
	}
}

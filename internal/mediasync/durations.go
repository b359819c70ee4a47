package mediasync

import (
	"math"
	"sync"
)

// Durations is the running maximum of every media duration reported for a session.
type Durations struct {
	mu     sync.Mutex
	total  float64
	onGrow []func(float64)
}

func NewDurations() *Durations {
	return &Durations{}
}

// OnGrow registers fn to be called with the new total whenever it increases.
func (d *Durations) OnGrow(fn func(float64)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onGrow = append(d.onGrow, fn)
}

// Report folds v into the total and reports whether the total grew.
func (d *Durations) Report(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return false
	}
	d.mu.Lock()
	if v <= d.total {
		d.mu.Unlock()
		return false
	}
	d.total = v
	listeners := append([]func(float64){}, d.onGrow...)
	d.mu.Unlock()

	for _, fn := range listeners {
		fn(v)
	}
	return true
}

func (d *Durations) Total() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

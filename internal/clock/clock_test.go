package clock

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gj2101/boutview/internal/kv"
)

func newFixed(t *testing.T, store kv.Store, total float64) (*Timekeeper, clockwork.FakeClock) {
	t.Helper()
	fake := clockwork.NewFakeClock()
	tk, err := New(context.Background(), Config{Clock: fake, Store: store, Mode: Fixed, FixedTotal: total})
	if err != nil {
		t.Fatalf("new timekeeper: %v", err)
	}
	t.Cleanup(tk.Close)
	return tk, fake
}

func waitFor(t *testing.T, ch <-chan State, cond func(State) bool) State {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if cond(s) {
				return s
			}
		case <-deadline:
			t.Fatal("timed out waiting for clock state")
			return State{}
		}
	}
}

func TestSeek_Clamps(t *testing.T) {
	tk, _ := newFixed(t, kv.NewMemory(), 100)
	ctx := context.Background()

	if err := tk.Seek(ctx, -5); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := tk.State().CurrentTime; got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
	if err := tk.Seek(ctx, 200); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := tk.State().CurrentTime; got != 100 {
		t.Errorf("expected 100, got %v", got)
	}
}

func TestTick_AutoStopAtEnd(t *testing.T) {
	tk, _ := newFixed(t, kv.NewMemory(), 10)
	ctx := context.Background()

	if err := tk.Seek(ctx, 9.5); err != nil {
		t.Fatalf("seek: %v", err)
	}
	tk.Play()
	tk.Tick()

	s := tk.State()
	if s.CurrentTime != 10 || s.IsPlaying {
		t.Fatalf("expected clamp to 10 and paused, got %+v", s)
	}
	tk.Tick()
	if got := tk.State(); got != s {
		t.Errorf("expected paused clock to ignore ticks, got %+v", got)
	}
}

func TestTick_LandingOnEndKeepsPlaying(t *testing.T) {
	tk, _ := newFixed(t, kv.NewMemory(), 10)
	ctx := context.Background()

	if err := tk.Seek(ctx, 9); err != nil {
		t.Fatalf("seek: %v", err)
	}
	tk.Play()
	tk.Tick()
	if got := tk.State(); got.CurrentTime != 10 || !got.IsPlaying {
		t.Fatalf("expected 10s still playing, got %+v", got)
	}

	tk.Tick()
	if got := tk.State(); got.CurrentTime != 10 || got.IsPlaying {
		t.Errorf("expected the next tick to stop at 10, got %+v", got)
	}
}

func TestTick_AdvancesOneSecond(t *testing.T) {
	tk, _ := newFixed(t, kv.NewMemory(), 10)
	tk.Play()
	tk.Tick()
	tk.Tick()
	if got := tk.State(); got.CurrentTime != 2 || !got.IsPlaying {
		t.Errorf("expected 2s playing, got %+v", got)
	}
}

func TestTick_PausedDoesNothing(t *testing.T) {
	tk, _ := newFixed(t, kv.NewMemory(), 10)
	tk.Tick()
	if got := tk.State().CurrentTime; got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}

func TestPlay_TickerDrivesClock(t *testing.T) {
	tk, fake := newFixed(t, kv.NewMemory(), 3)
	states, cancel := tk.Subscribe()
	defer cancel()

	tk.Play()
	for want := 1.0; want <= 2; want++ {
		fake.Advance(time.Second)
		w := want
		waitFor(t, states, func(s State) bool { return s.CurrentTime == w })
	}
	fake.Advance(time.Second)
	final := waitFor(t, states, func(s State) bool { return !s.IsPlaying })
	if final.CurrentTime != 3 {
		t.Errorf("expected to stop at 3, got %v", final.CurrentTime)
	}
}

func TestPause_StopsTicker(t *testing.T) {
	tk, fake := newFixed(t, kv.NewMemory(), 100)
	states, cancel := tk.Subscribe()
	defer cancel()

	tk.Play()
	fake.Advance(time.Second)
	waitFor(t, states, func(s State) bool { return s.CurrentTime == 1 })

	tk.Pause()
	fake.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if got := tk.State(); got.CurrentTime != 1 || got.IsPlaying {
		t.Errorf("expected paused at 1, got %+v", got)
	}
}

func TestToggle(t *testing.T) {
	tk, _ := newFixed(t, kv.NewMemory(), 10)
	if !tk.Toggle() || !tk.State().IsPlaying {
		t.Error("expected toggle to start playback")
	}
	if tk.Toggle() || tk.State().IsPlaying {
		t.Error("expected toggle to pause playback")
	}
}

func TestReset_ClearsPersistedPosition(t *testing.T) {
	store := kv.NewMemory()
	ctx := context.Background()
	tk, _ := newFixed(t, store, 100)

	if err := tk.Seek(ctx, 42); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if v, found, _ := store.Get(ctx, PositionKey); !found || v != "42" {
		t.Fatalf("expected persisted 42, got %q found=%v", v, found)
	}

	tk.Play()
	if err := tk.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := tk.State(); got.CurrentTime != 0 || got.IsPlaying {
		t.Errorf("expected paused at 0, got %+v", got)
	}
	if _, found, _ := store.Get(ctx, PositionKey); found {
		t.Error("expected persisted position to be removed")
	}
}

func TestNew_ResumesPausedAtStoredPosition(t *testing.T) {
	store := kv.NewMemory()
	_ = store.Set(context.Background(), PositionKey, "17.5")

	tk, _ := newFixed(t, store, 100)
	if got := tk.State(); got.CurrentTime != 17.5 || got.IsPlaying {
		t.Errorf("expected paused at 17.5, got %+v", got)
	}
}

func TestNew_HoldsPositionUntilTotalGrows(t *testing.T) {
	store := kv.NewMemory()
	_ = store.Set(context.Background(), PositionKey, "150")

	tk, err := New(context.Background(), Config{Clock: clockwork.NewFakeClock(), Store: store})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer tk.Close()

	if got := tk.State().CurrentTime; got != 0 {
		t.Fatalf("expected 0 before durations are known, got %v", got)
	}
	tk.SetTotalDuration(120)
	if got := tk.State().CurrentTime; got != 0 {
		t.Errorf("expected position held at 120 total, got %v", got)
	}
	tk.SetTotalDuration(200)
	if got := tk.State().CurrentTime; got != 150 {
		t.Errorf("expected resume at 150, got %v", got)
	}
}

func TestSetTotalDuration_DerivedNeverShrinks(t *testing.T) {
	tk, err := New(context.Background(), Config{Clock: clockwork.NewFakeClock()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer tk.Close()

	for _, d := range []float64{120, 90, 200, 10} {
		tk.SetTotalDuration(d)
	}
	if got := tk.State().TotalDuration; got != 200 {
		t.Errorf("expected 200, got %v", got)
	}
}

func TestSetTotalDuration_FixedIgnoresReports(t *testing.T) {
	tk, _ := newFixed(t, kv.NewMemory(), 0)
	tk.SetTotalDuration(1000)
	if got := tk.State().TotalDuration; got != DefaultFixedTotal {
		t.Errorf("expected %v, got %v", DefaultFixedTotal, got)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(""); err != nil || m != Derived {
		t.Errorf("expected derived default, got %v %v", m, err)
	}
	if m, err := ParseMode("fixed"); err != nil || m != Fixed {
		t.Errorf("expected fixed, got %v %v", m, err)
	}
	if _, err := ParseMode("sometimes"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestClose_StopsPlayback(t *testing.T) {
	tk, _ := newFixed(t, kv.NewMemory(), 10)
	tk.Play()
	tk.Close()
	tk.Play()
	if tk.State().IsPlaying {
		t.Error("expected closed timekeeper to stay paused")
	}
}

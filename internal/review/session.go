// Package review hosts review sessions: one dataset, its bouts, a shared clock and the media
// elements a browser shows for it.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gj2101/boutview/internal/annotation"
	"github.com/gj2101/boutview/internal/bout"
	"github.com/gj2101/boutview/internal/clock"
	"github.com/gj2101/boutview/internal/dataset"
	"github.com/gj2101/boutview/internal/kv"
	"github.com/gj2101/boutview/internal/layout"
	"github.com/gj2101/boutview/internal/mediasync"
)

var (
	ErrNotFound       = errors.New("review: session not found")
	ErrBoutNotFound   = errors.New("review: bout not found")
	ErrUnknownElement = errors.New("review: unknown element")
	ErrPlaying        = errors.New("review: locations cannot change during playback")
)

const fileIndexKey = "file_index"

type Config struct {
	Store            kv.Store
	Annotations      *annotation.Cache
	Clock            clockwork.Clock
	Loader           dataset.LoaderConfig
	Mode             clock.Mode
	FixedTotal       float64
	Layout           layout.Options
	DefaultLocations int
	IdleTimeout      time.Duration
}

type Request struct {
	BaseURL   string `json:"baseUrl"`
	FileIndex *int   `json:"fileIndex,omitempty"`
}

// ElementReport carries what a browser observed on one media element. Nil fields are left
// alone.
type ElementReport struct {
	Position *float64 `json:"position,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
	Seeking  *bool    `json:"seeking,omitempty"`
	Muted    *bool    `json:"muted,omitempty"`
	Flipped  *bool    `json:"flipped,omitempty"`
}

type ElementView struct {
	ID       string            `json:"id"`
	URL      string            `json:"url"`
	Location string            `json:"location"`
	Kind     string            `json:"kind"`
	Display  mediasync.Display `json:"display"`
	Seeking  bool              `json:"seeking"`
}

type View struct {
	ID          string          `json:"id"`
	BaseURL     string          `json:"baseUrl"`
	CSVURL      string          `json:"csvUrl"`
	FileIndex   int             `json:"fileIndex"`
	Mode        clock.Mode      `json:"mode"`
	Clock       clock.State     `json:"clock"`
	CurrentBout *bout.Bout      `json:"currentBout"`
	Bouts       []bout.Bout     `json:"bouts"`
	Locations   []string        `json:"locations"`
	Active      map[string]bool `json:"active"`
	Elements    []ElementView   `json:"elements"`
	Vocabulary  []string        `json:"vocabulary"`
}

type Session struct {
	id               string
	clock            clockwork.Clock
	store            kv.Store
	cache            *annotation.Cache
	loader           *dataset.Loader
	layoutOpts       layout.Options
	defaultLocations int

	timekeeper *clock.Timekeeper
	controller *mediasync.Controller
	selection  *layout.Selection

	mu          sync.RWMutex
	annotations *annotation.Store
	scope       annotation.Scope
	data        *dataset.Dataset
	bouts       []bout.Bout
	fileIndex   int
	organized   layout.Organized
	elements    map[string]*remoteElement

	subMu      sync.Mutex
	subs       map[*Subscription]struct{}
	lastActive time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// Open loads the dataset at req.BaseURL and starts a paused session over it. A dataset without
// a call table opens with no bouts.
func Open(ctx context.Context, id string, cfg Config, req Request) (*Session, error) {
	if cfg.Store == nil {
		cfg.Store = kv.NewMemory()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Annotations == nil {
		cfg.Annotations = annotation.NewCacheWithClock(cfg.Clock, cfg.Store)
	}

	loader := dataset.NewLoader(cfg.Loader)
	data, err := loader.Load(ctx, req.BaseURL)
	if err != nil && !errors.Is(err, dataset.ErrNoCSV) {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	if errors.Is(err, dataset.ErrNoCSV) {
		slog.Warn("review: dataset has no call table", "base_url", data.BaseURL)
	}

	store := kv.Namespace(cfg.Store, "datasets/"+data.BaseURL)
	tk, err := clock.New(ctx, clock.Config{
		Clock:      cfg.Clock,
		Store:      store,
		Mode:       cfg.Mode,
		FixedTotal: cfg.FixedTotal,
	})
	if err != nil {
		return nil, fmt.Errorf("start clock: %w", err)
	}

	scope := annotation.Scope{BaseURL: data.BaseURL, CSVURL: data.CSVURL}
	annotations, err := cfg.Annotations.Acquire(ctx, scope)
	if err != nil {
		tk.Close()
		return nil, fmt.Errorf("open annotations: %w", err)
	}
	selection, err := layout.LoadSelection(ctx, kv.Namespace(cfg.Store, "locations"), data.BaseURL)
	if err != nil {
		cfg.Annotations.Release(scope)
		tk.Close()
		return nil, fmt.Errorf("load locations: %w", err)
	}

	controller := mediasync.NewController(mediasync.Config{Clock: cfg.Clock})
	controller.Durations().OnGrow(tk.SetTotalDuration)

	s := &Session{
		id:               id,
		clock:            cfg.Clock,
		store:            store,
		cache:            cfg.Annotations,
		loader:           loader,
		layoutOpts:       cfg.Layout,
		defaultLocations: cfg.DefaultLocations,
		timekeeper:       tk,
		controller:       controller,
		annotations:      annotations,
		scope:            scope,
		selection:        selection,
		data:             data,
		bouts:            deriveBouts(data),
		elements:         make(map[string]*remoteElement),
		subs:             make(map[*Subscription]struct{}),
		lastActive:       cfg.Clock.Now(),
		done:             make(chan struct{}),
	}

	switch {
	case req.FileIndex != nil:
		s.fileIndex = *req.FileIndex
	default:
		raw, found, err := store.Get(ctx, fileIndexKey)
		if err != nil {
			slog.Warn("review: could not read last file index", "error", err)
		} else if found {
			s.fileIndex, _ = strconv.Atoi(raw)
		}
	}

	s.mu.Lock()
	s.organize()
	s.mu.Unlock()

	states, cancel := tk.Subscribe()
	go s.follow(states, cancel)
	return s, nil
}

func deriveBouts(data *dataset.Dataset) []bout.Bout {
	if data.CSVText == "" {
		return []bout.Bout{}
	}
	bouts, err := bout.Derive(data.CSVText)
	if err != nil {
		slog.Warn("review: could not derive bouts", "csv_url", data.CSVURL, "error", err)
		return []bout.Bout{}
	}
	return bouts
}

// follow pushes every clock change into the media elements and wakes subscribers.
func (s *Session) follow(states <-chan clock.State, cancel func()) {
	defer cancel()
	for {
		select {
		case <-s.done:
			return
		case st := <-states:
			s.controller.Sync(st.CurrentTime, st.IsPlaying)
			s.notify()
		}
	}
}

// organize groups the manifest for the current file index and attaches the elements of visible
// locations. Callers hold mu.
func (s *Session) organize() {
	s.organized = layout.Organize(s.data.Manifest, s.fileIndex, s.layoutOpts)
	s.selection.DefaultFirstN(s.organized.Locations, s.defaultLocations)
	s.refreshElements()
}

// refreshElements attaches newly visible media and detaches hidden media. Callers hold mu.
func (s *Session) refreshElements() {
	want := make(map[string]bool)
	for _, id := range s.visibleIDs() {
		want[id] = true
	}
	for id := range s.elements {
		if !want[id] {
			s.controller.Detach(id)
			delete(s.elements, id)
		}
	}
	added := false
	for id := range want {
		if _, ok := s.elements[id]; ok {
			continue
		}
		el := newRemoteElement(id, s.clock, s.emit)
		s.elements[id] = el
		s.controller.Attach(id, el)
		added = true
	}
	if added {
		st := s.timekeeper.State()
		s.controller.Sync(st.CurrentTime, st.IsPlaying)
	}
}

func (s *Session) visibleIDs() []string {
	var ids []string
	for _, name := range s.selection.Visible(s.organized.Locations) {
		loc := s.organized.Location(name)
		for _, v := range layout.SortVideos(loc.Videos) {
			ids = append(ids, v.Path)
		}
		for _, a := range loc.Audios {
			ids = append(ids, a.Path)
		}
	}
	return ids
}

func (s *Session) ID() string { return s.id }

// Annotations is the store for the session's current scope.
func (s *Session) Annotations() *annotation.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.annotations
}

func (s *Session) Timekeeper() *clock.Timekeeper { return s.timekeeper }

func (s *Session) Play() { s.timekeeper.Play() }

func (s *Session) Pause() { s.timekeeper.Pause() }

func (s *Session) Toggle() bool { return s.timekeeper.Toggle() }

func (s *Session) Reset(ctx context.Context) error { return s.timekeeper.Reset(ctx) }

func (s *Session) Seek(ctx context.Context, t float64) error { return s.timekeeper.Seek(ctx, t) }

// Bouts returns every bout of the dataset, across file indexes.
func (s *Session) Bouts() []bout.Bout {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bouts
}

// CurrentBout is the bout of the current file that contains the clock time.
func (s *Session) CurrentBout() (bout.Bout, bool) {
	t := s.timekeeper.State().CurrentTime
	s.mu.RLock()
	defer s.mu.RUnlock()
	return bout.At(s.bouts, s.fileIndex, t)
}

// SelectBout moves the clock to the start of the bout.
func (s *Session) SelectBout(ctx context.Context, id int) (bout.Bout, error) {
	s.mu.RLock()
	b, ok := bout.Find(s.bouts, id)
	s.mu.RUnlock()
	if !ok {
		return bout.Bout{}, ErrBoutNotFound
	}
	if err := s.timekeeper.Seek(ctx, b.StartTimeFileSec); err != nil {
		return b, err
	}
	return b, nil
}

// ToggleLocation shows or hides a location. It is refused while the clock plays.
func (s *Session) ToggleLocation(ctx context.Context, name string) (bool, error) {
	if s.timekeeper.State().IsPlaying {
		return s.selection.IsActive(name), ErrPlaying
	}
	on, err := s.selection.Toggle(ctx, name)
	if err != nil {
		return on, err
	}
	s.mu.Lock()
	s.refreshElements()
	s.mu.Unlock()
	s.notify()
	return on, nil
}

// SetFileIndex switches the sub-recording on display and remembers it for the dataset.
func (s *Session) SetFileIndex(ctx context.Context, index int) error {
	s.mu.Lock()
	s.fileIndex = index
	s.organize()
	s.mu.Unlock()
	s.notify()

	if err := s.store.Set(ctx, fileIndexKey, strconv.Itoa(index)); err != nil {
		return fmt.Errorf("save file index: %w", err)
	}
	return nil
}

// Reload fetches the dataset again and re-derives everything that depends on it. A reload
// overtaken by a newer one is dropped.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.RLock()
	baseURL := s.data.BaseURL
	s.mu.RUnlock()

	data, err := s.loader.Load(ctx, baseURL)
	if errors.Is(err, dataset.ErrSuperseded) {
		return nil
	}
	if err != nil && !errors.Is(err, dataset.ErrNoCSV) {
		return fmt.Errorf("reload dataset: %w", err)
	}
	scope := annotation.Scope{BaseURL: data.BaseURL, CSVURL: data.CSVURL}
	annotations, err := s.cache.Acquire(ctx, scope)
	if err != nil {
		return fmt.Errorf("open annotations: %w", err)
	}

	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		s.cache.Release(scope)
		return ErrNotFound
	default:
	}
	s.cache.Release(s.scope)
	s.annotations = annotations
	s.scope = scope
	s.data = data
	s.bouts = deriveBouts(data)
	s.organize()
	s.mu.Unlock()
	s.notify()
	return nil
}

// ReportElement applies what the browser saw on element id.
func (s *Session) ReportElement(id string, r ElementReport) error {
	s.mu.RLock()
	el, ok := s.elements[id]
	s.mu.RUnlock()
	if !ok {
		return ErrUnknownElement
	}

	if r.Position != nil {
		el.report(*r.Position)
	}
	if r.Seeking != nil {
		if *r.Seeking {
			s.controller.SeekStarted(id)
		} else {
			s.controller.SeekFinished(id)
		}
	}
	if r.Muted != nil {
		s.controller.SetMuted(id, *r.Muted)
	}
	if r.Flipped != nil {
		s.controller.SetFlipped(id, *r.Flipped)
	}
	if r.Duration != nil {
		s.controller.ReportDuration(id, *r.Duration)
	}
	return nil
}

// Elements lists the media currently shown, in location order.
func (s *Session) Elements() []ElementView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.elementViews()
}

func (s *Session) elementViews() []ElementView {
	views := []ElementView{}
	for _, name := range s.selection.Visible(s.organized.Locations) {
		loc := s.organized.Location(name)
		for _, v := range layout.SortVideos(loc.Videos) {
			views = append(views, s.elementView(v.Path, name, "video"))
		}
		for _, a := range loc.Audios {
			views = append(views, s.elementView(a.Path, name, "audio"))
		}
	}
	return views
}

func (s *Session) elementView(id, location, kind string) ElementView {
	return ElementView{
		ID:       id,
		URL:      s.data.BaseURL + "/" + path.Clean("/" + id)[1:],
		Location: location,
		Kind:     kind,
		Display:  s.controller.Display(id),
		Seeking:  s.controller.SeekingVisible(id),
	}
}

func (s *Session) View() View {
	st := s.timekeeper.State()

	s.mu.RLock()
	defer s.mu.RUnlock()
	v := View{
		ID:         s.id,
		BaseURL:    s.data.BaseURL,
		CSVURL:     s.data.CSVURL,
		FileIndex:  s.fileIndex,
		Mode:       s.timekeeper.Mode(),
		Clock:      st,
		Bouts:      bout.ForFile(s.bouts, s.fileIndex),
		Locations:  append([]string{}, s.organized.Locations...),
		Active:     s.selection.Active(),
		Elements:   s.elementViews(),
		Vocabulary: annotation.Vocabulary,
	}
	if b, ok := bout.At(s.bouts, s.fileIndex, st.CurrentTime); ok {
		v.CurrentBout = &b
	}
	return v
}

// Close stops the clock and releases subscribers. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.timekeeper.Close()

		s.mu.RLock()
		s.cache.Release(s.scope)
		s.mu.RUnlock()

		s.subMu.Lock()
		defer s.subMu.Unlock()
		for sub := range s.subs {
			close(sub.c)
			delete(s.subs, sub)
		}
	})
}

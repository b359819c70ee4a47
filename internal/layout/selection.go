package layout

import (
	"context"
	"fmt"
	"sync"

	"github.com/gj2101/boutview/internal/kv"
)

// Selection is the set of locations shown for one dataset, persisted under the dataset base URL.
type Selection struct {
	store   kv.Store
	baseURL string

	mu     sync.Mutex
	active map[string]bool
	stored bool
}

func LoadSelection(ctx context.Context, store kv.Store, baseURL string) (*Selection, error) {
	s := &Selection{store: store, baseURL: baseURL, active: make(map[string]bool)}
	found, err := kv.GetJSON(ctx, store, baseURL, &s.active)
	if err != nil {
		return nil, fmt.Errorf("load selection: %w", err)
	}
	if s.active == nil {
		s.active = make(map[string]bool)
	}
	s.stored = found
	return s, nil
}

// DefaultFirstN activates the first n locations when nothing was ever stored for this dataset.
// It is not persisted until the first toggle.
func (s *Selection) DefaultFirstN(locations []string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stored || n <= 0 {
		return
	}
	for i, loc := range locations {
		if i >= n {
			break
		}
		s.active[loc] = true
	}
}

// Toggle flips location and persists the whole selection. It returns the new state.
func (s *Selection) Toggle(ctx context.Context, location string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := copyActive(s.active)
	next[location] = !next[location]
	if err := kv.SetJSON(ctx, s.store, s.baseURL, next); err != nil {
		return s.active[location], fmt.Errorf("save selection: %w", err)
	}
	s.active = next
	s.stored = true
	return next[location], nil
}

func (s *Selection) IsActive(location string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[location]
}

func (s *Selection) Active() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyActive(s.active)
}

// Visible filters locations down to the active ones, keeping their order.
func (s *Selection) Visible(locations []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(locations))
	for _, loc := range locations {
		if s.active[loc] {
			out = append(out, loc)
		}
	}
	return out
}

func copyActive(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

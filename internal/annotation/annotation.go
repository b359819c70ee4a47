// Package annotation stores researcher tags and notes on bouts, one set per dataset scope.
package annotation

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/gj2101/boutview/internal/kv"
)

// Vocabulary is the default set of tag names offered for a bout.
var Vocabulary = []string{"mom", "dad", "pup1", "pup2"}

// Scope identifies a dataset and the call table its bouts came from.
type Scope struct {
	BaseURL string `json:"baseUrl"`
	CSVURL  string `json:"csvUrl"`
}

// Key is the persistence key of the scope. The base URL is length-prefixed so that no two
// scopes share a key, whatever characters their URLs contain.
func (s Scope) Key() string {
	return "bout_annotations_" + strconv.Itoa(len(s.BaseURL)) + ":" + s.BaseURL + "_" + s.CSVURL
}

type Tag struct {
	Bout int    `json:"bout"`
	Name string `json:"name"`
}

type Note struct {
	Bout int    `json:"bout"`
	Note string `json:"note"`
}

// Set is the persisted blob of one scope.
type Set struct {
	Tags  []Tag  `json:"tags"`
	Notes []Note `json:"notes"`
}

func (s Set) clone() Set {
	return Set{Tags: append([]Tag{}, s.Tags...), Notes: append([]Note{}, s.Notes...)}
}

// Store holds the annotation set of the current scope. Every mutation writes the whole set back
// and only takes effect in memory once that write succeeded.
type Store struct {
	kv kv.Store

	mu    sync.RWMutex
	scope Scope
	set   Set
}

func Open(ctx context.Context, store kv.Store, scope Scope) (*Store, error) {
	s := &Store{kv: store}
	if err := s.SwitchScope(ctx, scope); err != nil {
		return nil, err
	}
	return s, nil
}

// SwitchScope replaces the in-memory set with what is stored for scope, or an empty set.
func (s *Store) SwitchScope(ctx context.Context, scope Scope) error {
	var set Set
	if _, err := kv.GetJSON(ctx, s.kv, scope.Key(), &set); err != nil {
		return fmt.Errorf("load annotations: %w", err)
	}
	set = set.clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.scope = scope
	s.set = set
	return nil
}

func (s *Store) Scope() Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scope
}

func (s *Store) AddTag(ctx context.Context, boutID int, name string) error {
	return s.update(ctx, func(set *Set) {
		set.Tags = append(set.Tags, Tag{Bout: boutID, Name: name})
	})
}

func (s *Store) RemoveTag(ctx context.Context, boutID int, name string) error {
	return s.update(ctx, func(set *Set) {
		set.Tags = slices.DeleteFunc(set.Tags, func(t Tag) bool {
			return t.Bout == boutID && t.Name == name
		})
	})
}

// ToggleTag removes name from the bout when present and adds it otherwise. It returns whether the
// tag is now set.
func (s *Store) ToggleTag(ctx context.Context, boutID int, name string) (bool, error) {
	var added bool
	err := s.update(ctx, func(set *Set) {
		n := len(set.Tags)
		set.Tags = slices.DeleteFunc(set.Tags, func(t Tag) bool {
			return t.Bout == boutID && t.Name == name
		})
		if len(set.Tags) == n {
			set.Tags = append(set.Tags, Tag{Bout: boutID, Name: name})
			added = true
		}
	})
	return added, err
}

// SetNote replaces the note of a bout. An empty text removes it.
func (s *Store) SetNote(ctx context.Context, boutID int, text string) error {
	return s.update(ctx, func(set *Set) {
		set.Notes = slices.DeleteFunc(set.Notes, func(n Note) bool { return n.Bout == boutID })
		if text != "" {
			set.Notes = append(set.Notes, Note{Bout: boutID, Note: text})
		}
	})
}

// ClearAll empties the current scope. It cannot be undone.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.update(ctx, func(set *Set) {
		*set = Set{Tags: []Tag{}, Notes: []Note{}}
	})
}

func (s *Store) replace(ctx context.Context, next Set) error {
	return s.update(ctx, func(set *Set) { *set = next })
}

func (s *Store) update(ctx context.Context, fn func(*Set)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.set.clone()
	fn(&next)
	if err := kv.SetJSON(ctx, s.kv, s.scope.Key(), next); err != nil {
		return fmt.Errorf("save annotations: %w", err)
	}
	s.set = next
	return nil
}

func (s *Store) TagsFor(boutID int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := []string{}
	for _, t := range s.set.Tags {
		if t.Bout == boutID {
			names = append(names, t.Name)
		}
	}
	return names
}

func (s *Store) NoteFor(boutID int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.set.Notes {
		if n.Bout == boutID {
			return n.Note
		}
	}
	return ""
}

func (s *Store) Snapshot() Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.clone()
}

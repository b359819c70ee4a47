package kv

import (
	"context"
	"testing"
)

func TestMemory_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, found, _ := m.Get(ctx, "missing"); found {
		t.Fatal("expected missing key to be absent")
	}

	if err := m.Set(ctx, "a", "1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, found, err := m.Get(ctx, "a")
	if err != nil || !found || v != "1" {
		t.Fatalf("expected a=1, got %q found=%v err=%v", v, found, err)
	}

	if err := m.Remove(ctx, "a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, found, _ := m.Get(ctx, "a"); found {
		t.Error("expected key to be removed")
	}
}

func TestNamespace_IsolatesKeys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := Namespace(m, "dataset-a")
	b := Namespace(m, "dataset-b")

	_ = a.Set(ctx, "position", "12")
	_ = b.Set(ctx, "position", "99")

	va, _, _ := a.Get(ctx, "position")
	vb, _, _ := b.Get(ctx, "position")
	if va != "12" || vb != "99" {
		t.Errorf("expected namespaced values 12/99, got %q/%q", va, vb)
	}

	raw, found, _ := m.Get(ctx, "dataset-a/position")
	if !found || raw != "12" {
		t.Errorf("expected underlying key dataset-a/position=12, got %q found=%v", raw, found)
	}
}

func TestNamespace_Nested(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	inner := Namespace(Namespace(m, "outer"), "/inner/")

	_ = inner.Set(ctx, "k", "v")
	if _, found, _ := m.Get(ctx, "outer/inner/k"); !found {
		t.Error("expected nested namespace to join with a slash")
	}
}

func TestNamespace_EmptyReturnsStore(t *testing.T) {
	m := NewMemory()
	if Namespace(m, "") != Store(m) {
		t.Error("expected empty namespace to return the store unchanged")
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	type payload struct {
		Names []string `json:"names"`
	}
	if err := SetJSON(ctx, m, "p", payload{Names: []string{"mom", "pup1"}}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	var got payload
	found, err := GetJSON(ctx, m, "p", &got)
	if err != nil || !found {
		t.Fatalf("GetJSON: found=%v err=%v", found, err)
	}
	if len(got.Names) != 2 || got.Names[1] != "pup1" {
		t.Errorf("unexpected decoded payload: %+v", got)
	}

	_ = m.Set(ctx, "broken", "{not json")
	if _, err := GetJSON(ctx, m, "broken", &got); err == nil {
		t.Error("expected decode error for malformed value")
	}

	found, err = GetJSON(ctx, m, "absent", &got)
	if found || err != nil {
		t.Errorf("expected absent key to report not found without error, got found=%v err=%v", found, err)
	}
}

func TestOpen_Memory(t *testing.T) {
	s, closeFn, err := Open(context.Background(), "memory")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()
	if _, ok := s.(*Memory); !ok {
		t.Errorf("expected *Memory, got %T", s)
	}
}

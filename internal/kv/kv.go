// Package kv is the key/value persistence capability behind playback position, location
// selections and bout annotations. Callers build their own namespaces; any backend that can
// get, set and remove a string by key satisfies it.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrClosed = errors.New("kv: store closed")

type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

type namespaced struct {
	store  Store
	prefix string
}

// Namespace scopes every key of s under ns. Nested namespaces join with "/".
func Namespace(s Store, ns string) Store {
	ns = strings.Trim(ns, "/")
	if ns == "" {
		return s
	}
	if inner, ok := s.(*namespaced); ok {
		return &namespaced{store: inner.store, prefix: inner.prefix + ns + "/"}
	}
	return &namespaced{store: s, prefix: ns + "/"}
}

func (n *namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	return n.store.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key, value string) error {
	return n.store.Set(ctx, n.prefix+key, value)
}

func (n *namespaced) Remove(ctx context.Context, key string) error {
	return n.store.Remove(ctx, n.prefix+key)
}

// GetJSON decodes the value at key into v. found is false when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(raw))
}

// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cache provides key-value stores for persisted sprite sheets.
//
// Each entry maps a cache key to a string value. The absence of a key means
// that no value has been stored.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// ErrNotFound is returned by Store.Get when the key is not present.
var ErrNotFound = errors.New("not found")

// Store is a persistent key-value mapping.
type Store interface {
	// Get returns the value stored at key or
	// ErrNotFound if there is no value.
	Get(ctx context.Context, key string) (string, error)
	// Set stores val at key, replacing any
	// existing value.
	Set(ctx context.Context, key, val string) error
}

// Handle is a Store holding resources that must be released.
type Handle interface {
	Store
	Close() error
}

// Open returns a Handle for the provided name. Names with a postgres:// or
// postgresql:// scheme open a PostgreSQL store, the name ":memory:" returns
// an in-process store and all other names are treated as the path to an
// SQLite database.
func Open(ctx context.Context, name string, log *slog.Logger) (Handle, error) {
	switch {
	case name == ":memory:":
		return NewMemory(), nil
	case strings.HasPrefix(name, "postgres://"), strings.HasPrefix(name, "postgresql://"):
		return OpenPostgres(ctx, name, log)
	default:
		return OpenDB(name, log)
	}
}

// Memory is an in-process Store.
type Memory struct {
	mu sync.Mutex
	m  map[string]string
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{m: make(map[string]string)}
}

func (s *Memory) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.m[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (s *Memory) Set(_ context.Context, key, val string) error {
	s.mu.Lock()
	s.m[key] = val
	s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (s *Memory) Close() error { return nil }

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package store persists independently keyed slices of dashboard state. Reads never fail: a
// missing or malformed slice degrades to the caller-supplied default.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wneessen/waybar-bike/internal/logger"
)

// Storage keys of the three persisted slices.
const (
	KeySettings = "bike_dashboard_settings"
	KeyState    = "bike_dashboard_state"
	KeyRecords  = "bike_dashboard_records"
)

// ErrNotFound is returned by a Backend if no value is stored for the requested key.
var ErrNotFound = errors.New("no value stored for key")

// Backend is a durable key/value storage for serialized slices.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte) error
}

// Sanitizer is implemented by persisted slices that can tell whether a decoded value still
// satisfies their invariants. Insane values are treated like corrupt data.
type Sanitizer interface {
	Sane() bool
}

// Load reads the slice stored under key from the backend. If the slice is absent, cannot be
// read, fails to decode or is not sane, def is returned instead.
func Load[T any](ctx context.Context, backend Backend, key string, def T, log *logger.Logger) T {
	data, err := backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn("failed to read persisted slice, using defaults", slog.String("key", key),
				slog.String("backend", backend.Name()), logger.Err(err))
		}
		return def
	}

	var value T
	if err = json.Unmarshal(data, &value); err != nil {
		log.Warn("persisted slice is malformed, using defaults", slog.String("key", key),
			slog.String("backend", backend.Name()), logger.Err(err))
		return def
	}
	if sanitizer, ok := any(value).(Sanitizer); ok && !sanitizer.Sane() {
		log.Warn("persisted slice violates its invariants, using defaults", slog.String("key", key),
			slog.String("backend", backend.Name()))
		return def
	}

	return value
}

// Save serializes value and writes it under key, replacing any previous value. Write errors
// are logged and swallowed, the in-memory state stays authoritative.
func Save[T any](ctx context.Context, backend Backend, key string, value T, log *logger.Logger) {
	if err := write(ctx, backend, key, value); err != nil {
		log.Error("failed to persist slice", slog.String("key", key),
			slog.String("backend", backend.Name()), logger.Err(err))
	}
}

func write[T any](ctx context.Context, backend Backend, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode slice: %w", err)
	}
	if err = backend.Set(ctx, key, data); err != nil {
		return fmt.Errorf("failed to write slice: %w", err)
	}
	return nil
}

// Memory is a Backend keeping all slices in memory. It is safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory Backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Name() string {
	return "memory"
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Set(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	return nil
}

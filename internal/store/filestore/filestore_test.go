// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wneessen/waybar-bike/internal/logger"
	"github.com/wneessen/waybar-bike/internal/store"
)

func TestNew(t *testing.T) {
	fs := New(t.TempDir())
	if fs == nil {
		t.Fatal("expected file store to be non-nil")
	}
	if fs.Name() != name {
		t.Errorf("expected backend name to be %s, got %s", name, fs.Name())
	}
}

func TestFileStore_SetGet(t *testing.T) {
	t.Run("missing key returns ErrNotFound", func(t *testing.T) {
		fs := New(t.TempDir())
		_, err := fs.Get(t.Context(), store.KeyState)
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
	t.Run("set creates the directory and get returns the data", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "state")
		fs := New(dir)
		if err := fs.Set(t.Context(), store.KeySettings, []byte(`{"reserveLiters":1.5}`)); err != nil {
			t.Fatalf("failed to set slice: %s", err)
		}
		data, err := fs.Get(t.Context(), store.KeySettings)
		if err != nil {
			t.Fatalf("failed to get slice: %s", err)
		}
		if string(data) != `{"reserveLiters":1.5}` {
			t.Errorf("unexpected slice data: %s", data)
		}
		info, err := os.Stat(filepath.Join(dir, store.KeySettings+fileExt))
		if err != nil {
			t.Fatalf("expected slice file to exist: %s", err)
		}
		if info.Mode().Perm() != fileMode {
			t.Errorf("expected file mode %o, got %o", fileMode, info.Mode().Perm())
		}
	})
	t.Run("set leaves no temporary files behind", func(t *testing.T) {
		dir := t.TempDir()
		fs := New(dir)
		for i := 0; i < 3; i++ {
			if err := fs.Set(t.Context(), store.KeyRecords, []byte(`[]`)); err != nil {
				t.Fatalf("failed to set slice: %s", err)
			}
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("failed to read dir: %s", err)
		}
		if len(entries) != 1 {
			t.Errorf("expected exactly one file in storage dir, got %d", len(entries))
		}
	})
	t.Run("invalid keys are rejected", func(t *testing.T) {
		fs := New(t.TempDir())
		for _, key := range []string{"", "../escape", ".hidden", `a\b`} {
			if err := fs.Set(t.Context(), key, []byte("x")); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("expected ErrInvalidKey for key %q, got %v", key, err)
			}
		}
	})
	t.Run("set with canceled context fails", func(t *testing.T) {
		fs := New(t.TempDir())
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		if err := fs.Set(ctx, store.KeyState, []byte("{}")); err == nil {
			t.Error("expected set to fail with canceled context")
		}
	})
	t.Run("unreadable file degrades to default via store.Load", func(t *testing.T) {
		dir := t.TempDir()
		fs := New(dir)
		if err := os.Mkdir(filepath.Join(dir, store.KeyState+fileExt), 0o700); err != nil {
			t.Fatalf("failed to create blocking directory: %s", err)
		}
		type slice struct{ A int }
		got := store.Load(t.Context(), fs, store.KeyState, slice{A: 7}, logger.Discard())
		if got.A != 7 {
			t.Errorf("expected default slice, got %+v", got)
		}
	})
}

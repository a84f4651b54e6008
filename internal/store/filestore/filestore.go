// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package filestore implements a store.Backend that keeps one JSON document per key in a directory.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wneessen/waybar-bike/internal/store"
)

const (
	name     = "file"
	fileExt  = ".json"
	dirMode  = 0o700
	fileMode = 0o600
)

var ErrInvalidKey = errors.New("invalid storage key")

// FileStore stores every key as <dir>/<key>.json. Writes go to a temporary file first and are
// renamed into place, so a crash never leaves a half-written slice behind.
type FileStore struct {
	dir string
}

// New returns a FileStore rooted at dir. The directory is created on the first write.
func New(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (f *FileStore) Name() string {
	return name
}

// Dir returns the directory the slices are stored in.
func (f *FileStore) Dir() string {
	return f.dir
}

func (f *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read slice file %q: %w", path, err)
	}
	return data, nil
}

func (f *FileStore) Set(ctx context.Context, key string, data []byte) (err error) {
	if err = ctx.Err(); err != nil {
		return err
	}
	path, err := f.path(key)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(f.dir, dirMode); err != nil {
		return fmt.Errorf("failed to create storage directory %q: %w", f.dir, err)
	}

	tmp, err := os.CreateTemp(f.dir, "."+key+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary slice file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temporary slice file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temporary slice file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary slice file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), fileMode); err != nil {
		return fmt.Errorf("failed to set slice file permissions: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move slice file into place: %w", err)
	}
	return nil
}

func (f *FileStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(f.dir, key+fileExt), nil
}

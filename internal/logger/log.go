// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package logger

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps a slog.Logger so that components share a single structured logging type.
type Logger struct {
	*slog.Logger
}

// New returns a Logger writing text records of at least the given level to stderr.
func New(level slog.Level) *Logger {
	return NewLogger(level, os.Stderr)
}

// NewLogger returns a Logger writing text records of at least the given level to output.
func NewLogger(level slog.Level, output io.Writer) *Logger {
	return &Logger{slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: level}))}
}

// Err returns the canonical attribute for logging an error.
func Err(err error) slog.Attr {
	return slog.Any("error", err)
}

// Discard returns a Logger that drops every record. Used by tests and optional components.
func Discard() *Logger {
	return NewLogger(slog.LevelError+1, io.Discard)
}

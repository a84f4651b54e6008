// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package tracking turns a stream of position samples into live speed and distance increments.
package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/wneessen/waybar-bike/internal/geo"
	"github.com/wneessen/waybar-bike/internal/vartype"
)

const (
	// NoiseFloorKm is the minimum distance between two consecutive samples that counts as movement.
	// Anything closer is treated as GPS jitter.
	NoiseFloorKm = 0.001

	// SampleTimeout is the per-sample timeout requested from the platform.
	SampleTimeout = time.Second * 10

	mpsToKph = 3.6
)

var (
	// ErrPermissionDenied indicates that access to the location source was refused.
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrPositionUnavailable indicates that no position fix could be obtained.
	ErrPositionUnavailable = errors.New("position unavailable")
	// ErrTimeout indicates that no sample was delivered within the requested timeout.
	ErrTimeout = errors.New("position request timed out")
	// ErrPermissionQueryUnsupported is returned by platforms that cannot report a permission state.
	ErrPermissionQueryUnsupported = errors.New("permission query not supported")
)

// Permission is the user-visible permission state of the location source.
type Permission int

const (
	PermissionPrompt Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "prompt"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Permission) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ErrorKind classifies errors reported by a location subscription.
type ErrorKind int

const (
	ErrorUnknown ErrorKind = iota
	ErrorPermissionDenied
	ErrorPositionUnavailable
	ErrorTimeout
)

// Classify maps an error to its ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return ErrorPermissionDenied
	case errors.Is(err, ErrPositionUnavailable):
		return ErrorPositionUnavailable
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorTimeout
	default:
		return ErrorUnknown
	}
}

// Message returns the status message shown to the rider for this kind of error.
func (k ErrorKind) Message() string {
	switch k {
	case ErrorPermissionDenied:
		return "GPS access was denied."
	case ErrorPositionUnavailable:
		return "Location information is unavailable."
	case ErrorTimeout:
		return "The request to get user location timed out."
	default:
		return "An unknown GPS error occurred."
	}
}

// Terminal reports whether the error ends the tracking session.
func (k ErrorKind) Terminal() bool {
	return k == ErrorPermissionDenied
}

// Sample is a single position observation.
type Sample struct {
	Lat   float64
	Lon   float64
	Speed vartype.VarFloat64 // meters per second, unset if the source did not report a speed
	At    time.Time
}

// Point returns the coordinate of the sample.
func (s Sample) Point() geo.Point {
	return geo.Point{Lat: s.Lat, Lon: s.Lon}
}

// Event is delivered by a subscription. Exactly one of Sample and Err is meaningful; if Err is
// non-nil the event is an error report.
type Event struct {
	Sample Sample
	Err    error
}

// WatchOptions are passed to a platform when a subscription is opened.
type WatchOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	// MaximumAge is the maximum age of a cached position the platform may deliver. Zero
	// means cached positions must not be used.
	MaximumAge time.Duration
}

// Platform is a source of position samples.
type Platform interface {
	Name() string

	// QueryPermission reports the current permission state. Platforms without a permission
	// concept return ErrPermissionQueryUnsupported.
	QueryPermission(ctx context.Context) (Permission, error)

	// Watch opens a continuous subscription. It must not block; samples and errors are
	// delivered on the returned channel in order until ctx is cancelled, which unsubscribes.
	Watch(ctx context.Context, opts WatchOptions) (<-chan Event, error)
}

// PermissionWatcher is implemented by platforms that can report live permission changes.
type PermissionWatcher interface {
	PermissionChanges(ctx context.Context) <-chan Permission
}

// DistanceSink consumes distance increments produced by the session.
type DistanceSink interface {
	ApplyDistance(ctx context.Context, distanceKm float64)
}

// LocationState is the transient, user-visible state of the location tracking.
type LocationState struct {
	Permission Permission `json:"permission"`
	SpeedKph   float64    `json:"speedKph"`
	Error      string     `json:"error,omitempty"`
}

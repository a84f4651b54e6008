// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package replay implements a tracking platform that plays back a recorded track file.
//
// Each non-empty line of a track file holds "lat,lon" or "lat,lon,speed" with the speed in
// meters per second. Lines starting with # are comments.
package replay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/waybar-bike/internal/tracking"
	"github.com/wneessen/waybar-bike/internal/vartype"
)

const (
	name = "replay"

	// DefaultInterval is the time between two replayed samples.
	DefaultInterval = time.Second
	permissionPoll  = time.Second * 5
)

// ErrNoSamples is returned if the track file does not contain a single valid sample.
var ErrNoSamples = errors.New("no valid samples found in track file")

// Platform replays the samples of a track file at a fixed interval.
type Platform struct {
	path     string
	interval time.Duration
	clock    clockwork.Clock
	statFn   func(path string) error
}

// New returns a Platform for the track file at path. Non-positive intervals fall back to
// DefaultInterval.
func New(path string, interval time.Duration) *Platform {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Platform{
		path:     path,
		interval: interval,
		clock:    clockwork.NewRealClock(),
		statFn:   readable,
	}
}

func (p *Platform) Name() string {
	return name
}

// QueryPermission reports the file access as permission: a readable file is granted, a file
// we may not read is denied and a missing file is still undecided.
func (p *Platform) QueryPermission(context.Context) (tracking.Permission, error) {
	return p.permission(), nil
}

// PermissionChanges polls the file access and reports every change until ctx is done.
func (p *Platform) PermissionChanges(ctx context.Context) <-chan tracking.Permission {
	out := make(chan tracking.Permission)
	go func() {
		defer close(out)
		last := p.permission()
		ticker := p.clock.NewTicker(permissionPoll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
			}
			current := p.permission()
			if current == last {
				continue
			}
			last = current
			select {
			case <-ctx.Done():
				return
			case out <- current:
			}
		}
	}()
	return out
}

// Watch reads the track file and emits its samples, one per interval. The channel is closed
// after the last sample.
func (p *Platform) Watch(ctx context.Context, _ tracking.WatchOptions) (<-chan tracking.Event, error) {
	out := make(chan tracking.Event)
	go func() {
		defer close(out)

		samples, err := p.readFile()
		if err != nil {
			kind := tracking.ErrPositionUnavailable
			if errors.Is(err, fs.ErrPermission) {
				kind = tracking.ErrPermissionDenied
			}
			select {
			case <-ctx.Done():
			case out <- tracking.Event{Err: fmt.Errorf("%w: %w", kind, err)}:
			}
			return
		}

		for i, sample := range samples {
			if i > 0 && !p.sleep(ctx) {
				return
			}
			sample.At = p.clock.Now()
			select {
			case <-ctx.Done():
				return
			case out <- tracking.Event{Sample: sample}:
			}
		}
	}()
	return out, nil
}

// sleep waits for one interval on the platform clock. It returns false once ctx is done.
func (p *Platform) sleep(ctx context.Context) bool {
	timer := p.clock.NewTimer(p.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

func (p *Platform) permission() tracking.Permission {
	err := p.statFn(p.path)
	switch {
	case err == nil:
		return tracking.PermissionGranted
	case errors.Is(err, fs.ErrPermission):
		return tracking.PermissionDenied
	default:
		return tracking.PermissionPrompt
	}
}

// readFile parses all samples of the track file. Malformed lines are skipped.
func (p *Platform) readFile() ([]tracking.Sample, error) {
	file, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open track file %q: %w", p.path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	var samples []tracking.Sample
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		sample, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		samples = append(samples, sample)
	}
	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read track file %q: %w", p.path, err)
	}
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	return samples, nil
}

func parseLine(line string) (tracking.Sample, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return tracking.Sample{}, false
	}
	fields := strings.Split(line, ",")
	if len(fields) != 2 && len(fields) != 3 {
		return tracking.Sample{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return tracking.Sample{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return tracking.Sample{}, false
	}
	sample := tracking.Sample{Lat: lat, Lon: lon}
	if len(fields) == 3 {
		speed, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil {
			return tracking.Sample{}, false
		}
		sample.Speed = vartype.NewVariable(speed)
	}
	return sample, true
}

func readable(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	return file.Close()
}

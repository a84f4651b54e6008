// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package tracking

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/wneessen/waybar-bike/internal/geo"
	"github.com/wneessen/waybar-bike/internal/logger"
	"github.com/wneessen/waybar-bike/internal/vartype"
)

// Phase is the lifecycle state of a Session.
type Phase int

const (
	PhasePrompt Phase = iota
	PhaseGranted
	PhaseTracking
	PhaseStopped
	PhaseDenied
)

func (p Phase) String() string {
	switch p {
	case PhaseGranted:
		return "granted"
	case PhaseTracking:
		return "tracking"
	case PhaseStopped:
		return "stopped"
	case PhaseDenied:
		return "denied"
	default:
		return "prompt"
	}
}

// unsupportedMessage is reported if the platform refuses to open a subscription at all.
const unsupportedMessage = "Geolocation is not supported by this platform."

// Session manages the permission state and the position subscription of a Platform and
// converts consecutive samples into speed updates and distance increments.
//
// All state transitions are serialized: samples, errors, permission changes and the
// start/stop operations are processed one at a time, in delivery order. Once StopTracking
// returns, no further sample of the stopped subscription is processed.
type Session struct {
	platform Platform
	sink     DistanceSink
	logger   *logger.Logger
	opts     WatchOptions

	// proc serializes every state transition
	proc          sync.Mutex
	root          context.Context
	cancel        context.CancelFunc
	generation    uint64
	watchingPerms bool
	listeners     []func(LocationState)
	wg            sync.WaitGroup

	// mu guards the fields read by State, Phase and LastPosition
	mu    sync.RWMutex
	phase Phase
	state LocationState
	last  vartype.Variable[Sample]
}

// NewSession returns a Session in the prompt phase for the given platform. Distance increments
// are passed to sink.
func NewSession(platform Platform, sink DistanceSink, log *logger.Logger) *Session {
	return &Session{
		platform: platform,
		sink:     sink,
		logger:   log,
		root:     context.Background(),
		opts: WatchOptions{
			HighAccuracy: true,
			Timeout:      SampleTimeout,
			MaximumAge:   0,
		},
	}
}

// OnChange registers fn to be called after every change of the location state.
func (s *Session) OnChange(fn func(LocationState)) {
	s.proc.Lock()
	defer s.proc.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Run requests the location permission once and blocks until ctx is cancelled. Tracking is
// always stopped before Run returns.
func (s *Session) Run(ctx context.Context) error {
	s.proc.Lock()
	s.root = ctx
	s.proc.Unlock()

	defer s.wg.Wait()
	defer s.StopTracking()

	s.RequestPermission(ctx)
	<-ctx.Done()
	return nil
}

// State returns the current location state.
func (s *Session) State() LocationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// LastPosition returns the last known position of the running subscription, if any.
func (s *Session) LastPosition() (geo.Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.last.Get()
	return sample.Point(), ok
}

// RequestPermission queries the platform permission and starts tracking unless access was
// denied. If the permission is still undecided, tracking is started optimistically so that a
// later grant flows through without another request.
func (s *Session) RequestPermission(ctx context.Context) {
	perm, err := s.platform.QueryPermission(ctx)

	s.proc.Lock()
	defer s.proc.Unlock()
	if err != nil {
		s.logger.Debug("permission query failed, starting tracking directly",
			slog.String("platform", s.platform.Name()), logger.Err(err))
		s.startLocked()
		return
	}

	s.logger.Debug("location permission queried", slog.String("platform", s.platform.Name()),
		slog.String("permission", perm.String()))
	switch perm {
	case PermissionGranted:
		s.update(func(st *LocationState) {
			st.Permission = PermissionGranted
			st.Error = ""
		})
		s.setPhase(PhaseGranted)
		s.startLocked()
	case PermissionDenied:
		s.stopLocked()
		s.update(func(st *LocationState) {
			st.Permission = PermissionDenied
			st.Error = ErrorPermissionDenied.Message()
		})
		s.setPhase(PhaseDenied)
	default:
		s.update(func(st *LocationState) { st.Permission = PermissionPrompt })
		s.startLocked()
	}

	if watcher, ok := s.platform.(PermissionWatcher); ok && !s.watchingPerms {
		s.watchingPerms = true
		changes := watcher.PermissionChanges(s.root)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.watchPermissions(s.root, changes)
		}()
	}
}

// StartTracking opens a new subscription, replacing any running one.
func (s *Session) StartTracking() {
	s.proc.Lock()
	defer s.proc.Unlock()
	s.startLocked()
}

// StopTracking cancels the running subscription, forgets the last known position and resets
// the reported speed. It is a no-op if no subscription is running.
func (s *Session) StopTracking() {
	s.proc.Lock()
	defer s.proc.Unlock()
	s.stopLocked()
}

// RestartTracking replaces a running subscription with a fresh one, so the next sample starts
// a new distance baseline. It is a no-op if no subscription is running.
func (s *Session) RestartTracking() {
	s.proc.Lock()
	defer s.proc.Unlock()
	if s.cancel == nil {
		return
	}
	s.startLocked()
}

func (s *Session) startLocked() {
	s.stopLocked()

	ctx, cancel := context.WithCancel(s.root)
	events, err := s.platform.Watch(ctx, s.opts)
	if err != nil {
		cancel()
		s.logger.Error("failed to open location subscription", slog.String("platform", s.platform.Name()),
			logger.Err(err))
		s.update(func(st *LocationState) { st.Error = unsupportedMessage })
		return
	}

	s.generation++
	s.cancel = cancel
	s.setPhase(PhaseTracking)
	s.logger.Debug("location tracking started", slog.String("platform", s.platform.Name()))

	gen := s.generation
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pump(ctx, gen, events)
	}()
}

func (s *Session) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil

	s.mu.Lock()
	s.last.Reset()
	if s.phase == PhaseTracking {
		s.phase = PhaseStopped
	}
	s.mu.Unlock()
	s.update(func(st *LocationState) { st.SpeedKph = 0 })
	s.logger.Debug("location tracking stopped", slog.String("platform", s.platform.Name()))
}

func (s *Session) pump(ctx context.Context, gen uint64, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				s.subscriptionClosed(gen)
				return
			}
			if event.Err != nil {
				s.onSampleError(gen, event.Err)
				continue
			}
			s.onSample(ctx, gen, event.Sample)
		}
	}
}

// current reports whether gen belongs to the running subscription. Must hold proc.
func (s *Session) current(gen uint64) bool {
	return s.cancel != nil && gen == s.generation
}

func (s *Session) onSample(ctx context.Context, gen uint64, sample Sample) {
	s.proc.Lock()
	defer s.proc.Unlock()
	if !s.current(gen) {
		return
	}

	point := sample.Point()
	if !point.Valid() || math.IsNaN(point.Lat) || math.IsNaN(point.Lon) {
		s.logger.Warn("discarding sample with invalid coordinates", slog.Float64("lat", sample.Lat),
			slog.Float64("lon", sample.Lon))
		s.update(func(st *LocationState) { st.Error = ErrorPositionUnavailable.Message() })
		return
	}

	speedKph := 0.0
	if speed, ok := sample.Speed.Get(); ok && speed > 0 && !math.IsInf(speed, 0) {
		speedKph = speed * mpsToKph
	}

	s.mu.Lock()
	previous, hasPrevious := s.last.Get()
	s.last.Set(sample)
	s.mu.Unlock()

	s.update(func(st *LocationState) {
		st.SpeedKph = speedKph
		st.Error = ""
		// Samples only flow once the platform granted access
		if st.Permission == PermissionPrompt {
			st.Permission = PermissionGranted
		}
	})

	if !hasPrevious {
		return
	}
	distance := geo.DistanceKm(previous.Point(), point)
	if distance <= NoiseFloorKm {
		s.logger.Debug("ignoring GPS jitter", slog.Float64("distance_km", distance))
		return
	}
	s.sink.ApplyDistance(context.WithoutCancel(ctx), distance)
}

func (s *Session) onSampleError(gen uint64, err error) {
	s.proc.Lock()
	defer s.proc.Unlock()
	if !s.current(gen) {
		return
	}

	kind := Classify(err)
	s.logger.Warn("location subscription reported an error", slog.String("platform", s.platform.Name()),
		logger.Err(err))
	if kind.Terminal() {
		s.stopLocked()
		s.update(func(st *LocationState) {
			st.Permission = PermissionDenied
			st.Error = kind.Message()
		})
		s.setPhase(PhaseDenied)
		return
	}
	s.update(func(st *LocationState) { st.Error = kind.Message() })
}

func (s *Session) subscriptionClosed(gen uint64) {
	s.proc.Lock()
	defer s.proc.Unlock()
	if !s.current(gen) {
		return
	}
	s.logger.Info("location subscription ended", slog.String("platform", s.platform.Name()))
	s.stopLocked()
}

func (s *Session) watchPermissions(ctx context.Context, changes <-chan Permission) {
	if changes == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case perm, ok := <-changes:
			if !ok {
				return
			}
			s.onPermissionChange(perm)
		}
	}
}

func (s *Session) onPermissionChange(perm Permission) {
	s.proc.Lock()
	defer s.proc.Unlock()
	s.logger.Info("location permission changed", slog.String("permission", perm.String()))

	if perm == PermissionGranted {
		s.update(func(st *LocationState) {
			*st = LocationState{Permission: PermissionGranted}
		})
		s.setPhase(PhaseGranted)
		s.startLocked()
		return
	}
	s.stopLocked()
	s.update(func(st *LocationState) {
		*st = LocationState{Permission: PermissionDenied, Error: ErrorPermissionDenied.Message()}
	})
	s.setPhase(PhaseDenied)
}

func (s *Session) setPhase(phase Phase) {
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
}

// update applies fn to the location state and informs the listeners. Must hold proc.
func (s *Session) update(fn func(*LocationState)) {
	s.mu.Lock()
	before := s.state
	fn(&s.state)
	after := s.state
	s.mu.Unlock()

	if before == after {
		return
	}
	for _, listener := range s.listeners {
		listener(after)
	}
}

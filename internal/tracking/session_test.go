// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package tracking

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"testing/synctest"

	"github.com/wneessen/waybar-bike/internal/logger"
	"github.com/wneessen/waybar-bike/internal/vartype"
)

type fakePlatform struct {
	mu       sync.Mutex
	perm     Permission
	permErr  error
	watchErr error
	opts     []WatchOptions
	streams  []chan Event
	contexts []context.Context
}

func (p *fakePlatform) Name() string { return "fake" }

func (p *fakePlatform) QueryPermission(context.Context) (Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perm, p.permErr
}

func (p *fakePlatform) Watch(ctx context.Context, opts WatchOptions) (<-chan Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watchErr != nil {
		return nil, p.watchErr
	}
	stream := make(chan Event, 8)
	p.opts = append(p.opts, opts)
	p.streams = append(p.streams, stream)
	p.contexts = append(p.contexts, ctx)
	return stream, nil
}

func (p *fakePlatform) watchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}

func (p *fakePlatform) stream(i int) chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streams[i]
}

func (p *fakePlatform) latest() chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streams[len(p.streams)-1]
}

type watchingPlatform struct {
	*fakePlatform
	changes chan Permission
}

func (p *watchingPlatform) PermissionChanges(context.Context) <-chan Permission {
	return p.changes
}

type fakeSink struct {
	mu        sync.Mutex
	distances []float64
}

func (s *fakeSink) ApplyDistance(_ context.Context, km float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distances = append(s.distances, km)
}

func (s *fakeSink) applied() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.distances...)
}

func sampleAt(lat, lon float64) Event {
	return Event{Sample: Sample{Lat: lat, Lon: lon}}
}

func sampleWithSpeed(lat, lon, speed float64) Event {
	return Event{Sample: Sample{Lat: lat, Lon: lon, Speed: vartype.NewVariable(speed)}}
}

// startSession runs a session in the current bubble and returns a function that stops it and
// waits for Run to return.
func startSession(t *testing.T, platform Platform, sink DistanceSink) (*Session, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	session := NewSession(platform, sink, logger.Discard())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := session.Run(ctx); err != nil {
			t.Errorf("session run failed: %s", err)
		}
	}()
	synctest.Wait()
	return session, func() {
		cancel()
		<-done
	}
}

func TestSession_Run(t *testing.T) {
	t.Run("granted permission opens a subscription with fresh high accuracy options", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			platform := &fakePlatform{perm: PermissionGranted}
			session, stop := startSession(t, platform, &fakeSink{})
			defer stop()

			if platform.watchCount() != 1 {
				t.Fatalf("expected one subscription, got %d", platform.watchCount())
			}
			want := WatchOptions{HighAccuracy: true, Timeout: SampleTimeout, MaximumAge: 0}
			if platform.opts[0] != want {
				t.Errorf("expected watch options %+v, got %+v", want, platform.opts[0])
			}
			if session.Phase() != PhaseTracking {
				t.Errorf("expected phase to be tracking, got %s", session.Phase())
			}
			if session.State().Permission != PermissionGranted {
				t.Errorf("expected permission to be granted, got %s", session.State().Permission)
			}
		})
	})
	t.Run("denied permission never subscribes", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			platform := &fakePlatform{perm: PermissionDenied}
			session, stop := startSession(t, platform, &fakeSink{})
			defer stop()

			if platform.watchCount() != 0 {
				t.Errorf("expected no subscription, got %d", platform.watchCount())
			}
			state := session.State()
			if state.Permission != PermissionDenied {
				t.Errorf("expected permission to be denied, got %s", state.Permission)
			}
			if state.Error != ErrorPermissionDenied.Message() {
				t.Errorf("expected error %q, got %q", ErrorPermissionDenied.Message(), state.Error)
			}
			if session.Phase() != PhaseDenied {
				t.Errorf("expected phase to be denied, got %s", session.Phase())
			}
		})
	})
	t.Run("unsupported permission query falls back to tracking", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			platform := &fakePlatform{permErr: ErrPermissionQueryUnsupported}
			session, stop := startSession(t, platform, &fakeSink{})
			defer stop()

			if platform.watchCount() != 1 {
				t.Fatalf("expected one subscription, got %d", platform.watchCount())
			}
			if session.State().Permission != PermissionPrompt {
				t.Errorf("expected permission to remain prompt, got %s", session.State().Permission)
			}

			platform.latest() <- sampleAt(52.52, 13.405)
			synctest.Wait()
			if session.State().Permission != PermissionGranted {
				t.Errorf("expected first sample to grant permission, got %s", session.State().Permission)
			}
		})
	})
	t.Run("prompt permission starts tracking", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			platform := &fakePlatform{perm: PermissionPrompt}
			session, stop := startSession(t, platform, &fakeSink{})
			defer stop()

			if platform.watchCount() != 1 {
				t.Errorf("expected one subscription, got %d", platform.watchCount())
			}
			if session.Phase() != PhaseTracking {
				t.Errorf("expected phase to be tracking, got %s", session.Phase())
			}
		})
	})
	t.Run("subscription failure is reported", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			platform := &fakePlatform{perm: PermissionGranted, watchErr: errors.New("no gps daemon")}
			session, stop := startSession(t, platform, &fakeSink{})
			defer stop()

			if session.State().Error != unsupportedMessage {
				t.Errorf("expected error %q, got %q", unsupportedMessage, session.State().Error)
			}
			if session.Phase() == PhaseTracking {
				t.Error("expected session not to be tracking")
			}
		})
	})
	t.Run("run stops tracking on cancellation", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			platform := &fakePlatform{perm: PermissionGranted}
			session, stop := startSession(t, platform, &fakeSink{})
			stop()

			if err := platform.contexts[0].Err(); !errors.Is(err, context.Canceled) {
				t.Errorf("expected subscription context to be cancelled, got %v", err)
			}
			if session.Phase() != PhaseStopped {
				t.Errorf("expected phase to be stopped, got %s", session.Phase())
			}
		})
	})
}

func TestSession_Samples(t *testing.T) {
	t.Run("speed is converted to km/h", func(t *testing.T) {
		tests := []struct {
			name  string
			event Event
			want  float64
		}{
			{"ten meters per second", sampleWithSpeed(52.52, 13.405, 10), 36},
			{"standing still", sampleWithSpeed(52.52, 13.405, 0), 0},
			{"negative speed", sampleWithSpeed(52.52, 13.405, -3), 0},
			{"unknown speed", sampleAt(52.52, 13.405), 0},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				synctest.Test(t, func(t *testing.T) {
					platform := &fakePlatform{perm: PermissionGranted}
					session, stop := startSession(t, platform, &fakeSink{})
					defer stop()

					platform.latest() <- sampleWithSpeed(52.52, 13.405, 25)
					platform.latest() <- tc.event
					synctest.Wait()
					if got := session.State().SpeedKph; math.Abs(got-tc.want) > 1e-9 {
						t.Errorf("expected speed to be %f km/h, got %f", tc.want, got)
					}
				})
			})
		}
	})
	t.Run("first sample sets the position without distance", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			platform := &fakePlatform{perm: PermissionGranted}
			sink := &fakeSink{}
			session, stop := startSession(t, platform, sink)
			defer stop()

			platform.latest() <- sampleAt(52.52, 13.405)
			synctest.Wait()
			if len(sink.applied()) != 0 {
				t.Errorf("expected no distance for the first sample, got %v", sink.applied())
			}
			pos, ok := session.LastPosition()
			if !ok {
				t.Fatal("expected last position to be set")
			}
			if pos.Lat != 52.52 || pos.Lon != 13.405 {
				t.Errorf("expected last position to be 52.52,13.405, got %v", pos)
			}
		})
	})
	t.Run("jitter below the noise floor is ignored", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			platform := &fakePlatform{perm: PermissionGranted}
			sink := &fakeSink{}
			session, stop := startSession(t, platform, sink)
			defer stop()

			platform.latest() <- sampleAt(0, 0)
			platform.latest() <- sampleAt(0.0000045, 0)
			synctest.Wait()
			if len(sink.applied()) != 0 {
				t.Fatalf("expected jitter to be ignored, got %v", sink.applied())
			}
			pos, _ := session.LastPosition()
			if pos.Lat != 0.0000045 {
				t.Errorf("expected last position to follow the jitter sample, got %v", pos)
			}

			platform.latest() <- sampleAt(0.0010045, 0)
			synctest.Wait()
			applied := sink.applied()
			if len(applied) != 1 {
				t.Fatalf("expected one distance increment, got %v", applied)
			}
			if math.Abs(applied[0]-0.1112) > 0.001 {
				t.Errorf("expected distance of about 0.1112 km, got %f", applied[0])
			}
		})
	})
	t.Run("invalid coordinates are reported and skipped", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			platform := &fakePlatform{perm: PermissionGranted}
			sink := &fakeSink{}
			session, stop := startSession(t, platform, sink)
			defer stop()

			platform.latest() <- sampleAt(10, 10)
			platform.latest() <- sampleAt(91, 10)
			synctest.Wait()
			if session.State().Error != ErrorPositionUnavailable.Message() {
				t.Errorf("expected error %q, got %q", ErrorPositionUnavailable.Message(), session.State().Error)
			}
			pos, _ := session.LastPosition()
			if pos.Lat != 10 {
				t.Errorf("expected invalid sample not to replace the last position, got %v", pos)
			}
			if len(sink.applied()) != 0 {
				t.Errorf("expected no distance, got %v", sink.applied())
			}
		})
	})
	t.Run("samples after stop are not processed", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			platform := &fakePlatform{perm: PermissionGranted}
			sink := &fakeSink{}
			session, stop := startSession(t, platform, sink)
			defer stop()

			platform.latest() <- sampleWithSpeed(0, 0, 10)
			synctest.Wait()
			session.StopTracking()
			platform.stream(0) <- sampleWithSpeed(1, 0, 10)
			synctest.Wait()

			if len(sink.applied()) != 0 {
				t.Errorf("expected no distance after stop, got %v", sink.applied())
			}
			if _, ok := session.LastPosition(); ok {
				t.Error("expected last position to be cleared")
			}
			if session.State().SpeedKph != 0 {
				t.Errorf("expected speed to be reset, got %f", session.State().SpeedKph)
			}
			if session.Phase() != PhaseStopped {
				t.Errorf("expected phase to be stopped, got %s", session.Phase())
			}
			session.StopTracking()
		})
	})
	t.Run("restart does not bridge the gap between positions", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			platform := &fakePlatform{perm: PermissionGranted}
			sink := &fakeSink{}
			session, stop := startSession(t, platform, sink)
			defer stop()

			platform.latest() <- sampleAt(0, 0)
			synctest.Wait()
			session.StartTracking()
			if platform.watchCount() != 2 {
				t.Fatalf("expected a second subscription, got %d", platform.watchCount())
			}
			if err := platform.contexts[0].Err(); err == nil {
				t.Error("expected the first subscription to be cancelled")
			}

			platform.latest() <- sampleAt(1, 0)
			platform.latest() <- sampleAt(1.01, 0)
			synctest.Wait()
			applied := sink.applied()
			if len(applied) != 1 {
				t.Fatalf("expected exactly one distance increment, got %v", applied)
			}
			if math.Abs(applied[0]-1.112) > 0.01 {
				t.Errorf("expected distance of about 1.112 km, got %f", applied[0])
			}
		})
	})
	t.Run("restart only replaces a running subscription", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			platform := &fakePlatform{perm: PermissionGranted}
			session, stop := startSession(t, platform, &fakeSink{})
			defer stop()

			session.RestartTracking()
			if platform.watchCount() != 2 {
				t.Fatalf("expected a second subscription, got %d", platform.watchCount())
			}
			session.StopTracking()
			session.RestartTracking()
			if platform.watchCount() != 2 {
				t.Errorf("expected no subscription after stop, got %d", platform.watchCount())
			}
			if session.Phase() != PhaseStopped {
				t.Errorf("expected phase to be stopped, got %s", session.Phase())
			}
		})
	})
	t.Run("closed subscription stops tracking", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			platform := &fakePlatform{perm: PermissionGranted}
			session, stop := startSession(t, platform, &fakeSink{})
			defer stop()

			close(platform.latest())
			synctest.Wait()
			if session.Phase() != PhaseStopped {
				t.Errorf("expected phase to be stopped, got %s", session.Phase())
			}
		})
	})
}

func TestSession_Errors(t *testing.T) {
	t.Run("transient errors keep the subscription", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
			want string
		}{
			{"timeout", ErrTimeout, ErrorTimeout.Message()},
			{"deadline exceeded", context.DeadlineExceeded, ErrorTimeout.Message()},
			{"position unavailable", ErrPositionUnavailable, ErrorPositionUnavailable.Message()},
			{"unknown", errors.New("satellite fell down"), ErrorUnknown.Message()},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				synctest.Test(t, func(t *testing.T) {
					platform := &fakePlatform{perm: PermissionGranted}
					session, stop := startSession(t, platform, &fakeSink{})
					defer stop()

					platform.latest() <- Event{Err: tc.err}
					synctest.Wait()
					if session.State().Error != tc.want {
						t.Errorf("expected error %q, got %q", tc.want, session.State().Error)
					}
					if session.Phase() != PhaseTracking {
						t.Errorf("expected phase to remain tracking, got %s", session.Phase())
					}

					platform.latest() <- sampleAt(1, 1)
					synctest.Wait()
					if session.State().Error != "" {
						t.Errorf("expected error to be cleared by a sample, got %q", session.State().Error)
					}
				})
			})
		}
	})
	t.Run("permission denied error ends tracking", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			platform := &fakePlatform{perm: PermissionGranted}
			session, stop := startSession(t, platform, &fakeSink{})
			defer stop()

			platform.latest() <- Event{Err: ErrPermissionDenied}
			synctest.Wait()
			if session.Phase() != PhaseDenied {
				t.Errorf("expected phase to be denied, got %s", session.Phase())
			}
			state := session.State()
			if state.Permission != PermissionDenied || state.Error != ErrorPermissionDenied.Message() {
				t.Errorf("unexpected state after denial: %+v", state)
			}
			if err := platform.contexts[0].Err(); err == nil {
				t.Error("expected subscription to be cancelled")
			}
		})
	})
}

func TestSession_PermissionChanges(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		platform := &watchingPlatform{
			fakePlatform: &fakePlatform{perm: PermissionGranted},
			changes:      make(chan Permission),
		}
		var (
			mu      sync.Mutex
			changes []LocationState
		)
		ctx, cancel := context.WithCancel(t.Context())
		session := NewSession(platform, &fakeSink{}, logger.Discard())
		session.OnChange(func(state LocationState) {
			mu.Lock()
			defer mu.Unlock()
			changes = append(changes, state)
		})
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = session.Run(ctx)
		}()
		synctest.Wait()

		platform.changes <- PermissionDenied
		synctest.Wait()
		if session.Phase() != PhaseDenied {
			t.Errorf("expected phase to be denied, got %s", session.Phase())
		}
		if session.State().Error != ErrorPermissionDenied.Message() {
			t.Errorf("expected denied message, got %q", session.State().Error)
		}

		platform.changes <- PermissionGranted
		synctest.Wait()
		if session.Phase() != PhaseTracking {
			t.Errorf("expected phase to be tracking, got %s", session.Phase())
		}
		if platform.watchCount() != 2 {
			t.Errorf("expected a new subscription after the grant, got %d", platform.watchCount())
		}
		want := LocationState{Permission: PermissionGranted}
		if session.State() != want {
			t.Errorf("expected state %+v, got %+v", want, session.State())
		}

		cancel()
		<-done

		mu.Lock()
		defer mu.Unlock()
		if len(changes) < 3 {
			t.Errorf("expected listeners to observe the permission changes, got %v", changes)
		}
	})
}

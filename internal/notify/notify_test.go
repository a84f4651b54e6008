// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/vorlif/spreak"

	"github.com/wneessen/waybar-bike/internal/bike"
	"github.com/wneessen/waybar-bike/internal/i18n"
	"github.com/wneessen/waybar-bike/internal/logger"
)

type message struct {
	title string
	body  string
}

type fakeNotifier struct {
	mu         sync.Mutex
	permission Permission
	requested  Permission
	requests   int
	shouldFail bool
	hang       bool
	sent       []message
}

func (f *fakeNotifier) Permission(context.Context) Permission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permission
}

func (f *fakeNotifier) RequestPermission(context.Context) Permission {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	f.permission = f.requested
	return f.permission
}

func (f *fakeNotifier) Notify(ctx context.Context, title, body string) error {
	f.mu.Lock()
	hang := f.hang
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shouldFail {
		return errors.New("intentionally failing")
	}
	f.sent = append(f.sent, message{title: title, body: body})
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func snapshot(fuel float64) bike.Snapshot {
	return bike.Snapshot{
		Settings: bike.Settings{FuelEconomyKmPerL: 44, ReserveLiters: 1.5},
		State:    bike.State{CurrentFuelL: fuel},
	}
}

func TestTrigger_Init(t *testing.T) {
	t.Run("undetermined permission is requested", func(t *testing.T) {
		notifier := &fakeNotifier{requested: PermissionGranted}
		trigger := New(notifier, testLocalizer(t, "en"), logger.Discard(), false)
		if perm := trigger.Init(t.Context()); perm != PermissionGranted {
			t.Errorf("expected permission to be granted, got %s", perm)
		}
		if notifier.requests != 1 {
			t.Errorf("expected 1 permission request, got %d", notifier.requests)
		}
	})
	t.Run("determined permission is not requested again", func(t *testing.T) {
		for _, perm := range []Permission{PermissionGranted, PermissionDenied} {
			notifier := &fakeNotifier{permission: perm}
			trigger := New(notifier, testLocalizer(t, "en"), logger.Discard(), false)
			if got := trigger.Init(t.Context()); got != perm {
				t.Errorf("expected permission to be %s, got %s", perm, got)
			}
			if notifier.requests != 0 {
				t.Errorf("expected no permission request, got %d", notifier.requests)
			}
		}
	})
}

func TestTrigger_Observe(t *testing.T) {
	t.Run("fuel levels", func(t *testing.T) {
		tests := []struct {
			name     string
			fuel     float64
			wantSent bool
		}{
			{"full tank", 8, false},
			{"just above reserve", 1.51, false},
			{"exactly at reserve", 1.5, true},
			{"in reserve", 0.8, true},
			{"empty tank", 0, false},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				notifier := &fakeNotifier{permission: PermissionGranted}
				trigger := New(notifier, testLocalizer(t, "en"), logger.Discard(), false)
				trigger.Observe(t.Context(), snapshot(tc.fuel))
				if sent := notifier.count() == 1; sent != tc.wantSent {
					t.Errorf("expected notification sent to be %t, got %d notifications", tc.wantSent,
						notifier.count())
				}
			})
		}
	})
	t.Run("notification text is formatted", func(t *testing.T) {
		notifier := &fakeNotifier{permission: PermissionGranted}
		trigger := New(notifier, testLocalizer(t, "en"), logger.Discard(), false)
		trigger.Observe(t.Context(), snapshot(1.23))
		if notifier.count() != 1 {
			t.Fatalf("expected 1 notification, got %d", notifier.count())
		}
		want := message{title: "Low Fuel Warning", body: "Fuel is in reserve! Only 1.2 L remaining."}
		if notifier.sent[0] != want {
			t.Errorf("expected notification %+v, got %+v", want, notifier.sent[0])
		}
	})
	t.Run("notification text is localized", func(t *testing.T) {
		notifier := &fakeNotifier{permission: PermissionGranted}
		trigger := New(notifier, testLocalizer(t, "de"), logger.Discard(), false)
		trigger.Observe(t.Context(), snapshot(1))
		if notifier.count() != 1 {
			t.Fatalf("expected 1 notification, got %d", notifier.count())
		}
		want := message{title: "Warnung: Kraftstoff niedrig", body: "Kraftstoff in Reserve! Nur noch 1.0 L übrig."}
		if notifier.sent[0] != want {
			t.Errorf("expected notification %+v, got %+v", want, notifier.sent[0])
		}
	})
	t.Run("missing permission suppresses notification", func(t *testing.T) {
		for _, perm := range []Permission{PermissionDefault, PermissionDenied} {
			notifier := &fakeNotifier{permission: perm}
			trigger := New(notifier, testLocalizer(t, "en"), logger.Discard(), false)
			trigger.Observe(t.Context(), snapshot(1))
			if notifier.count() != 0 {
				t.Errorf("expected no notification with permission %s, got %d", perm, notifier.count())
			}
		}
	})
	t.Run("repeated observations fire repeatedly without latch", func(t *testing.T) {
		notifier := &fakeNotifier{permission: PermissionGranted}
		trigger := New(notifier, testLocalizer(t, "en"), logger.Discard(), false)
		for _, fuel := range []float64{1.4, 1.3, 1.3} {
			trigger.Observe(t.Context(), snapshot(fuel))
		}
		if notifier.count() != 3 {
			t.Errorf("expected 3 notifications, got %d", notifier.count())
		}
	})
	t.Run("latch fires once per reserve crossing", func(t *testing.T) {
		notifier := &fakeNotifier{permission: PermissionGranted}
		trigger := New(notifier, testLocalizer(t, "en"), logger.Discard(), true)
		for _, fuel := range []float64{1.4, 1.3, 1.2, 6, 1.4, 1.0} {
			trigger.Observe(t.Context(), snapshot(fuel))
		}
		if notifier.count() != 2 {
			t.Errorf("expected 2 notifications, got %d", notifier.count())
		}
	})
	t.Run("failed notification does not set the latch", func(t *testing.T) {
		notifier := &fakeNotifier{permission: PermissionGranted, shouldFail: true}
		trigger := New(notifier, testLocalizer(t, "en"), logger.Discard(), true)
		trigger.Observe(t.Context(), snapshot(1))
		notifier.mu.Lock()
		notifier.shouldFail = false
		notifier.mu.Unlock()
		trigger.Observe(t.Context(), snapshot(0.9))
		if notifier.count() != 1 {
			t.Errorf("expected 1 notification, got %d", notifier.count())
		}
	})
	t.Run("unresponsive notifier is given up on", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			notifier := &fakeNotifier{permission: PermissionGranted, hang: true}
			trigger := New(notifier, testLocalizer(t, "en"), logger.Discard(), true)

			start := time.Now()
			trigger.Observe(context.WithoutCancel(t.Context()), snapshot(1))
			if elapsed := time.Since(start); elapsed != notifyTimeout {
				t.Errorf("expected delivery to be abandoned after %s, got %s", notifyTimeout, elapsed)
			}

			notifier.mu.Lock()
			notifier.hang = false
			notifier.mu.Unlock()
			trigger.Observe(t.Context(), snapshot(0.9))
			if notifier.count() != 1 {
				t.Errorf("expected the latch to stay unset after the timeout, got %d notifications",
					notifier.count())
			}
		})
	})
}

func TestPermission_String(t *testing.T) {
	tests := []struct {
		perm Permission
		want string
	}{
		{PermissionDefault, "default"},
		{PermissionGranted, "granted"},
		{PermissionDenied, "denied"},
	}
	for _, tc := range tests {
		if got := tc.perm.String(); got != tc.want {
			t.Errorf("expected %q, got %q", tc.want, got)
		}
	}
}

func testLocalizer(t *testing.T, lang string) *spreak.Localizer {
	t.Helper()
	loc, err := i18n.New(lang)
	if err != nil {
		t.Fatalf("failed to create localizer: %s", err)
	}
	return loc
}

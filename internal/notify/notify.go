// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package notify raises a low fuel alert whenever the fuel level is observed in the reserve band.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vorlif/spreak"
	"github.com/vorlif/spreak/localize"

	"github.com/wneessen/waybar-bike/internal/bike"
	"github.com/wneessen/waybar-bike/internal/logger"
)

const (
	title localize.Singular = "Low Fuel Warning"
	body  localize.Singular = "Fuel is in reserve! Only %.1f L remaining."

	// notifyTimeout bounds a single alert delivery. Observe runs on the sample processing path.
	notifyTimeout = 5 * time.Second
)

// Permission is the state of the platform's notification permission.
type Permission int

const (
	PermissionDefault Permission = iota
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
		return "default"
	}
}

// Notifier is a platform capable of showing one-shot alerts.
type Notifier interface {
	Permission(ctx context.Context) Permission
	RequestPermission(ctx context.Context) Permission
	Notify(ctx context.Context, title, body string) error
}

// Trigger observes engine snapshots and fires a low fuel alert while 0 < fuel <= reserve.
type Trigger struct {
	notifier  Notifier
	localizer *spreak.Localizer
	logger    *logger.Logger
	latch     bool

	mu    sync.Mutex
	fired bool
}

// New returns a Trigger sending alerts through notifier. If latch is set, the alert is fired
// only once per crossing into the reserve band and re-armed once the fuel level rises above it.
func New(notifier Notifier, loc *spreak.Localizer, log *logger.Logger, latch bool) *Trigger {
	return &Trigger{
		notifier:  notifier,
		localizer: loc,
		logger:    log,
		latch:     latch,
	}
}

// Init asks the platform for notification permission once, if it is still undetermined.
func (t *Trigger) Init(ctx context.Context) Permission {
	perm := t.notifier.Permission(ctx)
	if perm == PermissionDefault {
		perm = t.notifier.RequestPermission(ctx)
	}
	t.logger.Debug("notification permission", slog.String("permission", perm.String()))
	return perm
}

// Observe implements bike.Observer.
func (t *Trigger) Observe(ctx context.Context, snap bike.Snapshot) {
	fuel := snap.State.CurrentFuelL
	inReserve := fuel > 0 && fuel <= snap.Settings.ReserveLiters

	t.mu.Lock()
	if !inReserve {
		if fuel > snap.Settings.ReserveLiters {
			t.fired = false
		}
		t.mu.Unlock()
		return
	}
	if t.latch && t.fired {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	if t.notifier.Permission(ctx) != PermissionGranted {
		return
	}
	notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	err := t.notifier.Notify(notifyCtx, t.localizer.Get(title), t.localizer.Getf(body, fuel))
	if err != nil {
		t.logger.Warn("failed to send low fuel notification", logger.Err(err))
		return
	}

	t.mu.Lock()
	t.fired = true
	t.mu.Unlock()
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package desktop sends notifications through the freedesktop.org notification service on the
// D-Bus session bus.
package desktop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/waybar-bike/internal/logger"
	"github.com/wneessen/waybar-bike/internal/notify"
)

const (
	dbusDest      = "org.freedesktop.Notifications"
	dbusPath      = "/org/freedesktop/Notifications"
	dbusInterface = "org.freedesktop.Notifications"

	appIcon = "dialog-warning"
	// urgencyNormal is the freedesktop notification urgency level "normal"
	urgencyNormal byte  = 1
	expireDefault int32 = -1
)

// caller is the subset of dbus.BusObject used by the notifier.
type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...any) *dbus.Call
}

// Notifier implements notify.Notifier on top of org.freedesktop.Notifications.
type Notifier struct {
	appName string
	conn    *dbus.Conn
	obj     caller
	logger  *logger.Logger

	mu         sync.Mutex
	permission notify.Permission
	replaceID  uint32
}

// New connects to the session bus. The permission stays undetermined until RequestPermission
// is called.
func New(appName string, log *logger.Logger) (*Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &Notifier{
		appName: appName,
		conn:    conn,
		obj:     conn.Object(dbusDest, dbusPath),
		logger:  log,
	}, nil
}

// Permission returns the cached permission state.
func (n *Notifier) Permission(context.Context) notify.Permission {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.permission
}

// RequestPermission checks whether a notification daemon is present on the bus. A desktop
// without a notification daemon is treated as a denial.
func (n *Notifier) RequestPermission(ctx context.Context) notify.Permission {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.permission != notify.PermissionDefault {
		return n.permission
	}

	var name, vendor, version, specVersion string
	call := n.obj.CallWithContext(ctx, dbusInterface+".GetServerInformation", 0)
	if err := call.Store(&name, &vendor, &version, &specVersion); err != nil {
		n.logger.Warn("no notification daemon available", logger.Err(err))
		n.permission = notify.PermissionDenied
		return n.permission
	}
	n.logger.Debug("found notification daemon", slog.String("name", name), slog.String("vendor", vendor),
		slog.String("version", version))
	n.permission = notify.PermissionGranted
	return n.permission
}

// Notify shows a notification, replacing the one previously sent by this notifier.
func (n *Notifier) Notify(ctx context.Context, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(urgencyNormal),
	}
	call := n.obj.CallWithContext(ctx, dbusInterface+".Notify", 0, n.appName, n.replaceID, appIcon, title, body,
		[]string{}, hints, expireDefault)

	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	n.replaceID = id
	return nil
}

// Close closes the session bus connection.
func (n *Notifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}

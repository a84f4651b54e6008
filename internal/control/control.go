// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package control exposes the dashboard actions on the D-Bus session bus.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/go-playground/validator/v10"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/wneessen/waybar-bike/internal/bike"
	"github.com/wneessen/waybar-bike/internal/logger"
	"github.com/wneessen/waybar-bike/internal/tracking"
)

const (
	BusName    = "dev.neessen.WaybarBike"
	Interface  = "dev.neessen.WaybarBike"
	ObjectPath = dbus.ObjectPath("/dev/neessen/WaybarBike")

	// SignalStatusChanged carries the JSON encoded Status after every change.
	SignalStatusChanged = Interface + ".StatusChanged"

	errInvalidArgs = "org.freedesktop.DBus.Error.InvalidArgs"
	errFailed      = "org.freedesktop.DBus.Error.Failed"
)

// ErrAlreadyRunning is returned by Serve if another instance owns the bus name.
var ErrAlreadyRunning = errors.New("bus name is already owned by another instance")

// Engine is the set of bike engine operations reachable over the bus.
type Engine interface {
	AddFuel(ctx context.Context, liters float64) error
	SetEconomy(ctx context.Context, kmPerL float64)
	SetReserve(ctx context.Context, liters float64)
	DeleteRecord(ctx context.Context, id string) bool
	ResetTrip(ctx context.Context)
	Snapshot() bike.Snapshot
}

// Location is the location tracking session.
type Location interface {
	RequestPermission(ctx context.Context)
	State() tracking.LocationState
}

// Status is the complete dashboard state as seen by clients.
type Status struct {
	bike.Snapshot
	Location tracking.LocationState `json:"location"`
}

type refuelInput struct {
	Liters    float64 `validate:"finite,gt=0,ltefield=Remaining"`
	Remaining float64
}

type economyInput struct {
	KmPerL float64 `validate:"finite,gt=0"`
}

type reserveInput struct {
	Liters float64 `validate:"finite,gte=0.1,lte=5"`
}

type recordInput struct {
	ID string `validate:"required"`
}

// Object is the exported D-Bus object. Every exported method is a bus method.
type Object struct {
	ctx      context.Context
	engine   Engine
	location Location
	logger   *logger.Logger
	validate *validator.Validate
}

// NewObject returns the bus object. ctx is passed to every engine operation.
func NewObject(ctx context.Context, engine Engine, location Location, log *logger.Logger) *Object {
	return &Object{
		ctx:      ctx,
		engine:   engine,
		location: location,
		logger:   log,
		validate: newValidator(),
	}
}

// newValidator returns a validator that additionally knows the "finite" tag, which rejects
// NaN and infinite floats.
func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	err := validate.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		value := fl.Field().Float()
		return !math.IsNaN(value) && !math.IsInf(value, 0)
	})
	if err != nil {
		panic(fmt.Sprintf("failed to register finite validation: %s", err))
	}
	return validate
}

// AddFuel records a refuel. The amount must fit into the remaining tank capacity.
func (o *Object) AddFuel(liters float64) *dbus.Error {
	snap := o.engine.Snapshot()
	input := refuelInput{Liters: liters, Remaining: snap.Bike.TankCapacityL - snap.State.CurrentFuelL}
	if err := o.validate.Struct(input); err != nil {
		return o.invalid("AddFuel", err)
	}
	if err := o.engine.AddFuel(o.ctx, liters); err != nil {
		return o.invalid("AddFuel", err)
	}
	o.logger.Info("fuel added", slog.Float64("liters", liters))
	return nil
}

// SetEconomy changes the fuel economy in km/L.
func (o *Object) SetEconomy(kmPerL float64) *dbus.Error {
	if err := o.validate.Struct(economyInput{KmPerL: kmPerL}); err != nil {
		return o.invalid("SetEconomy", err)
	}
	o.engine.SetEconomy(o.ctx, kmPerL)
	return nil
}

// SetReserve changes the reserve threshold in liters.
func (o *Object) SetReserve(liters float64) *dbus.Error {
	if err := o.validate.Struct(reserveInput{Liters: liters}); err != nil {
		return o.invalid("SetReserve", err)
	}
	o.engine.SetReserve(o.ctx, liters)
	return nil
}

// DeleteRecord removes a refuel record and reports whether it existed.
func (o *Object) DeleteRecord(id string) (bool, *dbus.Error) {
	if err := o.validate.Struct(recordInput{ID: id}); err != nil {
		return false, o.invalid("DeleteRecord", err)
	}
	return o.engine.DeleteRecord(o.ctx, id), nil
}

// ResetTrip sets the trip counter to zero.
func (o *Object) ResetTrip() *dbus.Error {
	o.engine.ResetTrip(o.ctx)
	return nil
}

// RequestLocationPermission asks the location platform for permission again.
func (o *Object) RequestLocationPermission() *dbus.Error {
	o.location.RequestPermission(o.ctx)
	return nil
}

// Status returns the JSON encoded Status.
func (o *Object) Status() (string, *dbus.Error) {
	return o.encode(o.status())
}

// History returns the JSON encoded refuel history, newest first.
func (o *Object) History() (string, *dbus.Error) {
	return o.encode(o.engine.Snapshot().History)
}

func (o *Object) status() Status {
	return Status{Snapshot: o.engine.Snapshot(), Location: o.location.State()}
}

func (o *Object) encode(v any) (string, *dbus.Error) {
	data, err := json.Marshal(v)
	if err != nil {
		o.logger.Error("failed to encode bus response", logger.Err(err))
		return "", dbus.NewError(errFailed, []any{err.Error()})
	}
	return string(data), nil
}

func (o *Object) invalid(method string, err error) *dbus.Error {
	o.logger.Warn("rejected invalid bus call", slog.String("method", method), logger.Err(err))
	return dbus.NewError(errInvalidArgs, []any{err.Error()})
}

// emitter is the subset of dbus.Conn used to broadcast status changes.
type emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...any) error
}

// Server owns the session bus connection the Object is exported on.
type Server struct {
	object *Object
	logger *logger.Logger
}

// NewServer returns a Server for the given object.
func NewServer(object *Object, log *logger.Logger) *Server {
	return &Server{object: object, logger: log}
}

// Serve exports the object, claims the bus name and broadcasts every status received on updates
// until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, updates <-chan Status) error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Error("failed to close session bus connection", logger.Err(err))
		}
	}()

	if err = conn.Export(s.object, ObjectPath, Interface); err != nil {
		return fmt.Errorf("failed to export control object: %w", err)
	}
	node := &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    Interface,
				Methods: introspect.Methods(s.object),
				Signals: []introspect.Signal{{
					Name: "StatusChanged",
					Args: []introspect.Arg{{Name: "status", Type: "s"}},
				}},
			},
		},
	}
	if err = conn.Export(introspect.NewIntrospectable(node), ObjectPath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("failed to export introspection data: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return ErrAlreadyRunning
	}
	s.logger.Debug("control object exported", slog.String("name", BusName),
		slog.String("path", string(ObjectPath)))

	s.broadcast(ctx, conn, updates)
	return nil
}

func (s *Server) broadcast(ctx context.Context, conn emitter, updates <-chan Status) {
	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-updates:
			if !ok {
				<-ctx.Done()
				return
			}
			data, err := json.Marshal(status)
			if err != nil {
				s.logger.Error("failed to encode status", logger.Err(err))
				continue
			}
			if err = conn.Emit(ObjectPath, SignalStatusChanged, string(data)); err != nil {
				s.logger.Warn("failed to emit status signal", logger.Err(err))
			}
		}
	}
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package bike

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/wneessen/waybar-bike/internal/logger"
	"github.com/wneessen/waybar-bike/internal/store"
)

// ErrInvalidAmount is returned by AddFuel for non-positive or non-finite amounts.
var ErrInvalidAmount = errors.New("fuel amount must be greater than zero")

// Observer is notified with a fresh snapshot after every mutation of settings or state.
type Observer interface {
	Observe(ctx context.Context, snap Snapshot)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, snap Snapshot)

func (f ObserverFunc) Observe(ctx context.Context, snap Snapshot) {
	f(ctx, snap)
}

// Engine owns the fuel level, trip and odometer counters, the settings and the refuel history.
// Every mutation is persisted synchronously to the backend before observers are notified.
// Mutations are serialized including their writes, so the backend always holds the slices of
// the most recent mutation.
type Engine struct {
	backend store.Backend
	clock   clockwork.Clock
	logger  *logger.Logger
	newID   func() string

	// writeMu is held across a mutation and its persistence. It is acquired before mu.
	writeMu   sync.Mutex
	mu        sync.RWMutex
	bike      Bike
	settings  Settings
	state     State
	history   History
	observers []Observer
}

// NewEngine loads the persisted slices from backend, falling back to the given default settings,
// a full tank and an empty history for every slice that is missing or corrupt.
func NewEngine(ctx context.Context, b Bike, defaults Settings, backend store.Backend, log *logger.Logger) *Engine {
	engine := &Engine{
		backend: backend,
		clock:   clockwork.NewRealClock(),
		logger:  log,
		newID:   uuid.NewString,
		bike:    b,
	}

	engine.settings = store.Load(ctx, backend, store.KeySettings, defaults, log)
	engine.state = store.Load(ctx, backend, store.KeyState, State{CurrentFuelL: b.TankCapacityL}, log)
	engine.history = store.Load(ctx, backend, store.KeyRecords, History{}, log)
	if engine.history == nil {
		engine.history = History{}
	}

	// The tank capacity is configurable and might have shrunk since the state was written
	if engine.state.CurrentFuelL > b.TankCapacityL {
		log.Warn("persisted fuel level exceeds tank capacity, clamping",
			slog.Float64("fuel", engine.state.CurrentFuelL), slog.Float64("capacity", b.TankCapacityL))
		engine.state.CurrentFuelL = b.TankCapacityL
	}

	return engine
}

// AddObserver registers an observer for state and settings changes.
func (e *Engine) AddObserver(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// ApplyDistance deducts the fuel consumed for distanceKm at the current fuel economy and
// advances trip and odometer. The fuel level never drops below zero.
func (e *Engine) ApplyDistance(ctx context.Context, distanceKm float64) {
	if distanceKm < 0 || math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) {
		e.logger.Warn("ignoring invalid distance increment", slog.Float64("distance_km", distanceKm))
		return
	}

	e.writeMu.Lock()
	e.mu.Lock()
	consumed := distanceKm / e.settings.FuelEconomyKmPerL
	e.state.CurrentFuelL = math.Max(0, e.state.CurrentFuelL-consumed)
	e.state.TripKm += distanceKm
	e.state.TotalOdometerKm += distanceKm
	state := e.state
	e.mu.Unlock()

	e.logger.Debug("applied distance increment", slog.Float64("distance_km", distanceKm),
		slog.Float64("consumed_l", consumed), slog.Float64("fuel_l", state.CurrentFuelL))
	store.Save(ctx, e.backend, store.KeyState, state, e.logger)
	e.writeMu.Unlock()
	e.notify(ctx)
}

// AddFuel adds liters to the tank and prepends a refuel record carrying the odometer reading
// before the refuel. The fuel level is capped at the tank capacity.
func (e *Engine) AddFuel(ctx context.Context, liters float64) error {
	if liters <= 0 || math.IsNaN(liters) || math.IsInf(liters, 0) {
		return ErrInvalidAmount
	}

	e.writeMu.Lock()
	e.mu.Lock()
	if remaining := e.bike.TankCapacityL - e.state.CurrentFuelL; liters > remaining {
		e.logger.Warn("refuel amount exceeds remaining tank capacity, clamping fuel level",
			slog.Float64("liters", liters), slog.Float64("remaining", remaining))
	}
	record := RefuelRecord{
		ID:        e.newID(),
		Timestamp: e.clock.Now().UTC().Truncate(time.Millisecond),
		Liters:    liters,
		Odometer:  e.state.TotalOdometerKm,
	}
	e.state.CurrentFuelL = math.Min(e.bike.TankCapacityL, e.state.CurrentFuelL+liters)
	e.history = slices.Insert(slices.Clone(e.history), 0, record)
	state, history := e.state, e.history
	e.mu.Unlock()

	e.logger.Info("refuel recorded", slog.String("id", record.ID), slog.Float64("liters", liters),
		slog.Float64("odometer", record.Odometer))
	store.Save(ctx, e.backend, store.KeyState, state, e.logger)
	store.Save(ctx, e.backend, store.KeyRecords, history, e.logger)
	e.writeMu.Unlock()
	e.notify(ctx)
	return nil
}

// DeleteRecord removes the refuel record with the given id. Unknown ids are ignored. It reports
// whether a record was removed. The fuel state is not affected, observers are notified only if
// the history changed.
func (e *Engine) DeleteRecord(ctx context.Context, id string) bool {
	e.writeMu.Lock()
	e.mu.Lock()
	idx := slices.IndexFunc(e.history, func(r RefuelRecord) bool { return r.ID == id })
	if idx == -1 {
		e.mu.Unlock()
		e.writeMu.Unlock()
		return false
	}
	e.history = slices.Delete(slices.Clone(e.history), idx, idx+1)
	history := e.history
	e.mu.Unlock()

	store.Save(ctx, e.backend, store.KeyRecords, history, e.logger)
	e.writeMu.Unlock()
	e.notify(ctx)
	return true
}

// ResetTrip sets the trip counter to zero.
func (e *Engine) ResetTrip(ctx context.Context) {
	e.writeMu.Lock()
	e.mu.Lock()
	e.state.TripKm = 0
	state := e.state
	e.mu.Unlock()

	store.Save(ctx, e.backend, store.KeyState, state, e.logger)
	e.writeMu.Unlock()
	e.notify(ctx)
}

// SetEconomy updates the fuel economy in km/L. Callers are responsible for validating the value.
func (e *Engine) SetEconomy(ctx context.Context, kmPerL float64) {
	e.writeMu.Lock()
	e.mu.Lock()
	e.settings.FuelEconomyKmPerL = kmPerL
	settings := e.settings
	e.mu.Unlock()

	store.Save(ctx, e.backend, store.KeySettings, settings, e.logger)
	e.writeMu.Unlock()
	e.notify(ctx)
}

// SetReserve updates the reserve threshold in liters. Callers are responsible for validating
// the value.
func (e *Engine) SetReserve(ctx context.Context, liters float64) {
	e.writeMu.Lock()
	e.mu.Lock()
	e.settings.ReserveLiters = liters
	settings := e.settings
	e.mu.Unlock()

	store.Save(ctx, e.backend, store.KeySettings, settings, e.logger)
	e.writeMu.Unlock()
	e.notify(ctx)
}

// Snapshot returns a consistent copy of the model including the derived values.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{
		Bike:     e.bike,
		Settings: e.settings,
		State:    e.state,
		History:  slices.Clone(e.history),
		Derived:  Derive(e.bike, e.settings, e.state),
	}
}

func (e *Engine) notify(ctx context.Context) {
	e.mu.RLock()
	observers := slices.Clone(e.observers)
	e.mu.RUnlock()
	if len(observers) == 0 {
		return
	}

	snap := e.Snapshot()
	for _, o := range observers {
		o.Observe(ctx, snap)
	}
}

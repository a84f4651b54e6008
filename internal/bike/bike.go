// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package bike implements the fuel, trip and odometer model of the dashboard.
package bike

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// MinReserveLiters is the smallest allowed reserve threshold.
	MinReserveLiters = 0.1
	// MaxReserveLiters is the largest allowed reserve threshold.
	MaxReserveLiters = 5.0
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Bike describes the static properties of the tracked motorcycle.
type Bike struct {
	Model         string  `json:"model" validate:"required"`
	Year          int     `json:"year" validate:"gte=1885"`
	TankCapacityL float64 `json:"tankCapacityL" validate:"gt=0"`
}

// Settings holds the user-adjustable parameters of the fuel model.
type Settings struct {
	FuelEconomyKmPerL float64 `json:"fuelEconomyKmPerL" validate:"gt=0"`
	ReserveLiters     float64 `json:"reserveLiters" validate:"gte=0.1,lte=5"`
}

// Sane reports whether the settings satisfy their domain constraints.
func (s Settings) Sane() bool {
	return validate.Struct(s) == nil
}

// State holds the mutable fuel and distance counters.
type State struct {
	CurrentFuelL    float64 `json:"currentFuelL" validate:"gte=0"`
	TripKm          float64 `json:"tripKm" validate:"gte=0"`
	TotalOdometerKm float64 `json:"totalOdometerKm" validate:"gte=0"`
}

// Sane reports whether none of the counters is negative or NaN.
func (s State) Sane() bool {
	return validate.Struct(s) == nil
}

// RefuelRecord documents a single refuel event. Records are never modified after creation.
type RefuelRecord struct {
	ID        string    `json:"id" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
	Liters    float64   `json:"liters" validate:"gt=0"`
	Odometer  float64   `json:"odometer" validate:"gte=0"`
}

// History is the list of refuel records, newest first.
type History []RefuelRecord

// Sane reports whether every record in the history is valid.
func (h History) Sane() bool {
	for _, record := range h {
		if validate.Struct(record) != nil {
			return false
		}
	}
	return true
}

// ValidateBike checks the static bike description.
func ValidateBike(b Bike) error {
	return validate.Struct(b)
}

// ValidateSettings checks the settings against their domain constraints.
func ValidateSettings(s Settings) error {
	return validate.Struct(s)
}

// Derived holds the values computed from state and settings for presentation.
type Derived struct {
	EstimatedRangeKm float64 `json:"estimatedRangeKm"`
	FuelPercentage   float64 `json:"fuelPercentage"`
	IsReserve        bool    `json:"isReserve"`
}

// Derive computes the presentation values for the given bike, settings and state.
func Derive(b Bike, settings Settings, state State) Derived {
	derived := Derived{
		EstimatedRangeKm: state.CurrentFuelL * settings.FuelEconomyKmPerL,
		IsReserve:        state.CurrentFuelL <= settings.ReserveLiters,
	}
	if b.TankCapacityL > 0 {
		derived.FuelPercentage = state.CurrentFuelL / b.TankCapacityL * 100
	}
	return derived
}

// Snapshot is a consistent copy of the complete dashboard model at one point in time.
type Snapshot struct {
	Bike     Bike     `json:"bike"`
	Settings Settings `json:"settings"`
	State    State    `json:"state"`
	History  History  `json:"history"`
	Derived  Derived  `json:"derived"`
}

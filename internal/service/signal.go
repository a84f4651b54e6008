// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

type signalSource interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

// stdLibSignalSource is the production implementation.
type stdLibSignalSource struct{}

func (stdLibSignalSource) Notify(c chan<- os.Signal, sig ...os.Signal) {
	signal.Notify(c, sig...)
}

func (stdLibSignalSource) Stop(c chan<- os.Signal) {
	signal.Stop(c)
}

// HandleSignals toggles the alternative text display on SIGUSR1 and logs the current dashboard
// state on SIGUSR2.
func (s *Service) HandleSignals(ctx context.Context, sigChan chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGUSR1:
				s.displayAltLock.Lock()
				s.displayAltText = !s.displayAltText
				s.displayAltLock.Unlock()
				s.printStatus(ctx)
			case syscall.SIGUSR2:
				s.logStatus()
			}
		}
	}
}

func (s *Service) logStatus() {
	snap := s.engine.Snapshot()
	state := s.session.State()
	pos, hasPos := s.session.LastPosition()
	s.logger.Info("current dashboard state",
		slog.Float64("fuel_l", snap.State.CurrentFuelL),
		slog.Float64("range_km", snap.Derived.EstimatedRangeKm),
		slog.Float64("trip_km", snap.State.TripKm),
		slog.Float64("odometer_km", snap.State.TotalOdometerKm),
		slog.Int("refuels", len(snap.History)),
		slog.String("permission", state.Permission.String()),
		slog.String("phase", s.session.Phase().String()),
		slog.Bool("has_position", hasPos),
		slog.Float64("latitude", pos.Lat),
		slog.Float64("longitude", pos.Lon),
	)
}

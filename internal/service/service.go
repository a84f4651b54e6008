// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/vorlif/spreak"

	"github.com/wneessen/waybar-bike/internal/bike"
	"github.com/wneessen/waybar-bike/internal/bus"
	"github.com/wneessen/waybar-bike/internal/config"
	"github.com/wneessen/waybar-bike/internal/control"
	"github.com/wneessen/waybar-bike/internal/logger"
	"github.com/wneessen/waybar-bike/internal/notify"
	"github.com/wneessen/waybar-bike/internal/notify/desktop"
	"github.com/wneessen/waybar-bike/internal/presenter"
	"github.com/wneessen/waybar-bike/internal/store"
	"github.com/wneessen/waybar-bike/internal/store/filestore"
	"github.com/wneessen/waybar-bike/internal/store/redisstore"
	"github.com/wneessen/waybar-bike/internal/tracking"
	"github.com/wneessen/waybar-bike/internal/tracking/platform/gpsd"
	"github.com/wneessen/waybar-bike/internal/tracking/platform/replay"
)

const (
	OutputClass        = "waybar-bike"
	ReserveOutputClass = "reserve"
	EmptyOutputClass   = "empty"
	DesktopID          = "waybar-bike"

	statusBufferSize = 8
)

type outputData struct {
	Text       string   `json:"text"`
	Tooltip    string   `json:"tooltip"`
	Alt        string   `json:"alt"`
	Classes    []string `json:"class"`
	Percentage int      `json:"percentage"`
}

type (
	notifierFunc func(appName string, log *logger.Logger) (notify.Notifier, error)
	controlFunc  func(ctx context.Context, obj *control.Object, updates <-chan control.Status) error
)

type Service struct {
	config    *config.Config
	logger    *logger.Logger
	t         *spreak.Localizer
	output    io.Writer
	outputMu  sync.Mutex
	presenter *presenter.Presenter
	scheduler gocron.Scheduler
	jobs      []gocron.Job

	backend  store.Backend
	engine   *bike.Engine
	platform tracking.Platform
	session  *tracking.Session
	status   *bus.Bus[control.Status]

	notifierFn notifierFunc
	controlFn  controlFunc
	resumeFn   func(context.Context)

	SignalSrc      signalSource
	displayAltLock sync.RWMutex
	displayAltText bool
}

// New wires all components of the dashboard from the given configuration. Nothing is started
// until Run is called.
func New(conf *config.Config, log *logger.Logger, t *spreak.Localizer) (*Service, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if t == nil {
		return nil, errors.New("localizer is required")
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	pres, err := presenter.New(conf, t)
	if err != nil {
		return nil, fmt.Errorf("failed to create presenter: %w", err)
	}
	backend, err := newBackend(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage backend: %w", err)
	}
	platform, err := newPlatform(conf, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create location platform: %w", err)
	}

	engine := bike.NewEngine(context.Background(), conf.BikeProfile(), conf.DefaultSettings(), backend, log)
	service := &Service{
		config:     conf,
		logger:     log,
		t:          t,
		output:     os.Stdout,
		presenter:  pres,
		scheduler:  scheduler,
		backend:    backend,
		engine:     engine,
		platform:   platform,
		session:    tracking.NewSession(platform, engine, log),
		status:     bus.New[control.Status](),
		notifierFn: newDesktopNotifier,
		controlFn:  serveControl(log),
		SignalSrc:  stdLibSignalSource{},
	}
	service.resumeFn = service.monitorSleepResume

	engine.AddObserver(bike.ObserverFunc(func(_ context.Context, snap bike.Snapshot) {
		service.publishStatus(snap, service.session.State())
	}))
	service.session.OnChange(func(state tracking.LocationState) {
		service.publishStatus(service.engine.Snapshot(), state)
	})

	return service, nil
}

// Run starts tracking, notifications, the control interface and the status output and blocks
// until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	if !s.config.Notifications.Disable {
		s.setupNotifications(ctx)
	}

	updates, unsubUpdates := s.status.Subscribe(1)
	wg.Go(func() { s.processStatusUpdates(ctx, updates) })

	if !s.config.Control.Disable {
		ctrlUpdates, unsubCtrl := s.status.Subscribe(statusBufferSize)
		defer unsubCtrl()
		obj := control.NewObject(ctx, s.engine, s.session, s.logger)
		wg.Go(func() {
			if err := s.controlFn(ctx, obj, ctrlUpdates); err != nil {
				s.logger.Error("failed to serve control interface", logger.Err(err))
			}
		})
	}

	if err := s.createScheduledJob(ctx, s.config.Intervals.Output, s.printStatus, "status_output_job"); err != nil {
		unsubUpdates()
		return err
	}
	s.scheduler.Start()

	sigChan := make(chan os.Signal, 1)
	s.SignalSrc.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2)
	wg.Go(func() {
		defer s.SignalSrc.Stop(sigChan)
		s.HandleSignals(ctx, sigChan)
	})
	if s.resumeFn != nil {
		wg.Go(func() { s.resumeFn(ctx) })
	}

	// Blocks until ctx is cancelled, tracking is stopped on return
	if err := s.session.Run(ctx); err != nil {
		s.logger.Error("location tracking failed", logger.Err(err))
	}

	unsubUpdates()
	wg.Wait()
	if closer, ok := s.backend.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("failed to close storage backend", logger.Err(err))
		}
	}
	return s.scheduler.Shutdown()
}

func (s *Service) setupNotifications(ctx context.Context) {
	notifier, err := s.notifierFn(DesktopID, s.logger)
	if err != nil {
		s.logger.Warn("desktop notifications unavailable", logger.Err(err))
		return
	}
	if closer, ok := notifier.(io.Closer); ok {
		context.AfterFunc(ctx, func() {
			if err := closer.Close(); err != nil {
				s.logger.Error("failed to close notifier", logger.Err(err))
			}
		})
	}
	trigger := notify.New(notifier, s.t, s.logger, s.config.Notifications.Latch)
	trigger.Init(ctx)
	s.engine.AddObserver(trigger)
}

func (s *Service) createScheduledJob(ctx context.Context, interval time.Duration, task func(context.Context),
	jobName string,
) error {
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// printStatus renders the current dashboard state and writes it as a waybar JSON line.
func (s *Service) printStatus(context.Context) {
	snap := s.engine.Snapshot()
	pos, hasPos := s.session.LastPosition()
	tplCtx := s.presenter.BuildContext(snap, s.session.State(), pos, hasPos, time.Now())

	rendered, err := s.presenter.Render(tplCtx)
	if err != nil {
		s.logger.Error("failed to render status template", logger.Err(err))
		return
	}

	s.displayAltLock.RLock()
	altMode := s.displayAltText
	s.displayAltLock.RUnlock()

	output := outputData{
		Text:       rendered["text"],
		Tooltip:    rendered["tooltip"],
		Alt:        fuelLevel(snap.Derived),
		Classes:    []string{OutputClass},
		Percentage: int(math.Round(snap.Derived.FuelPercentage)),
	}
	if altMode {
		output.Text = rendered["alt_text"]
		output.Tooltip = rendered["alt_tooltip"]
	}
	if level := fuelLevel(snap.Derived); level != "full" {
		output.Classes = append(output.Classes, level)
	}

	s.outputMu.Lock()
	defer s.outputMu.Unlock()
	if err = json.NewEncoder(s.output).Encode(output); err != nil {
		s.logger.Error("failed to encode status output", logger.Err(err))
	}
}

// processStatusUpdates prints the status whenever the engine or the location state changed.
func (s *Service) processStatusUpdates(ctx context.Context, updates <-chan control.Status) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			s.printStatus(ctx)
		}
	}
}

func (s *Service) publishStatus(snap bike.Snapshot, state tracking.LocationState) {
	s.status.Publish(control.Status{Snapshot: snap, Location: state})
}

func fuelLevel(derived bike.Derived) string {
	switch {
	case derived.FuelPercentage <= 0:
		return EmptyOutputClass
	case derived.IsReserve:
		return ReserveOutputClass
	default:
		return "full"
	}
}

func newBackend(conf *config.Config) (store.Backend, error) {
	switch conf.Storage.Backend {
	case config.StorageFile:
		return filestore.New(conf.Storage.Dir), nil
	case config.StorageRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return redisstore.New(ctx, conf.Storage.RedisAddr, conf.Storage.RedisDB, conf.Storage.RedisPrefix)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", conf.Storage.Backend)
	}
}

func newPlatform(conf *config.Config, log *logger.Logger) (tracking.Platform, error) {
	switch conf.Location.Source {
	case config.SourceGPSD:
		return gpsd.New(conf.Location.GPSDHost, conf.Location.GPSDPort, log), nil
	case config.SourceReplay:
		return replay.New(conf.Location.ReplayFile, conf.Location.ReplayInterval), nil
	default:
		return nil, fmt.Errorf("unsupported location source: %s", conf.Location.Source)
	}
}

func newDesktopNotifier(appName string, log *logger.Logger) (notify.Notifier, error) {
	return desktop.New(appName, log)
}

func serveControl(log *logger.Logger) controlFunc {
	return func(ctx context.Context, obj *control.Object, updates <-chan control.Status) error {
		return control.NewServer(obj, log).Serve(ctx, updates)
	}
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpsd implements a tracking platform backed by a local gpsd daemon.
package gpsd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/waybar-bike/internal/gpspoll"
	"github.com/wneessen/waybar-bike/internal/logger"
	"github.com/wneessen/waybar-bike/internal/tracking"
	"github.com/wneessen/waybar-bike/internal/vartype"
)

const (
	name = "gpsd"

	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second

	// highAccuracyLimit is the largest horizontal error in meters accepted in high accuracy mode.
	highAccuracyLimit = 100
)

// streamFunc connects to gpsd and passes every TPV report to handle. The returned channel
// receives a value once the connection ends.
type streamFunc func(addr string, handle func(*gpsd.TPVReport)) (<-chan bool, error)

// devicesFunc returns the receivers gpsd knows about.
type devicesFunc func(ctx context.Context) ([]gpspoll.Device, error)

// Platform streams position fixes from gpsd.
type Platform struct {
	addr     string
	logger   *logger.Logger
	clock    clockwork.Clock
	streamFn streamFunc
	devices  devicesFunc

	mu   sync.Mutex
	conn *connection
}

// connection is a dialled gpsd session. go-gpsd sessions cannot be closed, so a session is kept
// open and shared by consecutive subscriptions until gpsd drops it.
type connection struct {
	ended chan struct{}

	mu  sync.Mutex
	sub *subscriber
}

// subscriber is the receiving end of the reports of a connection.
type subscriber struct {
	ctx     context.Context
	reports chan *gpsd.TPVReport
}

// New returns a Platform for the gpsd daemon listening on host and port.
func New(host, port string, log *logger.Logger) *Platform {
	client := gpspoll.New(host, port)
	return &Platform{
		addr:     net.JoinHostPort(host, port),
		logger:   log,
		clock:    clockwork.NewRealClock(),
		streamFn: dialStream,
		devices:  client.Devices,
	}
}

func (p *Platform) Name() string {
	return name
}

// QueryPermission maps the receiver state of gpsd to a permission. gpsd has no access control
// of its own: if it has no receiver attached the rider still has to plug one in, which is
// treated as an undecided permission.
func (p *Platform) QueryPermission(ctx context.Context) (tracking.Permission, error) {
	devices, err := p.devices(ctx)
	if err != nil {
		return tracking.PermissionPrompt, fmt.Errorf("%w: %w", tracking.ErrPermissionQueryUnsupported, err)
	}
	if len(devices) == 0 {
		return tracking.PermissionPrompt, nil
	}
	return tracking.PermissionGranted, nil
}

// Watch subscribes to TPV reports. Lost connections are re-established with exponential backoff
// and reported as unavailable positions in the meantime.
func (p *Platform) Watch(ctx context.Context, opts tracking.WatchOptions) (<-chan tracking.Event, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = tracking.SampleTimeout
	}
	out := make(chan tracking.Event)
	go func() {
		defer close(out)
		p.watch(ctx, opts, out)
	}()
	return out, nil
}

func (p *Platform) watch(ctx context.Context, opts tracking.WatchOptions, out chan<- tracking.Event) {
	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := p.connect()
		if err != nil {
			p.logger.Warn("failed to connect to gpsd", slog.String("addr", p.addr), logger.Err(err))
			if !emit(ctx, out, tracking.Event{Err: fmt.Errorf("%w: %w", tracking.ErrPositionUnavailable, err)}) {
				return
			}
			if !p.sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = initialBackoff

		sub := conn.subscribe(ctx)
		ok := p.consume(ctx, opts, sub.reports, conn.ended, out)
		conn.unsubscribe(sub)
		if !ok {
			return
		}
		p.logger.Info("gpsd connection ended, reconnecting", slog.String("addr", p.addr))
		if !emit(ctx, out, tracking.Event{Err: fmt.Errorf("%w: gpsd connection lost", tracking.ErrPositionUnavailable)}) {
			return
		}
		if !p.sleepOrDone(ctx, backoff) {
			return
		}
	}
}

// connect returns the open gpsd connection or dials a new one if there is none or the last
// one has ended.
func (p *Platform) connect() (*connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		select {
		case <-p.conn.ended:
		default:
			return p.conn, nil
		}
	}

	conn := &connection{ended: make(chan struct{})}
	done, err := p.streamFn(p.addr, conn.forward)
	if err != nil {
		return nil, err
	}
	go func() {
		<-done
		close(conn.ended)
	}()
	p.conn = conn
	return conn, nil
}

// consume forwards usable fixes until the connection ends. It returns false once ctx is done.
func (p *Platform) consume(ctx context.Context, opts tracking.WatchOptions, reports <-chan *gpsd.TPVReport,
	ended <-chan struct{}, out chan<- tracking.Event,
) bool {
	timer := p.clock.NewTimer(opts.Timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ended:
			return true
		case <-timer.Chan():
			if !emit(ctx, out, tracking.Event{Err: tracking.ErrTimeout}) {
				return false
			}
			timer.Reset(opts.Timeout)
		case tpv := <-reports:
			sample, err := p.sampleFromTPV(tpv, opts)
			if err != nil {
				p.logger.Debug("skipping TPV report", logger.Err(err))
				continue
			}
			if !emit(ctx, out, tracking.Event{Sample: sample}) {
				return false
			}
			timer.Reset(opts.Timeout)
		}
	}
}

func (p *Platform) sampleFromTPV(tpv *gpsd.TPVReport, opts tracking.WatchOptions) (tracking.Sample, error) {
	if tpv == nil || tpv.Mode < gpsd.Mode2D {
		return tracking.Sample{}, errors.New("no 2D fix")
	}
	if opts.HighAccuracy {
		accuracy := gpspoll.HorizontalAccuracy(int(tpv.Mode), 0, tpv.Epx, tpv.Epy)
		if accuracy > highAccuracyLimit {
			return tracking.Sample{}, fmt.Errorf("horizontal error of %.0f m is too large", accuracy)
		}
	}
	return tracking.Sample{
		Lat:   tpv.Lat,
		Lon:   tpv.Lon,
		Speed: vartype.NewVariable(tpv.Speed),
		At:    p.clock.Now(),
	}, nil
}

// dialStream connects to gpsd using go-gpsd and starts watching the TPV reports.
func dialStream(addr string, handle func(*gpsd.TPVReport)) (<-chan bool, error) {
	session, err := gpsd.Dial(addr)
	if err != nil {
		return nil, err
	}
	session.AddFilter("TPV", func(r interface{}) {
		if tpv, ok := r.(*gpsd.TPVReport); ok {
			handle(tpv)
		}
	})
	return session.Watch(), nil
}

// subscribe makes ctx the receiver of all reports, replacing any previous subscriber.
func (c *connection) subscribe(ctx context.Context) *subscriber {
	sub := &subscriber{ctx: ctx, reports: make(chan *gpsd.TPVReport)}
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
	return sub
}

func (c *connection) unsubscribe(sub *subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == sub {
		c.sub = nil
	}
}

// forward hands a report to the current subscriber. Reports without a subscriber are dropped.
func (c *connection) forward(tpv *gpsd.TPVReport) {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	if sub == nil {
		return
	}
	select {
	case <-sub.ctx.Done():
	case sub.reports <- tpv:
	}
}

func emit(ctx context.Context, out chan<- tracking.Event, event tracking.Event) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- event:
		return true
	}
}

func (p *Platform) sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := p.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}

// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpspoll

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"time"
)

const (
	fallbackAccuracy3DFix = 10  // ~10 m typical consumer GPS in open sky
	fallbackAccuracy2DFix = 25  // worse than 3D, but still accurate enough
	fallbackAccuracyNoFix = 1e6 // effectively unusable
	watchTimeout          = time.Second * 2
)

// ErrNoDevices is returned if gpsd answered but did not report a device list.
var ErrNoDevices = errors.New("no DEVICES response received from GPSd")

// Client is a minimal GPSd client
type Client struct {
	Addr string
}

// Device represents a single receiver attached to gpsd.
type Device struct {
	Path      string `json:"path"`
	Driver    string `json:"driver"`
	Activated string `json:"activated"`
}

// gpsdResponse matches the subset of gpsd's WATCH responses we care about.
type gpsdResponse struct {
	Class   string   `json:"class"`
	Release string   `json:"release"`
	Devices []Device `json:"devices"`
}

// New constructs a new Client for the given host and port.
func New(host, port string) *Client {
	return &Client{
		Addr: net.JoinHostPort(host, port),
	}
}

// Devices connects to gpsd, enables a WATCH and returns the device list gpsd reports
// in response. The connection is closed before returning.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("gpspoll: dial gpsd: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	// Respect context deadline if present, otherwise we add a safety net so we don't hang
	// forever if ctx has no deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(watchTimeout))
	}

	if _, err = fmt.Fprint(conn, `?WATCH={"enable":true,"json":true}`+"\n"); err != nil {
		return nil, fmt.Errorf("gpspoll: write WATCH: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var resp gpsdResponse

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if err = json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		if resp.Class != "DEVICES" {
			continue
		}
		if resp.Devices == nil {
			return []Device{}, nil
		}
		return resp.Devices, nil
	}

	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan GPSd response: %w", err)
	}
	return nil, ErrNoDevices
}

// HorizontalAccuracy estimates the horizontal error of a fix in meters. It prefers the
// reported eph, then the combined epx/epy and finally falls back to a typical value for
// the fix mode.
func HorizontalAccuracy(mode int, eph, epx, epy float64) float64 {
	switch {
	case eph > 0:
		return eph
	case epx > 0 && epy > 0:
		// sqrt(epx² + epy²)
		return math.Hypot(epx, epy)
	default:
		return fallbackAccuracy(mode)
	}
}

func fallbackAccuracy(mode int) float64 {
	switch mode {
	case 3:
		return fallbackAccuracy3DFix
	case 2:
		return fallbackAccuracy2DFix
	default:
		return fallbackAccuracyNoFix
	}
}

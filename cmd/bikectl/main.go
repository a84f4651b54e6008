// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package main implements bikectl, a command line client for a running waybar-bike service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/waybar-bike/internal/control"
)

const callTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to session bus: %s\n", err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	ctx, cancelCall := context.WithTimeout(ctx, callTimeout)
	defer cancelCall()

	out, err := run(ctx, conn.Object(control.BusName, control.ObjectPath), flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if out != "" {
		fmt.Println(out)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: %s <command> [argument]

Commands:
  refuel <liters>     record a refuel
  economy <km/L>      set the fuel economy
  reserve <liters>    set the reserve threshold
  delete <id>         delete a refuel record
  reset-trip          reset the trip counter
  locate              request location permission again
  status              print the dashboard state as JSON
  history             print the refuel history as JSON
`, os.Args[0])
}

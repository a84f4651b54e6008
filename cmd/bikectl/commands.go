// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/waybar-bike/internal/control"
)

var errUsage = errors.New("invalid arguments, see -h for usage")

// caller is the subset of dbus.BusObject used by the commands.
type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...any) *dbus.Call
}

type command struct {
	method string
	args   int
	parse  func(string) (any, error)
	result bool
}

var commands = map[string]command{
	"refuel":     {method: "AddFuel", args: 1, parse: parseFloat},
	"economy":    {method: "SetEconomy", args: 1, parse: parseFloat},
	"reserve":    {method: "SetReserve", args: 1, parse: parseFloat},
	"delete":     {method: "DeleteRecord", args: 1, parse: parseString, result: true},
	"reset-trip": {method: "ResetTrip"},
	"locate":     {method: "RequestLocationPermission"},
	"status":     {method: "Status", result: true},
	"history":    {method: "History", result: true},
}

// run executes the command named by args[0] on obj and returns the text to print.
func run(ctx context.Context, obj caller, args []string) (string, error) {
	if len(args) == 0 {
		return "", errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok || len(args)-1 != cmd.args {
		return "", errUsage
	}

	var callArgs []any
	if cmd.args == 1 {
		value, err := cmd.parse(args[1])
		if err != nil {
			return "", fmt.Errorf("invalid argument %q: %w", args[1], err)
		}
		callArgs = append(callArgs, value)
	}

	call := obj.CallWithContext(ctx, control.Interface+"."+cmd.method, 0, callArgs...)
	if call.Err != nil {
		return "", fmt.Errorf("%s failed: %w", cmd.method, call.Err)
	}
	if !cmd.result || len(call.Body) == 0 {
		return "", nil
	}
	switch v := call.Body[0].(type) {
	case string:
		return v, nil
	case bool:
		if !v {
			return fmt.Sprintf("record %q not found, nothing deleted", args[1]), nil
		}
		return "", nil
	default:
		return fmt.Sprint(v), nil
	}
}

func parseFloat(s string) (any, error) {
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, errors.New("must be a finite number")
	}
	return value, nil
}

func parseString(s string) (any, error) {
	if s == "" {
		return nil, errors.New("must not be empty")
	}
	return s, nil
}

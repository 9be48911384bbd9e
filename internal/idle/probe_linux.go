//go:build linux

package idle

import (
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	login1Dest     = "org.freedesktop.login1"
	seatPathPrefix = "/org/freedesktop/login1/seat/"
	seatIface      = "org.freedesktop.login1.Seat"
)

// platformProbe queries logind's per-seat idle hint over the system bus.
// IdleSinceHint is the instant the seat went idle, in usec since epoch.
func platformProbe(cfg ProbeConfig) (Probe, error) {
	seat := strings.TrimSpace(cfg.Seat)
	if seat == "" {
		seat = "seat0"
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("idle: system bus: %w", err)
	}
	obj := conn.Object(login1Dest, dbus.ObjectPath(seatPathPrefix+seat))

	// Probe once so a misconfigured seat surfaces at selection time.
	if _, err := obj.GetProperty(seatIface + ".IdleHint"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("idle: logind seat %s: %w", seat, err)
	}

	return func() (float64, error) {
		hint, err := obj.GetProperty(seatIface + ".IdleHint")
		if err != nil {
			return 0, err
		}
		idle, ok := hint.Value().(bool)
		if !ok {
			return 0, fmt.Errorf("idle: unexpected IdleHint type %T", hint.Value())
		}
		if !idle {
			return 0, nil
		}
		since, err := obj.GetProperty(seatIface + ".IdleSinceHint")
		if err != nil {
			return 0, err
		}
		usec, ok := since.Value().(uint64)
		if !ok || usec == 0 {
			return 0, nil
		}
		at := time.UnixMicro(int64(usec))
		return time.Since(at).Seconds(), nil
	}, nil
}

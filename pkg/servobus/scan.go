package servobus

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.bug.st/serial"

	"github.com/gwillem/biped/pkg/pose"
)

// Unavailable marks a telemetry value the protocol cannot report.
const Unavailable = -1

// Telemetry is a diagnostic snapshot of one servo.
type Telemetry struct {
	ID           pose.ServoID
	Angle        pose.Angle
	VoltageMV    int
	TemperatureC int
	// Err is set when the servo did not answer.
	Err error
}

// Found reports whether the servo answered.
func (t Telemetry) Found() bool { return t.Err == nil }

type discoverer interface {
	Discover(ctx context.Context, from, to int) ([]pose.ServoID, error)
}

// ListPorts returns the serial ports that may carry a servo bus.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}

	var out []string
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		out = append(out, port)
	}
	return out, nil
}

// Scan reads telemetry from every servo in ids. Servos that do not answer
// are returned with Err set.
func Scan(ctx context.Context, bus Bus, ids []pose.ServoID) []Telemetry {
	var present []pose.ServoID
	if d, ok := bus.(discoverer); ok && len(ids) > 0 {
		lo, hi := slices.Min(ids), slices.Max(ids)
		if found, err := d.Discover(ctx, int(lo), int(hi)); err == nil {
			present = found
		}
	}

	out := make([]Telemetry, 0, len(ids))
	for _, id := range ids {
		t := Telemetry{ID: id, VoltageMV: Unavailable, TemperatureC: Unavailable}

		if present != nil && !slices.Contains(present, id) {
			t.Err = fmt.Errorf("servo %d: %w", id, ErrTimeout)
			out = append(out, t)
			continue
		}
		if err := bus.Ping(ctx, id); err != nil {
			t.Err = err
			out = append(out, t)
			continue
		}

		if a, err := bus.Angle(ctx, id); err == nil {
			t.Angle = a
		}
		if mv, err := bus.Voltage(ctx, id); err == nil {
			t.VoltageMV = mv
		} else if !errors.Is(err, ErrUnsupported) {
			logger.WithError(err).WithField("id", id).Warn("voltage read failed")
		}
		if c, err := bus.Temperature(ctx, id); err == nil {
			t.TemperatureC = c
		} else if !errors.Is(err, ErrUnsupported) {
			logger.WithError(err).WithField("id", id).Warn("temperature read failed")
		}
		out = append(out, t)
	}
	return out
}

package servobus

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"

	"github.com/gwillem/biped/pkg/pose"
)

// STS servos report 4096 steps per revolution.
const (
	feetechBaudRate  = 1_000_000
	feetechStepsFull = 4095
	feetechDegFull   = 360.0
)

// Feetech drives Feetech STS servos.
type Feetech struct {
	bus *feetech.Bus

	mu     sync.Mutex
	servos map[pose.ServoID]*feetech.Servo
}

var (
	_ Bus           = (*Feetech)(nil)
	_ TorqueEnabler = (*Feetech)(nil)
)

// OpenFeetech opens the serial bus named in cfg.
func OpenFeetech(cfg Config) (*Feetech, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = feetechBaudRate
	}

	// Open serial bus
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: baud,
		Protocol: feetech.ProtocolSTS,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	return &Feetech{
		bus:    bus,
		servos: make(map[pose.ServoID]*feetech.Servo),
	}, nil
}

// Close closes the bus connection.
func (f *Feetech) Close() error {
	return f.bus.Close()
}

func (f *Feetech) servo(id pose.ServoID) *feetech.Servo {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.servos[id]
	if !ok {
		s = feetech.NewServo(f.bus, int(id), nil)
		f.servos[id] = s
	}
	return s
}

func degreesToSteps(a pose.Angle) int {
	return int(math.Round(float64(a) / feetechDegFull * feetechStepsFull))
}

func stepsToDegrees(steps int) pose.Angle {
	return pose.Angle(float64(steps) * feetechDegFull / feetechStepsFull)
}

// MoveTo sets the goal position together with the move time.
func (f *Feetech) MoveTo(ctx context.Context, id pose.ServoID, angle pose.Angle, d time.Duration) error {
	if !(angle >= pose.MinAngle && angle <= pose.MaxAngle) {
		return fmt.Errorf("move servo %d to %.1f: %w", id, angle, ErrRejected)
	}
	err := f.servo(id).SetPositionWithTime(ctx, degreesToSteps(angle), int(d.Milliseconds()))
	return wrapDriverError("move", id, err)
}

// Angle reads the present position.
func (f *Feetech) Angle(ctx context.Context, id pose.ServoID) (pose.Angle, error) {
	pos, err := f.servo(id).Position(ctx)
	if err != nil {
		return 0, wrapDriverError("read position of", id, err)
	}
	return stepsToDegrees(pos), nil
}

// Voltage is not exposed by the feetech driver.
func (f *Feetech) Voltage(ctx context.Context, id pose.ServoID) (int, error) {
	return 0, fmt.Errorf("read voltage of servo %d: %w", id, ErrUnsupported)
}

// Temperature is not exposed by the feetech driver.
func (f *Feetech) Temperature(ctx context.Context, id pose.ServoID) (int, error) {
	return 0, fmt.Errorf("read temperature of servo %d: %w", id, ErrUnsupported)
}

// Ping reads the servo position.
func (f *Feetech) Ping(ctx context.Context, id pose.ServoID) error {
	_, err := f.servo(id).Position(ctx)
	return wrapDriverError("ping", id, err)
}

// EnableTorque switches the servo torque on so that later moves take
// effect.
func (f *Feetech) EnableTorque(ctx context.Context, id pose.ServoID) error {
	return wrapDriverError("enable", id, f.servo(id).Enable(ctx))
}

// Discover scans the bus for servos with IDs in [from, to].
func (f *Feetech) Discover(ctx context.Context, from, to int) ([]pose.ServoID, error) {
	found, err := f.bus.Scan(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("scan bus: %w", err)
	}
	ids := make([]pose.ServoID, 0, len(found))
	for _, s := range found {
		ids = append(ids, pose.ServoID(s.ID))
	}
	return ids, nil
}

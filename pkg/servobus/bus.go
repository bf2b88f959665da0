// Package servobus talks to serial-bus servos.
//
// A Bus moves servos to an angle over a given time and reads back their
// telemetry. Drivers exist for LewanSoul LX-16A and Feetech STS servos, plus
// an in-memory Sim bus for tests and dry runs.
package servobus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gwillem/biped/pkg/pose"
)

var logger = log.WithFields(log.Fields{
	"pkg": "servobus",
})

// Servo command errors. Drivers wrap their failures in one of these so that
// callers can classify them with Classify.
var (
	ErrTimeout      = errors.New("servo timeout")
	ErrDisconnected = errors.New("servo disconnected")
	ErrRejected     = errors.New("servo rejected command")
	ErrUnsupported  = errors.New("not supported by protocol")
)

// Bus is a half-duplex serial link to addressable servos.
type Bus interface {
	// MoveTo commands a servo to reach angle within d. It returns once the
	// command is written; it does not wait for the motion.
	MoveTo(ctx context.Context, id pose.ServoID, angle pose.Angle, d time.Duration) error
	// Angle reads the current servo position.
	Angle(ctx context.Context, id pose.ServoID) (pose.Angle, error)
	// Voltage reads the supply voltage in millivolts.
	Voltage(ctx context.Context, id pose.ServoID) (int, error)
	// Temperature reads the servo temperature in degrees Celsius.
	Temperature(ctx context.Context, id pose.ServoID) (int, error)
	// Ping checks that a servo answers on the bus.
	Ping(ctx context.Context, id pose.ServoID) error
	Close() error
}

// TorqueEnabler is implemented by buses whose servos ignore moves until
// torque is switched on. LX-16A servos enable torque on the first move.
type TorqueEnabler interface {
	EnableTorque(ctx context.Context, id pose.ServoID) error
}

// EnableTorque switches on the torque of id when the bus needs it.
func EnableTorque(ctx context.Context, bus Bus, id pose.ServoID) error {
	te, ok := bus.(TorqueEnabler)
	if !ok {
		return nil
	}
	return te.EnableTorque(ctx, id)
}

// Protocol selects a bus driver.
type Protocol string

const (
	ProtocolLX16A   Protocol = "lx16a"
	ProtocolFeetech Protocol = "feetech"
	ProtocolSim     Protocol = "sim"
)

// Config holds the parameters needed to open a bus.
type Config struct {
	Port     string
	Protocol Protocol
	BaudRate int           // zero selects the protocol default
	Timeout  time.Duration // read timeout, zero selects 100ms
}

// Dialer opens a bus. The session controller takes one so tests can inject
// a simulated bus.
type Dialer func(ctx context.Context, cfg Config) (Bus, error)

// ConnectionError reports that the bus could not be opened.
type ConnectionError struct {
	Port     string
	Protocol Protocol
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s bus on %s: %v", e.Protocol, e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Open opens a bus using the driver selected by cfg.Protocol.
func Open(ctx context.Context, cfg Config) (Bus, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 100 * time.Millisecond
	}

	var (
		bus Bus
		err error
	)
	switch cfg.Protocol {
	case ProtocolLX16A, "":
		cfg.Protocol = ProtocolLX16A
		bus, err = OpenLX16A(cfg)
	case ProtocolFeetech:
		bus, err = OpenFeetech(cfg)
	case ProtocolSim:
		bus = NewSim()
	default:
		err = fmt.Errorf("unknown protocol %q", cfg.Protocol)
	}
	if err != nil {
		return nil, &ConnectionError{Port: cfg.Port, Protocol: cfg.Protocol, Err: err}
	}

	logger.WithFields(log.Fields{
		"port":     cfg.Port,
		"protocol": cfg.Protocol,
	}).Debug("bus opened")
	return bus, nil
}

// Kind classifies a servo command failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindDisconnected
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindDisconnected:
		return "disconnected"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by a Bus to its Kind.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrDisconnected), errors.Is(err, os.ErrClosed):
		return KindDisconnected
	case errors.Is(err, ErrRejected):
		return KindRejected
	default:
		return KindUnknown
	}
}

// wrapDriverError maps an error from a third-party driver onto the sentinel
// errors of this package when the driver offers no typed errors.
func wrapDriverError(op string, id pose.ServoID, err error) error {
	if err == nil {
		return nil
	}
	if Classify(err) != KindUnknown {
		return fmt.Errorf("%s servo %d: %w", op, id, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "no response"):
		return fmt.Errorf("%s servo %d: %w: %v", op, id, ErrTimeout, err)
	case strings.Contains(msg, "closed"), strings.Contains(msg, "not open"):
		return fmt.Errorf("%s servo %d: %w: %v", op, id, ErrDisconnected, err)
	}
	return fmt.Errorf("%s servo %d: %w", op, id, err)
}

// Package player realizes poses on the servos.
package player

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gwillem/biped/pkg/pose"
	"github.com/gwillem/biped/pkg/servobus"
)

// SettleMargin is added to every commanded move time before the next pose.
const SettleMargin = 50 * time.Millisecond

// Failure records a servo that did not accept its command.
type Failure struct {
	ID   pose.ServoID
	Kind servobus.Kind
	Err  error
}

// PlayResult lists the outcome of every servo command issued for one pose.
type PlayResult struct {
	Succeeded []pose.ServoID
	Failed    []Failure
	// Clamped lists servos whose target was limited to the servo range.
	Clamped  []pose.ServoID
	Duration time.Duration
}

// OK reports whether every servo accepted its command.
func (r PlayResult) OK() bool {
	return len(r.Failed) == 0
}

// FailedIDs returns the IDs of the failed servos in dispatch order.
func (r PlayResult) FailedIDs() []pose.ServoID {
	ids := make([]pose.ServoID, 0, len(r.Failed))
	for _, f := range r.Failed {
		ids = append(ids, f.ID)
	}
	return ids
}

// FailureOf returns the failure kind recorded for id.
func (r PlayResult) FailureOf(id pose.ServoID) (servobus.Kind, bool) {
	for _, f := range r.Failed {
		if f.ID == id {
			return f.Kind, true
		}
	}
	return servobus.KindUnknown, false
}

// Player dispatches poses to a bus and waits for the motion to finish.
type Player struct {
	bus    servobus.Bus
	clock  Clock
	log    logrus.FieldLogger
	settle time.Duration
}

// Option configures a Player.
type Option func(*Player)

// WithClock replaces the real clock.
func WithClock(c Clock) Option {
	return func(p *Player) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Player) { p.log = l }
}

// WithSettleMargin sets the extra wait after each move. Values below
// SettleMargin are raised to it.
func WithSettleMargin(d time.Duration) Option {
	return func(p *Player) { p.settle = max(d, SettleMargin) }
}

// New creates a player on bus.
func New(bus servobus.Bus, opts ...Option) *Player {
	p := &Player{
		bus:    bus,
		clock:  RealClock(),
		log:    logrus.StandardLogger(),
		settle: SettleMargin,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Clock returns the clock the player sleeps on.
func (p *Player) Clock() Clock {
	return p.clock
}

// ApplyPose commands every servo in ps to its angle over d, then waits d
// plus the settle margin. Servo failures are recorded in the result and do
// not stop the remaining commands or shorten the wait.
//
// Commands are written even if ctx is cancelled half way, so that a pose is
// never left partially dispatched.
func (p *Player) ApplyPose(ctx context.Context, ps pose.Pose, d time.Duration) PlayResult {
	res := PlayResult{Duration: d}
	ctx = context.WithoutCancel(ctx)

	for _, id := range ps.IDs() {
		a, _ := ps.Angle(id)
		target, clamped := pose.Clamped(a)
		if clamped {
			res.Clamped = append(res.Clamped, id)
			p.log.WithFields(logrus.Fields{
				"servo":  id,
				"angle":  a,
				"target": target,
			}).Debug("angle clamped")
		}

		if err := p.move(ctx, id, target, d); err != nil {
			f := Failure{ID: id, Kind: servobus.Classify(err), Err: err}
			res.Failed = append(res.Failed, f)
			p.log.WithFields(logrus.Fields{
				"servo": id,
				"kind":  f.Kind,
			}).WithError(err).Warn("servo command failed")
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}

	p.clock.Sleep(d + p.settle)
	return res
}

// Pause waits d without commanding anything.
func (p *Player) Pause(d time.Duration) {
	p.clock.Sleep(d)
}

func (p *Player) move(ctx context.Context, id pose.ServoID, a pose.Angle, d time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("move servo %d: panic: %v", id, r)
		}
	}()
	return p.bus.MoveTo(ctx, id, a, d)
}

// Package session runs one gait on the robot from connect to neutral stance.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/biped/pkg/gait"
	"github.com/gwillem/biped/pkg/player"
	"github.com/gwillem/biped/pkg/pose"
	"github.com/gwillem/biped/pkg/robot"
	"github.com/gwillem/biped/pkg/servobus"
)

// Program is a gait to run once the servos are initialized.
type Program func(ctx context.Context, c *gait.Composer) (*gait.Report, error)

// Walk returns a program that walks the given number of steps.
func Walk(steps int, stepDuration time.Duration) Program {
	return func(ctx context.Context, c *gait.Composer) (*gait.Report, error) {
		return c.Walk(ctx, steps, stepDuration)
	}
}

// Dance returns a program dancing for at least duration.
func Dance(duration, phraseDuration time.Duration) Program {
	return func(ctx context.Context, c *gait.Composer) (*gait.Report, error) {
		return c.Dance(ctx, duration, phraseDuration)
	}
}

// Config holds configuration for the controller.
type Config struct {
	Bus          servobus.Config
	Calibration  robot.Calibration
	Choreography gait.Choreography
	// RequireAllServos makes any missing servo fatal. Otherwise the session
	// runs degraded as long as at least one servo answers.
	RequireAllServos bool

	Dial        servobus.Dialer // defaults to servobus.Open
	Clock       player.Clock    // defaults to the real clock
	Logger      logrus.FieldLogger
	EventBuffer int // defaults to 64
}

// Event is published on every state change, keyframe and log message.
type Event struct {
	Time  time.Time
	State State
	// Changed is set when the event announces a new state.
	Changed bool
	Entry   *gait.Entry
	Message string
}

// Outcome summarizes a finished session.
type Outcome struct {
	SessionID string
	State     State
	Report    *gait.Report
	Missing   []pose.ServoID
	// Neutral is the result of the closing neutral pose, nil when it was
	// never attempted.
	Neutral     *player.PlayResult
	Interrupted bool
	Err         error
}

// NeutralConfirmed reports whether every servo accepted the closing neutral
// pose.
func (o *Outcome) NeutralConfirmed() bool {
	return o.Neutral != nil && o.Neutral.OK()
}

// Controller owns the bus for the lifetime of one session.
type Controller struct {
	cfg Config
	id  string
	lib *gait.Library
	log *logrus.Entry

	mu     sync.RWMutex
	state  State
	events chan Event
}

// New creates a controller. The choreography is built here, so corrupted
// motion data fails before the bus is touched.
func New(cfg Config) (*Controller, error) {
	if cfg.Dial == nil {
		cfg.Dial = servobus.Open
	}
	if cfg.Clock == nil {
		cfg.Clock = player.RealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if err := cfg.Calibration.Validate(); err != nil {
		return nil, err
	}

	lib, err := gait.Build(cfg.Calibration, cfg.Choreography)
	if err != nil {
		return nil, fmt.Errorf("build choreography: %w", err)
	}

	id := uuid.NewString()
	return &Controller{
		cfg:    cfg,
		id:     id,
		lib:    lib,
		log:    cfg.Logger.WithField("session", id),
		state:  Disconnected,
		events: make(chan Event, cfg.EventBuffer),
	}, nil
}

// ID returns the session id used in logs.
func (c *Controller) ID() string {
	return c.id
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Events returns a channel that receives session events. Events are
// dropped when nobody reads them.
func (c *Controller) Events() <-chan Event {
	return c.events
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	from := c.state
	if !CanTransition(from, s) {
		c.mu.Unlock()
		panic(fmt.Sprintf("session: invalid transition %s -> %s", from, s))
	}
	c.state = s
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"from": from, "to": s}).Debug("state")
	c.publish(Event{State: s, Changed: true})
}

func (c *Controller) publish(e Event) {
	e.Time = time.Now()
	if !e.Changed {
		e.State = c.State()
	}
	select {
	case c.events <- e:
	default:
		// Drop if channel full
	}
}

// logf logs msg at level and publishes it.
func (c *Controller) logf(level logrus.Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.log.Log(level, msg)
	c.publish(Event{Message: msg})
}

// Run connects, initializes the servos, runs prog and returns to the
// neutral stance. The neutral pose is attempted whenever the servos were
// reached, whether prog finished, was cancelled through ctx or failed.
//
// A cancelled ctx is not an error: the outcome is marked Interrupted and
// exactly one neutral pose follows the cancel. Connection and fatal
// initialization errors leave the session Failed.
func (c *Controller) Run(ctx context.Context, prog Program) (*Outcome, error) {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil, fmt.Errorf("session already used")
	}
	c.mu.Unlock()

	out := &Outcome{SessionID: c.id}
	fail := func(err error) (*Outcome, error) {
		c.setState(Failed)
		out.State = Failed
		out.Err = err
		return out, err
	}

	c.logf(logrus.InfoLevel, "Connecting to %s (%s)", c.cfg.Bus.Port, c.cfg.Bus.Protocol)
	bus, err := c.cfg.Dial(ctx, c.cfg.Bus)
	if err != nil {
		var connErr *servobus.ConnectionError
		if !errors.As(err, &connErr) {
			err = &servobus.ConnectionError{Port: c.cfg.Bus.Port, Protocol: c.cfg.Bus.Protocol, Err: err}
		}
		c.logf(logrus.ErrorLevel, "Failed to connect: %v", err)
		return fail(err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			c.log.WithError(err).Warn("close bus")
		}
	}()
	c.setState(Connected)

	p := player.New(bus, player.WithClock(c.cfg.Clock), player.WithLogger(c.log))
	composer := gait.NewComposer(p, c.lib,
		gait.WithLogger(c.log),
		gait.WithObserver(func(e gait.Entry) { c.publish(Event{Entry: &e}) }),
	)

	missing, err := c.initialize(ctx, bus)
	out.Missing = missing
	switch {
	case err != nil && ctx.Err() != nil:
		// Interrupted before any gait was played, still leave the robot
		// standing.
		out.Interrupted = true
		c.logf(logrus.WarnLevel, "Interrupted during initialization")
		c.setState(Neutralizing)
		c.neutralize(ctx, composer, out)
		c.setState(Idle)
		out.State = Idle
		return out, nil
	case err != nil:
		// Whatever answered may be mid-motion from a previous run.
		c.neutralize(ctx, composer, out)
		return fail(err)
	}
	c.setState(Initialized)

	c.setState(Running)
	report, runErr := c.run(ctx, prog, composer)
	out.Report = report
	out.Interrupted = ctx.Err() != nil

	c.setState(Neutralizing)
	if out.Interrupted && report.EndsAtNeutral() {
		// The gait's closing neutral was under way when the cancel came.
		last := report.Entries[len(report.Entries)-1]
		out.Neutral = &last.Result
		c.logf(logrus.InfoLevel, "Returned to neutral standing position")
	} else {
		c.neutralize(ctx, composer, out)
	}
	c.setState(Idle)
	out.State = Idle

	if out.Interrupted {
		c.logf(logrus.WarnLevel, "Interrupted")
		if errors.Is(runErr, ctx.Err()) {
			runErr = nil
		}
	}
	if runErr != nil {
		out.Err = runErr
		return out, runErr
	}
	return out, nil
}

// initialize pings every configured servo and switches on its torque.
// Missing servos are fatal when RequireAllServos is set or when none
// answers. A cancelled ctx stops the pings and returns ctx.Err().
func (c *Controller) initialize(ctx context.Context, bus servobus.Bus) ([]pose.ServoID, error) {
	var missing []pose.ServoID
	ids := c.cfg.Calibration.ServoIDs()
	for _, id := range ids {
		err := bus.Ping(ctx, id)
		if err == nil {
			err = servobus.EnableTorque(ctx, bus, id)
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		name, _, _ := c.cfg.Calibration.ByID(id)
		c.logf(logrus.WarnLevel, "Servo %d (%s) not responding: %v", id, name, err)
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		c.logf(logrus.InfoLevel, "All %d servos initialized", len(ids))
		return nil, nil
	}

	initErr := &InitializationError{Missing: missing}
	if c.cfg.RequireAllServos || len(missing) == len(ids) {
		initErr.Fatal = true
		return missing, initErr
	}
	c.logf(logrus.WarnLevel, "Running degraded: %v", initErr)
	return missing, nil
}

func (c *Controller) run(ctx context.Context, prog Program, composer *gait.Composer) (report *gait.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gait panicked: %v", r)
		}
	}()
	return prog(ctx, composer)
}

// neutralize applies the neutral pose once, even if ctx is cancelled.
func (c *Controller) neutralize(ctx context.Context, composer *gait.Composer, out *Outcome) {
	c.logf(logrus.InfoLevel, "Returning to neutral standing position")
	e := composer.Neutral(context.WithoutCancel(ctx))
	out.Neutral = &e.Result
	if !e.Result.OK() {
		c.logf(logrus.WarnLevel, "Warning: could not return to neutral, servos %v did not respond", e.Result.FailedIDs())
		return
	}
	c.logf(logrus.InfoLevel, "Returned to neutral standing position")
}

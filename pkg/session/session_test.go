package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/biped/pkg/gait"
	"github.com/gwillem/biped/pkg/player"
	"github.com/gwillem/biped/pkg/pose"
	"github.com/gwillem/biped/pkg/robot"
	"github.com/gwillem/biped/pkg/servobus"
)

func testConfig(sim *servobus.Sim, dialErr error) Config {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return Config{
		Bus:          servobus.Config{Port: "/dev/null", Protocol: servobus.ProtocolSim},
		Calibration:  robot.DefaultCalibration(),
		Choreography: gait.DefaultChoreography(),
		Dial:         servobus.SimDialer(sim, dialErr),
		Clock:        player.NewManualClock(time.Unix(1000, 0)),
		Logger:       logger,
		EventBuffer:  1024,
	}
}

func newController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func drain(c *Controller) []Event {
	var events []Event
	for {
		select {
		case e := <-c.Events():
			events = append(events, e)
		default:
			return events
		}
	}
}

func stateChanges(events []Event) []State {
	var states []State
	for _, e := range events {
		if e.Changed {
			states = append(states, e.State)
		}
	}
	return states
}

func neutralMoves(t *testing.T) []servobus.Move {
	t.Helper()
	neutral := robot.DefaultCalibration().NeutralPose()
	var moves []servobus.Move
	for _, id := range neutral.IDs() {
		a, _ := neutral.Angle(id)
		moves = append(moves, servobus.Move{ID: id, Angle: a, Duration: gait.NeutralMove})
	}
	return moves
}

func TestConnectFailure(t *testing.T) {
	sim := servobus.NewSim()
	c := newController(t, testConfig(sim, errors.New("no such device")))

	out, err := c.Run(context.Background(), Walk(6, 500*time.Millisecond))
	require.Error(t, err)

	var connErr *servobus.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "/dev/null", connErr.Port)
	assert.Equal(t, Failed, c.State())
	assert.Equal(t, Failed, out.State)
	assert.Nil(t, out.Neutral)
	assert.False(t, out.NeutralConfirmed())
	assert.Empty(t, sim.Moves(), "no move may be issued without a connection")
	assert.Equal(t, []State{Failed}, stateChanges(drain(c)))
}

func TestWalkSession(t *testing.T) {
	sim := servobus.NewSim()
	c := newController(t, testConfig(sim, nil))

	out, err := c.Run(context.Background(), Walk(2, 500*time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, Idle, c.State())
	assert.Equal(t, Idle, out.State)
	assert.Equal(t, c.ID(), out.SessionID)
	assert.True(t, out.NeutralConfirmed())
	assert.False(t, out.Interrupted)
	assert.Empty(t, out.Missing)
	require.NotNil(t, out.Report)
	assert.Equal(t, 2, out.Report.Cycles)
	assert.True(t, sim.Closed())
	assert.Equal(t, robot.DefaultCalibration().ServoIDs(), sim.Enabled())

	// Gait neutral, 8 step keyframes, gait neutral, session neutral.
	moves := sim.Moves()
	assert.Len(t, moves, 11*6)
	assert.Equal(t, neutralMoves(t), moves[len(moves)-6:])

	events := drain(c)
	assert.Equal(t, []State{Connected, Initialized, Running, Neutralizing, Idle}, stateChanges(events))

	var states []State
	for _, e := range events {
		if e.Entry != nil {
			states = append(states, e.State)
		}
	}
	require.Len(t, states, 11)
	for _, s := range states[:10] {
		assert.Equal(t, Running, s)
	}
	assert.Equal(t, Neutralizing, states[10])
}

func TestCancelMidGait(t *testing.T) {
	sim := servobus.NewSim()
	c := newController(t, testConfig(sim, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var n int
	sim.OnMove = func(servobus.Move) {
		n++
		if n == 15 {
			cancel()
		}
	}

	out, err := c.Run(ctx, Walk(6, 500*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, out.Interrupted)
	assert.Equal(t, Idle, c.State())
	assert.True(t, out.NeutralConfirmed())

	// The swing keyframe in flight completes, then exactly one neutral pose.
	moves := sim.Moves()
	require.Len(t, moves, 24)
	assert.Equal(t, neutralMoves(t), moves[18:])
	for _, m := range moves[6:18] {
		assert.Equal(t, 500*time.Millisecond, m.Duration)
	}
	assert.Equal(t, 0, out.Report.Cycles)
}

func cancelOnMove(sim *servobus.Sim, n int) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	var moves int
	sim.OnMove = func(servobus.Move) {
		moves++
		if moves == n {
			cancel()
		}
	}
	return ctx
}

func TestCancelDuringGaitClosingNeutral(t *testing.T) {
	sim := servobus.NewSim()
	c := newController(t, testConfig(sim, nil))

	// Moves 31-36 are the gait's own closing neutral.
	out, err := c.Run(cancelOnMove(sim, 31), Walk(1, 100*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, out.Interrupted)
	assert.True(t, out.NeutralConfirmed())
	assert.Equal(t, Idle, out.State)

	moves := sim.Moves()
	require.Len(t, moves, 36, "exactly one neutral pose after the cancel")
	assert.Equal(t, neutralMoves(t), moves[30:])
	assert.Equal(t, []State{Connected, Initialized, Running, Neutralizing, Idle}, stateChanges(drain(c)))
}

func TestCancelDuringLastStepKeyframe(t *testing.T) {
	sim := servobus.NewSim()
	c := newController(t, testConfig(sim, nil))

	// Moves 25-30 are the step's return to neutral, played at step speed.
	out, err := c.Run(cancelOnMove(sim, 27), Walk(1, 100*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, out.Interrupted)
	assert.True(t, out.NeutralConfirmed())
	assert.Equal(t, 1, out.Report.Cycles)

	moves := sim.Moves()
	require.Len(t, moves, 36)
	for _, m := range moves[24:30] {
		assert.Equal(t, 100*time.Millisecond, m.Duration)
	}
	assert.Equal(t, neutralMoves(t), moves[30:], "the session issues the only neutral")
}

// cancellingBus cancels the session while the nth servo is pinged.
type cancellingBus struct {
	*servobus.Sim
	cancel context.CancelFunc
	n      int
	pings  int
}

func (b *cancellingBus) Ping(ctx context.Context, id pose.ServoID) error {
	b.pings++
	if b.pings == b.n {
		b.cancel()
		return fmt.Errorf("read servo %d: %w", id, ctx.Err())
	}
	return b.Sim.Ping(ctx, id)
}

func TestInterruptedDuringInitialization(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sim := servobus.NewSim()
	bus := &cancellingBus{Sim: sim, cancel: cancel, n: 3}

	cfg := testConfig(sim, nil)
	cfg.RequireAllServos = true
	cfg.Dial = func(context.Context, servobus.Config) (servobus.Bus, error) { return bus, nil }
	c := newController(t, cfg)

	out, err := c.Run(ctx, Walk(6, 500*time.Millisecond))
	require.NoError(t, err, "an interrupt is not an initialization failure")
	assert.True(t, out.Interrupted)
	assert.Empty(t, out.Missing)
	assert.Nil(t, out.Report)
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 3, bus.pings, "no pings after the cancel")
	assert.Len(t, sim.Enabled(), 2)

	assert.Equal(t, neutralMoves(t), sim.Moves())
	assert.Equal(t, []State{Connected, Neutralizing, Idle}, stateChanges(drain(c)))
}

func TestCancelledBeforeRun(t *testing.T) {
	sim := servobus.NewSim()
	c := newController(t, testConfig(sim, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := c.Run(ctx, Dance(15*time.Second, 400*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, out.Interrupted)
	assert.Equal(t, neutralMoves(t), sim.Moves())
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, []State{Connected, Neutralizing, Idle}, stateChanges(drain(c)))
}

func TestDegradedInitialization(t *testing.T) {
	sim := servobus.NewSim(10, 20, 30, 50, 60)
	c := newController(t, testConfig(sim, nil))

	out, err := c.Run(context.Background(), Dance(time.Millisecond, 400*time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, []pose.ServoID{40}, out.Missing)
	assert.Equal(t, Idle, out.State)
	assert.False(t, out.NeutralConfirmed())
	assert.Equal(t, []pose.ServoID{40}, out.Neutral.FailedIDs())
	assert.Equal(t, out.Report.Keyframes(), out.Report.FailureCounts()[40])

	for _, m := range sim.Moves() {
		assert.NotEqual(t, pose.ServoID(40), m.ID)
	}
}

func TestStrictInitialization(t *testing.T) {
	sim := servobus.NewSim(10, 20, 30, 50, 60)
	cfg := testConfig(sim, nil)
	cfg.RequireAllServos = true
	c := newController(t, cfg)

	out, err := c.Run(context.Background(), Walk(6, 500*time.Millisecond))
	require.Error(t, err)

	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.True(t, initErr.Fatal)
	assert.Equal(t, []pose.ServoID{40}, initErr.Missing)
	assert.Equal(t, Failed, c.State())
	assert.Nil(t, out.Report)

	// Only the best-effort neutral reached the bus.
	require.NotNil(t, out.Neutral)
	assert.Len(t, sim.Moves(), 5)
	assert.Equal(t, []State{Connected, Failed}, stateChanges(drain(c)))
}

func TestNoServosAnswering(t *testing.T) {
	sim := servobus.NewSim(99)
	c := newController(t, testConfig(sim, nil))

	_, err := c.Run(context.Background(), Walk(6, 500*time.Millisecond))

	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.True(t, initErr.Fatal)
	assert.Len(t, initErr.Missing, 6)
	assert.Equal(t, Failed, c.State())
	assert.Empty(t, sim.Moves())
}

func TestNeutralFailureStillIdle(t *testing.T) {
	sim := servobus.NewSim()
	c := newController(t, testConfig(sim, nil))

	var n int
	sim.OnMove = func(servobus.Move) {
		n++
		if n == 12 {
			sim.Close()
		}
	}

	out, err := c.Run(context.Background(), Walk(2, 500*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, Idle, out.State)
	assert.False(t, out.NeutralConfirmed())
	assert.Len(t, out.Neutral.Failed, 6)
	assert.Equal(t, servobus.KindDisconnected, out.Neutral.Failed[0].Kind)
	assert.False(t, out.Report.Healthy())

	var warned bool
	for _, e := range drain(c) {
		if e.State == Neutralizing && strings.HasPrefix(e.Message, "Warning") {
			warned = true
		}
	}
	assert.True(t, warned, "neutral failure must be reported")
}

func TestProgramError(t *testing.T) {
	sim := servobus.NewSim()
	c := newController(t, testConfig(sim, nil))

	boom := errors.New("boom")
	out, err := c.Run(context.Background(), func(ctx context.Context, g *gait.Composer) (*gait.Report, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Idle, out.State)
	assert.False(t, out.Interrupted)
	assert.True(t, out.NeutralConfirmed())
	assert.Equal(t, neutralMoves(t), sim.Moves())
}

func TestProgramPanic(t *testing.T) {
	sim := servobus.NewSim()
	c := newController(t, testConfig(sim, nil))

	out, err := c.Run(context.Background(), func(ctx context.Context, g *gait.Composer) (*gait.Report, error) {
		panic("bad keyframe")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad keyframe")
	assert.Equal(t, Idle, c.State())
	assert.True(t, out.NeutralConfirmed())
}

func TestInvalidChoreography(t *testing.T) {
	cfg := testConfig(servobus.NewSim(), nil)
	cfg.Choreography.Dance = []gait.Phrase{{
		Name:      "Tail Wag",
		Keyframes: []gait.Keyframe{{Label: "wag", Delta: map[robot.JointName]float64{"tail": 10}}},
	}}

	_, err := New(cfg)
	require.ErrorIs(t, err, pose.ErrInvalidServoID)
}

func TestRunOnce(t *testing.T) {
	c := newController(t, testConfig(servobus.NewSim(), nil))

	_, err := c.Run(context.Background(), Walk(1, 100*time.Millisecond))
	require.NoError(t, err)

	_, err = c.Run(context.Background(), Walk(1, 100*time.Millisecond))
	assert.Error(t, err)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{Disconnected, Connected, true},
		{Disconnected, Running, false},
		{Connected, Initialized, true},
		{Connected, Neutralizing, true},
		{Initialized, Neutralizing, false},
		{Initialized, Running, true},
		{Running, Neutralizing, true},
		{Running, Idle, false},
		{Neutralizing, Idle, true},
		{Idle, Running, false},
		{Connected, Failed, true},
		{Idle, Failed, true},
		{Failed, Failed, false},
		{Failed, Connected, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestInitializationErrorMessage(t *testing.T) {
	err := &InitializationError{Missing: []pose.ServoID{10, 40}}
	assert.Equal(t, "servos not responding: 10, 40", err.Error())
}

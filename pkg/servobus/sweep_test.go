package servobus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/biped/pkg/pose"
)

func TestSweep(t *testing.T) {
	sim := NewSim(5)
	ctx := context.Background()
	require.NoError(t, sim.MoveTo(ctx, 5, 90, 0))
	sim.Reset()

	points, err := Sweep(ctx, sim, 5, SweepAngles, 500*time.Millisecond, 0)
	require.NoError(t, err)
	require.Len(t, points, len(SweepAngles))
	for i, p := range points {
		assert.NoError(t, p.Err)
		assert.Equal(t, SweepAngles[i], p.Target)
		assert.Zero(t, p.Error())
	}

	moves := sim.Moves()
	require.Len(t, moves, len(SweepAngles)+1)
	assert.Equal(t, Move{ID: 5, Angle: 90, Duration: 500 * time.Millisecond}, moves[len(moves)-1], "returns to the start angle")
	assert.Equal(t, []pose.ServoID{5}, sim.Enabled())
}

func TestSweep_RejectedTarget(t *testing.T) {
	sim := NewSim()
	points, err := Sweep(context.Background(), sim, 1, []pose.Angle{60, 300}, time.Second, 0)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.NoError(t, points[0].Err)
	assert.Equal(t, KindRejected, Classify(points[1].Err))
}

func TestSweep_MissingServo(t *testing.T) {
	sim := NewSim(1)
	_, err := Sweep(context.Background(), sim, 2, SweepAngles, time.Second, 0)
	assert.Equal(t, KindTimeout, Classify(err))
	assert.Empty(t, sim.Moves())
}

func TestSweep_CancelledReturnsToStart(t *testing.T) {
	sim := NewSim()
	ctx, cancel := context.WithCancel(context.Background())
	sim.OnMove = func(m Move) {
		if m.Angle == 0 {
			cancel()
		}
	}

	points, err := Sweep(ctx, sim, 1, SweepAngles, time.Second, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, points)

	moves := sim.Moves()
	require.Len(t, moves, 2)
	assert.Equal(t, pose.Angle(0), moves[0].Angle)
	assert.Equal(t, pose.MaxAngle/2, moves[1].Angle)
}

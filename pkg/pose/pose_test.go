package pose

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampAngle(t *testing.T) {
	tests := []struct {
		in       Angle
		expected Angle
	}{
		{-10, 0},
		{0, 0},
		{120.5, 120.5},
		{240, 240},
		{240.1, 240},
		{1e9, 240},
		{Angle(math.Inf(-1)), 0},
	}

	for _, tt := range tests {
		got := ClampAngle(tt.in)
		if got != tt.expected {
			t.Errorf("ClampAngle(%v) = %v, want %v", tt.in, got, tt.expected)
		}
	}
}

func TestClampAngle_Idempotent(t *testing.T) {
	for x := Angle(-500); x <= 500; x += 7.25 {
		once := ClampAngle(x)
		assert.Equal(t, once, ClampAngle(once), "clamp(clamp(%v))", x)
	}
}

func TestClamped(t *testing.T) {
	a, changed := Clamped(250)
	assert.Equal(t, Angle(240), a)
	assert.True(t, changed)

	a, changed = Clamped(100)
	assert.Equal(t, Angle(100), a)
	assert.False(t, changed)
}

func neutral() Pose {
	return NewPose(map[ServoID]Angle{
		20: 215.3, 10: 123.6, 40: 123.1,
		50: 234.0, 60: 107.3, 30: 177.4,
	})
}

func TestCompose(t *testing.T) {
	base := neutral()
	delta := DeltaPose{10: 50, 40: -40, 50: 20}

	got, err := Compose(base, delta)
	require.NoError(t, err)

	for id, off := range delta {
		b, _ := base.Angle(id)
		want := ClampAngle(b + Angle(off))
		a, ok := got.Angle(id)
		require.True(t, ok)
		assert.InDelta(t, float64(want), float64(a), 1e-9, "servo %d", id)
	}
	for _, id := range base.IDs() {
		if _, moved := delta[id]; moved {
			continue
		}
		a, _ := got.Angle(id)
		b, _ := base.Angle(id)
		assert.Equal(t, b, a, "servo %d should pass through", id)
	}

	// 234 + 20 exceeds the servo range.
	a, _ := got.Angle(50)
	assert.Equal(t, MaxAngle, a)
}

func TestCompose_DoesNotMutateBase(t *testing.T) {
	base := neutral()
	before := base.Map()

	_, err := Compose(base, DeltaPose{10: 30})
	require.NoError(t, err)
	assert.Equal(t, before, base.Map())
}

func TestCompose_InvalidServoID(t *testing.T) {
	_, err := Compose(neutral(), DeltaPose{99: 5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidServoID))
}

func TestPose_Merge(t *testing.T) {
	base := NewPose(map[ServoID]Angle{1: 10, 2: 20})
	merged := base.Merge(NewPose(map[ServoID]Angle{2: 25, 3: 30}))

	assert.Equal(t, []ServoID{1, 2, 3}, merged.IDs())
	a, _ := merged.Angle(2)
	assert.Equal(t, Angle(25), a)

	a, _ = base.Angle(2)
	assert.Equal(t, Angle(20), a, "merge must not modify the base")
}

func TestPose_Immutable(t *testing.T) {
	src := map[ServoID]Angle{1: 10}
	p := NewPose(src)
	src[1] = 99

	m := p.Map()
	m[1] = 50

	a, _ := p.Angle(1)
	assert.Equal(t, Angle(10), a)
}

func TestSequence(t *testing.T) {
	kfs := []Keyframe{
		{Label: "a", Pose: NewPose(map[ServoID]Angle{1: 1})},
		{Label: "b", Pose: NewPose(map[ServoID]Angle{1: 2})},
	}
	seq := NewSequence("test", kfs...)
	kfs[0].Label = "changed"

	assert.Equal(t, "test", seq.Name())
	assert.Equal(t, 2, seq.Len())
	assert.Equal(t, "a", seq.At(0).Label)

	var labels []string
	for _, kf := range seq.All() {
		labels = append(labels, kf.Label)
	}
	assert.Equal(t, []string{"a", "b"}, labels)
}

// Package pose models robot poses as target angles per servo.
//
// Poses and sequences are immutable values: they are built once from
// calibration and choreography data and replayed without mutation.
package pose

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
)

// Angle limits accepted by the servos, in degrees.
const (
	MinAngle Angle = 0
	MaxAngle Angle = 240
)

// ErrInvalidServoID is returned when a delta references a servo that the
// base pose does not contain. It indicates corrupted choreography data.
var ErrInvalidServoID = errors.New("invalid servo id")

// ServoID identifies a single actuator on the bus.
type ServoID int

// Angle is a servo target in degrees.
type Angle float64

// ClampAngle limits a to the servo range [0, 240]. NaN is returned
// unchanged, drivers reject it.
func ClampAngle(a Angle) Angle {
	return min(MaxAngle, max(MinAngle, a))
}

// Clamped returns the clamped angle and whether clamping changed it.
func Clamped(a Angle) (Angle, bool) {
	c := ClampAngle(a)
	return c, c != a && !math.IsNaN(float64(a))
}

// Pose maps servo IDs to target angles. A pose may be partial: servos that
// are not listed keep whatever position they were last commanded to.
type Pose struct {
	angles map[ServoID]Angle
}

// NewPose creates a pose from a map of angles. The map is copied.
func NewPose(angles map[ServoID]Angle) Pose {
	return Pose{angles: maps.Clone(angles)}
}

// Angle returns the target for id.
func (p Pose) Angle(id ServoID) (Angle, bool) {
	a, ok := p.angles[id]
	return a, ok
}

// IDs returns the servo IDs in ascending order.
func (p Pose) IDs() []ServoID {
	return slices.Sorted(maps.Keys(p.angles))
}

// Len returns the number of servos in the pose.
func (p Pose) Len() int {
	return len(p.angles)
}

// Map returns a copy of the underlying angles.
func (p Pose) Map() map[ServoID]Angle {
	return maps.Clone(p.angles)
}

// Merge overlays partial on top of p and returns the result.
func (p Pose) Merge(partial Pose) Pose {
	out := maps.Clone(p.angles)
	if out == nil {
		out = make(map[ServoID]Angle, partial.Len())
	}
	maps.Copy(out, partial.angles)
	return Pose{angles: out}
}

// Equal reports whether both poses list the same servos at the same angles.
func (p Pose) Equal(o Pose) bool {
	return maps.Equal(p.angles, o.angles)
}

func (p Pose) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, id := range p.IDs() {
		if i > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%d:%.1f", id, p.angles[id])
	}
	sb.WriteString("}")
	return sb.String()
}

// DeltaPose maps servo IDs to signed angle offsets.
type DeltaPose map[ServoID]float64

// Compose applies delta to base. Every servo in delta is moved by its offset
// and clamped; servos only present in base pass through unchanged.
func Compose(base Pose, delta DeltaPose) (Pose, error) {
	out := maps.Clone(base.angles)
	if out == nil {
		out = make(map[ServoID]Angle)
	}
	for _, id := range slices.Sorted(maps.Keys(delta)) {
		a, ok := base.angles[id]
		if !ok {
			return Pose{}, fmt.Errorf("compose servo %d: %w", id, ErrInvalidServoID)
		}
		out[id] = ClampAngle(a + Angle(delta[id]))
	}
	return Pose{angles: out}, nil
}

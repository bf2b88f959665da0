package robot

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gwillem/biped/pkg/pose"
)

// JointCalibration holds calibration data for a single joint.
type JointCalibration struct {
	ID      int     `json:"id"`
	Neutral float64 `json:"neutral"` // degrees, standing straight
}

// Calibration holds calibration data for all joints, keyed by joint name.
type Calibration map[JointName]JointCalibration

// DefaultCalibration returns the servo IDs and neutral stance of the
// reference robot.
func DefaultCalibration() Calibration {
	return Calibration{
		LeftHip:    {ID: 20, Neutral: 215.3},
		LeftKnee:   {ID: 10, Neutral: 123.6},
		LeftAnkle:  {ID: 40, Neutral: 123.1},
		RightHip:   {ID: 50, Neutral: 234.0},
		RightKnee:  {ID: 60, Neutral: 107.3},
		RightAnkle: {ID: 30, Neutral: 177.4},
	}
}

// LoadCalibration loads calibration data from a JSON file.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}

	var cal Calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("parse calibration JSON: %w", err)
	}
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return cal, nil
}

// Validate checks that every joint is present with a unique positive ID and
// a neutral angle inside the servo range.
func (c Calibration) Validate() error {
	seen := make(map[int]JointName, len(c))
	for _, name := range AllJoints() {
		jc, ok := c[name]
		if !ok {
			return fmt.Errorf("calibration: missing joint %s", name)
		}
		if jc.ID <= 0 {
			return fmt.Errorf("calibration: joint %s has invalid id %d", name, jc.ID)
		}
		if other, dup := seen[jc.ID]; dup {
			return fmt.Errorf("calibration: joints %s and %s share id %d", other, name, jc.ID)
		}
		seen[jc.ID] = name
		if a := pose.Angle(jc.Neutral); a != pose.ClampAngle(a) {
			return fmt.Errorf("calibration: joint %s neutral %.1f out of range", name, jc.Neutral)
		}
	}
	return nil
}

// ServoIDs returns the servo IDs for all joints in the calibration.
func (c Calibration) ServoIDs() []pose.ServoID {
	ids := make([]pose.ServoID, 0, len(c))
	// Use AllJoints() to ensure consistent ordering
	for _, name := range AllJoints() {
		if jc, ok := c[name]; ok {
			ids = append(ids, pose.ServoID(jc.ID))
		}
	}
	return ids
}

// ID returns the servo ID of a joint.
func (c Calibration) ID(name JointName) (pose.ServoID, bool) {
	jc, ok := c[name]
	return pose.ServoID(jc.ID), ok
}

// ByID returns joint name and calibration for a given servo ID.
func (c Calibration) ByID(id pose.ServoID) (JointName, JointCalibration, bool) {
	for name, jc := range c {
		if pose.ServoID(jc.ID) == id {
			return name, jc, true
		}
	}
	return "", JointCalibration{}, false
}

// NeutralPose returns the calibrated standing pose.
func (c Calibration) NeutralPose() pose.Pose {
	angles := make(map[pose.ServoID]pose.Angle, len(c))
	for _, jc := range c {
		angles[pose.ServoID(jc.ID)] = pose.Angle(jc.Neutral)
	}
	return pose.NewPose(angles)
}

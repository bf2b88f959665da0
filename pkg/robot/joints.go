// Package robot provides calibration and configuration for the biped.
package robot

// JointName identifies a joint of the biped.
type JointName string

// Joint names, one servo each.
const (
	LeftHip    JointName = "left_hip"
	LeftKnee   JointName = "left_knee"
	LeftAnkle  JointName = "left_ankle"
	RightHip   JointName = "right_hip"
	RightKnee  JointName = "right_knee"
	RightAnkle JointName = "right_ankle"
)

// Leg selects one side of the robot.
type Leg string

const (
	Left  Leg = "left"
	Right Leg = "right"
)

// AllJoints returns all joint names, left leg first, top to bottom.
func AllJoints() []JointName {
	return []JointName{
		LeftHip,
		LeftKnee,
		LeftAnkle,
		RightHip,
		RightKnee,
		RightAnkle,
	}
}

// Joints returns the hip, knee and ankle of a leg.
func (l Leg) Joints() []JointName {
	if l == Right {
		return []JointName{RightHip, RightKnee, RightAnkle}
	}
	return []JointName{LeftHip, LeftKnee, LeftAnkle}
}

// Other returns the opposite leg.
func (l Leg) Other() Leg {
	if l == Left {
		return Right
	}
	return Left
}

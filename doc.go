// Package biped plays choreographed keyframe gaits on a small bipedal robot
// with six serial-bus servos, a hip, knee and ankle per leg.
//
// Gaits are open loop: every keyframe is a pose sent to all servos at once,
// followed by a fixed settle wait. Every run ends by returning the robot to
// its calibrated neutral stance, also when it is interrupted.
//
// # Installation
//
//	go install github.com/gwillem/biped/cmd/biped@latest
//
// # Usage
//
// Pick the serial port and capture the standing posture:
//
//	biped setup
//
// Then walk or dance:
//
//	biped walk --steps 6
//	biped dance --duration 15
//
// Use --dry-run to run against a simulated bus.
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/biped: CLI with walk, dance, monitor, scan, setup and choreography commands
//   - pkg/pose: Poses, delta poses, angle clamping and keyframe sequences
//   - pkg/robot: Joint names, calibration, and configuration
//   - pkg/servobus: Servo bus drivers (LX-16A, Feetech, simulated) and diagnostics
//   - pkg/player: Applies one pose to every servo and waits for it to settle
//   - pkg/gait: Choreography data, walk and dance composers, gait reports
//   - pkg/session: Session lifecycle from connect to neutral stance
package biped

package gait

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gwillem/biped/pkg/pose"
	"github.com/gwillem/biped/pkg/robot"
)

// StepKeyframesPerLeg is the length of every leg step sequence: lift, swing,
// plant and return to neutral.
const StepKeyframesPerLeg = 4

// ErrInvalidOffset reports a joint offset that is not a finite number.
var ErrInvalidOffset = errors.New("invalid joint offset")

// StepKeyframe offsets the joints of the swinging leg. The stance leg stays
// at neutral.
type StepKeyframe struct {
	Label   string  `yaml:"label"`
	Neutral bool    `yaml:"neutral,omitempty"`
	Hip     float64 `yaml:"hip,omitempty"`
	Knee    float64 `yaml:"knee,omitempty"`
	Ankle   float64 `yaml:"ankle,omitempty"`
}

// Keyframe offsets any joints from neutral.
type Keyframe struct {
	Label   string                      `yaml:"label"`
	Neutral bool                        `yaml:"neutral,omitempty"`
	Delta   map[robot.JointName]float64 `yaml:"delta,omitempty"`
}

// Phrase is a named dance sequence.
type Phrase struct {
	Name      string     `yaml:"name"`
	Keyframes []Keyframe `yaml:"keyframes"`
}

// Choreography is the static motion data, expressed relative to the
// neutral stance so it does not depend on the robot's calibration.
type Choreography struct {
	Step  []StepKeyframe `yaml:"step"`
	Dance []Phrase       `yaml:"dance"`
}

func center() Keyframe { return Keyframe{Label: "center", Neutral: true} }

// DefaultChoreography returns the built-in step and dance keyframes.
func DefaultChoreography() Choreography {
	return Choreography{
		Step: []StepKeyframe{
			{Label: "lift", Knee: +50, Ankle: -40},  // clear the ground
			{Label: "swing", Knee: +30, Ankle: -20}, // reach forward
			{Label: "plant", Knee: +10},             // soft landing
			{Label: "neutral", Neutral: true},
		},
		Dance: []Phrase{
			{Name: "Hip Sway", Keyframes: []Keyframe{
				{Label: "sway left", Delta: map[robot.JointName]float64{
					robot.LeftHip: -10, robot.RightHip: -10, robot.LeftKnee: +10, robot.RightKnee: +10,
				}},
				center(),
				// right hip neutral is close to the upper limit
				{Label: "sway right", Delta: map[robot.JointName]float64{
					robot.LeftHip: +10, robot.RightHip: +5, robot.LeftKnee: +10, robot.RightKnee: +10,
				}},
				center(),
			}},
			{Name: "Hip Circle", Keyframes: []Keyframe{
				{Label: "forward tilt", Delta: map[robot.JointName]float64{
					robot.LeftHip: +5, robot.RightHip: +5, robot.LeftKnee: +15, robot.RightKnee: +15,
					robot.LeftAnkle: -5, robot.RightAnkle: -5,
				}},
				{Label: "right tilt", Delta: map[robot.JointName]float64{
					robot.LeftHip: +10, robot.RightHip: -5, robot.LeftKnee: +10, robot.RightKnee: +10,
				}},
				{Label: "back tilt", Delta: map[robot.JointName]float64{
					robot.LeftHip: -10, robot.RightHip: -10, robot.LeftKnee: +5, robot.RightKnee: +5,
					robot.LeftAnkle: +5, robot.RightAnkle: +5,
				}},
				{Label: "left tilt", Delta: map[robot.JointName]float64{
					robot.LeftHip: -5, robot.RightHip: +5, robot.LeftKnee: +10, robot.RightKnee: +10,
				}},
				center(),
			}},
			{Name: "Hip Lift", Keyframes: []Keyframe{
				{Label: "lift left", Delta: map[robot.JointName]float64{
					robot.LeftHip: +15, robot.RightHip: -10, robot.LeftKnee: +30, robot.RightKnee: +5,
					robot.LeftAnkle: -15,
				}},
				center(),
				{Label: "lift right", Delta: map[robot.JointName]float64{
					robot.LeftHip: -10, robot.RightHip: +5, robot.LeftKnee: +5, robot.RightKnee: +30,
					robot.RightAnkle: -15,
				}},
				center(),
			}},
			{Name: "Deep Hip", Keyframes: []Keyframe{
				{Label: "deep left", Delta: map[robot.JointName]float64{
					robot.LeftHip: -20, robot.RightHip: -10, robot.LeftKnee: +20, robot.RightKnee: +15,
					robot.LeftAnkle: -10, robot.RightAnkle: +5,
				}},
				center(),
				{Label: "deep right", Delta: map[robot.JointName]float64{
					robot.LeftHip: -10, robot.RightHip: -20, robot.LeftKnee: +15, robot.RightKnee: +20,
					robot.LeftAnkle: +5, robot.RightAnkle: -10,
				}},
				center(),
			}},
		},
	}
}

// LoadChoreography reads a choreography YAML file. Sections missing from
// the file keep the built-in defaults.
func LoadChoreography(path string) (Choreography, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Choreography{}, fmt.Errorf("read choreography: %w", err)
	}
	var ch Choreography
	if err := yaml.Unmarshal(data, &ch); err != nil {
		return Choreography{}, fmt.Errorf("parse choreography: %w", err)
	}

	def := DefaultChoreography()
	if len(ch.Step) == 0 {
		ch.Step = def.Step
	}
	if len(ch.Dance) == 0 {
		ch.Dance = def.Dance
	}
	if err := ch.Validate(); err != nil {
		return Choreography{}, fmt.Errorf("%s: %w", path, err)
	}
	return ch, nil
}

// Validate checks that every offset is a finite number. YAML accepts .nan
// and .inf, which would slip past the angle clamp.
func (c Choreography) Validate() error {
	for i, kf := range c.Step {
		for joint, off := range map[string]float64{"hip": kf.Hip, "knee": kf.Knee, "ankle": kf.Ankle} {
			if err := checkOffset(joint, off); err != nil {
				return fmt.Errorf("step keyframe %d (%s): %w", i, kf.Label, err)
			}
		}
	}
	for _, ph := range c.Dance {
		for i, kf := range ph.Keyframes {
			for joint, off := range kf.Delta {
				if err := checkOffset(string(joint), off); err != nil {
					return fmt.Errorf("phrase %q keyframe %d (%s): %w", ph.Name, i, kf.Label, err)
				}
			}
		}
	}
	return nil
}

func checkOffset(joint string, off float64) error {
	if math.IsNaN(off) || math.IsInf(off, 0) {
		return fmt.Errorf("%s offset %v: %w", joint, off, ErrInvalidOffset)
	}
	return nil
}

// Marshal encodes the choreography as YAML.
func (c Choreography) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Library holds the poses built from a choreography for one robot.
type Library struct {
	Neutral pose.Pose
	steps   map[robot.Leg]pose.Sequence
	phrases []pose.Sequence
}

// Step returns the step sequence for the swinging leg.
func (l *Library) Step(leg robot.Leg) pose.Sequence {
	return l.steps[leg]
}

// Phrases returns the dance phrases in playing order.
func (l *Library) Phrases() []pose.Sequence {
	return l.phrases
}

// Build composes every keyframe against the calibrated neutral pose. A
// keyframe that names an unknown joint is reported as
// pose.ErrInvalidServoID, a non-finite offset as ErrInvalidOffset.
func Build(cal robot.Calibration, ch Choreography) (*Library, error) {
	neutral := cal.NeutralPose()
	lib := &Library{
		Neutral: neutral,
		steps:   make(map[robot.Leg]pose.Sequence, 2),
	}

	if len(ch.Step) != StepKeyframesPerLeg {
		return nil, fmt.Errorf("step sequence has %d keyframes, want %d", len(ch.Step), StepKeyframesPerLeg)
	}
	for _, leg := range []robot.Leg{robot.Left, robot.Right} {
		seq, err := buildStep(cal, neutral, leg, ch.Step)
		if err != nil {
			return nil, err
		}
		lib.steps[leg] = seq
	}

	if len(ch.Dance) == 0 {
		return nil, fmt.Errorf("choreography has no dance phrases")
	}
	for _, ph := range ch.Dance {
		seq, err := buildPhrase(cal, neutral, ph)
		if err != nil {
			return nil, err
		}
		lib.phrases = append(lib.phrases, seq)
	}
	return lib, nil
}

func buildStep(cal robot.Calibration, neutral pose.Pose, leg robot.Leg, kfs []StepKeyframe) (pose.Sequence, error) {
	name := string(leg) + " step"
	swing := leg.Joints()
	out := make([]pose.Keyframe, 0, len(kfs))
	for i, kf := range kfs {
		if kf.Neutral {
			out = append(out, pose.Keyframe{Label: kf.Label, Pose: neutral})
			continue
		}
		delta := map[robot.JointName]float64{
			swing[0]: kf.Hip,
			swing[1]: kf.Knee,
			swing[2]: kf.Ankle,
		}
		// The stance leg is listed explicitly so a miscalibrated stance
		// joint fails here rather than silently passing through.
		for _, j := range leg.Other().Joints() {
			delta[j] = 0
		}
		p, err := compose(cal, neutral, delta)
		if err != nil {
			return pose.Sequence{}, fmt.Errorf("%s keyframe %d (%s): %w", name, i, kf.Label, err)
		}
		out = append(out, pose.Keyframe{Label: kf.Label, Pose: p})
	}
	return pose.NewSequence(name, out...), nil
}

func buildPhrase(cal robot.Calibration, neutral pose.Pose, ph Phrase) (pose.Sequence, error) {
	if len(ph.Keyframes) == 0 {
		return pose.Sequence{}, fmt.Errorf("phrase %q has no keyframes", ph.Name)
	}
	out := make([]pose.Keyframe, 0, len(ph.Keyframes))
	for i, kf := range ph.Keyframes {
		if kf.Neutral {
			out = append(out, pose.Keyframe{Label: kf.Label, Pose: neutral})
			continue
		}
		p, err := compose(cal, neutral, kf.Delta)
		if err != nil {
			return pose.Sequence{}, fmt.Errorf("phrase %q keyframe %d (%s): %w", ph.Name, i, kf.Label, err)
		}
		out = append(out, pose.Keyframe{Label: kf.Label, Pose: p})
	}
	return pose.NewSequence(ph.Name, out...), nil
}

// compose resolves joint names to servo IDs and applies the delta.
func compose(cal robot.Calibration, neutral pose.Pose, delta map[robot.JointName]float64) (pose.Pose, error) {
	d := make(pose.DeltaPose, len(delta))
	for name, off := range delta {
		id, ok := cal.ID(name)
		if !ok {
			return pose.Pose{}, fmt.Errorf("unknown joint %q: %w", name, pose.ErrInvalidServoID)
		}
		if err := checkOffset(string(name), off); err != nil {
			return pose.Pose{}, err
		}
		d[id] = off
	}
	return pose.Compose(neutral, d)
}

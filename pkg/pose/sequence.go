package pose

import (
	"iter"
	"slices"
)

// Keyframe is a pose with a label used in logs and reports.
type Keyframe struct {
	Label string
	Pose  Pose
}

// Sequence is an ordered, restartable list of keyframes.
type Sequence struct {
	name      string
	keyframes []Keyframe
}

// NewSequence creates a named sequence. The keyframe slice is copied.
func NewSequence(name string, keyframes ...Keyframe) Sequence {
	return Sequence{name: name, keyframes: slices.Clone(keyframes)}
}

// Name returns the sequence name.
func (s Sequence) Name() string { return s.name }

// Len returns the number of keyframes.
func (s Sequence) Len() int { return len(s.keyframes) }

// At returns the keyframe at index i.
func (s Sequence) At(i int) Keyframe { return s.keyframes[i] }

// All iterates over the keyframes in order.
func (s Sequence) All() iter.Seq2[int, Keyframe] {
	return func(yield func(int, Keyframe) bool) {
		for i, kf := range s.keyframes {
			if !yield(i, kf) {
				return
			}
		}
	}
}

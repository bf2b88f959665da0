package gait

import (
	"maps"
	"slices"
	"time"

	"github.com/gwillem/biped/pkg/player"
	"github.com/gwillem/biped/pkg/pose"
)

// Entry is one played keyframe.
type Entry struct {
	Sequence string
	Label    string
	// Cycle is the step or phrase number, -1 for neutral transitions.
	Cycle int
	Index int
	// Pose is the commanded pose.
	Pose   pose.Pose
	Result player.PlayResult
}

// IsNeutral reports whether the entry is a neutral settle rather than a
// gait keyframe.
func (e Entry) IsNeutral() bool {
	return e.Cycle == neutralCycle
}

// Report aggregates the result of every keyframe of a gait.
type Report struct {
	Gait     string
	Entries  []Entry
	Cycles   int
	Phrases  []string
	Started  time.Time
	Finished time.Time
}

// Elapsed returns the wall-clock duration of the gait.
func (r *Report) Elapsed() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Keyframes returns the number of keyframes played.
func (r *Report) Keyframes() int {
	return len(r.Entries)
}

// FailureCounts returns, per servo, how many keyframes it failed.
func (r *Report) FailureCounts() map[pose.ServoID]int {
	counts := make(map[pose.ServoID]int)
	for _, e := range r.Entries {
		for _, f := range e.Result.Failed {
			counts[f.ID]++
		}
	}
	return counts
}

// EndsAtNeutral reports whether the last played entry was a neutral settle
// that every servo accepted.
func (r *Report) EndsAtNeutral() bool {
	if r == nil || len(r.Entries) == 0 {
		return false
	}
	last := r.Entries[len(r.Entries)-1]
	return last.IsNeutral() && last.Result.OK()
}

// Healthy reports whether no servo failed.
func (r *Report) Healthy() bool {
	for _, e := range r.Entries {
		if !e.Result.OK() {
			return false
		}
	}
	return true
}

// SustainedFailures returns the servos that failed on every keyframe they
// were commanded in.
func (r *Report) SustainedFailures() []pose.ServoID {
	ok := make(map[pose.ServoID]bool)
	for _, e := range r.Entries {
		for _, id := range e.Result.Succeeded {
			ok[id] = true
		}
	}
	var out []pose.ServoID
	for _, id := range slices.Sorted(maps.Keys(r.FailureCounts())) {
		if !ok[id] {
			out = append(out, id)
		}
	}
	return out
}

// Package gait sequences poses into walking and dancing motions.
package gait

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gwillem/biped/pkg/player"
	"github.com/gwillem/biped/pkg/pose"
	"github.com/gwillem/biped/pkg/robot"
)

// Neutral settle used around transitions to and from the standing pose.
const (
	NeutralMove  = 800 * time.Millisecond
	NeutralPause = 500 * time.Millisecond
)

const neutralCycle = -1

// Alternate selects the swinging leg for a step: left on even steps, right
// on odd ones.
func Alternate(step int) robot.Leg {
	if step%2 == 0 {
		return robot.Left
	}
	return robot.Right
}

// RoundRobin selects the phrase index for a dance cycle.
func RoundRobin(cycle, phrases int) int {
	return cycle % phrases
}

// Composer plays gaits through a Player.
type Composer struct {
	player *player.Player
	lib    *Library
	log    logrus.FieldLogger
	notify func(Entry)

	// cycle counts steps or phrases of the current gait. It is reset at the
	// start of every gait.
	cycle int
}

// Option configures a Composer.
type Option func(*Composer)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Composer) { c.log = l }
}

// WithObserver registers fn to be called after every keyframe.
func WithObserver(fn func(Entry)) Option {
	return func(c *Composer) { c.notify = fn }
}

// NewComposer creates a composer for the poses in lib.
func NewComposer(p *player.Player, lib *Library, opts ...Option) *Composer {
	c := &Composer{
		player: p,
		lib:    lib,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Neutral moves to the standing pose with the extended settle time.
func (c *Composer) Neutral(ctx context.Context) Entry {
	res := c.player.ApplyPose(ctx, c.lib.Neutral, NeutralMove)
	c.player.Pause(NeutralPause)
	e := Entry{Sequence: "neutral", Label: "neutral", Cycle: neutralCycle, Pose: c.lib.Neutral, Result: res}
	c.observe(e)
	return e
}

// Walk plays steps leg steps, alternating legs starting with the left one,
// between two neutral settles.
//
// If ctx is cancelled the walk stops after the keyframe in progress and
// returns the partial report with ctx.Err(); the closing neutral is left to
// the caller. A cancel that lands during the closing neutral lets it finish
// and returns nil.
func (c *Composer) Walk(ctx context.Context, steps int, stepDuration time.Duration) (*Report, error) {
	if steps <= 0 {
		return nil, fmt.Errorf("walk: step count must be positive, got %d", steps)
	}
	if stepDuration <= 0 {
		return nil, fmt.Errorf("walk: step duration must be positive, got %s", stepDuration)
	}

	c.cycle = 0
	r := c.begin("walk")
	if err := ctx.Err(); err != nil {
		return c.end(r), err
	}
	r.Entries = append(r.Entries, c.Neutral(ctx))

	c.log.WithField("steps", steps).Info("walking")
	for ; c.cycle < steps; c.cycle++ {
		leg := Alternate(c.cycle)
		c.log.WithFields(logrus.Fields{
			"step": c.cycle + 1,
			"leg":  leg,
		}).Debug("step")

		if err := c.play(ctx, r, c.lib.Step(leg), stepDuration); err != nil {
			return c.end(r), err
		}
		r.Cycles++
	}

	if err := ctx.Err(); err != nil {
		return c.end(r), err
	}
	r.Entries = append(r.Entries, c.Neutral(ctx))
	return c.end(r), nil
}

// Dance plays phrases in round-robin order until duration has elapsed,
// between two neutral settles. Time is checked only between phrases, so the
// dance runs at least duration and never stops mid phrase.
//
// Cancellation behaves as for Walk.
func (c *Composer) Dance(ctx context.Context, duration, phraseDuration time.Duration) (*Report, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("dance: duration must be positive, got %s", duration)
	}
	if phraseDuration <= 0 {
		return nil, fmt.Errorf("dance: keyframe duration must be positive, got %s", phraseDuration)
	}

	c.cycle = 0
	r := c.begin("dance")
	if err := ctx.Err(); err != nil {
		return c.end(r), err
	}
	r.Entries = append(r.Entries, c.Neutral(ctx))

	c.log.WithField("duration", duration).Info("dancing")
	clock := c.player.Clock()
	start := clock.Now()
	phrases := c.lib.Phrases()
	for {
		seq := phrases[RoundRobin(c.cycle, len(phrases))]
		c.log.WithFields(logrus.Fields{
			"phrase":   seq.Name(),
			"sequence": c.cycle + 1,
		}).Debug("dance move")

		if err := c.play(ctx, r, seq, phraseDuration); err != nil {
			return c.end(r), err
		}
		r.Phrases = append(r.Phrases, seq.Name())
		r.Cycles++
		c.cycle++

		if clock.Now().Sub(start) >= duration {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return c.end(r), err
	}
	r.Entries = append(r.Entries, c.Neutral(ctx))
	return c.end(r), nil
}

// play applies every keyframe of seq in order, checking ctx before each.
func (c *Composer) play(ctx context.Context, r *Report, seq pose.Sequence, d time.Duration) error {
	for i, kf := range seq.All() {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := c.player.ApplyPose(ctx, kf.Pose, d)
		e := Entry{
			Sequence: seq.Name(),
			Label:    kf.Label,
			Cycle:    c.cycle,
			Index:    i,
			Pose:     kf.Pose,
			Result:   res,
		}
		r.Entries = append(r.Entries, e)
		c.observe(e)
	}
	return nil
}

func (c *Composer) begin(name string) *Report {
	return &Report{Gait: name, Started: c.player.Clock().Now()}
}

func (c *Composer) end(r *Report) *Report {
	r.Finished = c.player.Clock().Now()
	if !r.Healthy() {
		c.log.WithFields(logrus.Fields{
			"gait":     r.Gait,
			"failures": r.FailureCounts(),
		}).Warn("servo failures during gait")
	}
	return r
}

func (c *Composer) observe(e Entry) {
	if c.notify != nil {
		c.notify(e)
	}
}

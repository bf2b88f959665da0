package servobus

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gwillem/biped/pkg/pose"
)

// SweepAngles are the targets of a full-range movement test.
var SweepAngles = []pose.Angle{0, 60, 120, 180, 240}

// SweepPoint is one target of a movement test and the angle read back after
// the servo settled.
type SweepPoint struct {
	Target pose.Angle
	Actual pose.Angle
	// Err is set when the move or the read back failed.
	Err error
}

// Error is the distance between the target and the read back angle.
func (p SweepPoint) Error() pose.Angle {
	d := p.Actual - p.Target
	if d < 0 {
		return -d
	}
	return d
}

// Sweep moves servo id through targets, reading its angle back after each
// move has had settle time to finish. It returns the servo to the angle it
// had before, even when ctx is cancelled mid-sweep.
func Sweep(ctx context.Context, bus Bus, id pose.ServoID, targets []pose.Angle, d, settle time.Duration) ([]SweepPoint, error) {
	original, err := bus.Angle(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read start angle: %w", err)
	}
	if err := EnableTorque(ctx, bus, id); err != nil {
		return nil, err
	}

	defer func() {
		// Return to original position
		if err := bus.MoveTo(context.WithoutCancel(ctx), id, original, d); err != nil {
			logger.WithError(err).WithField("id", id).Warn("could not return to start angle")
		}
	}()

	points := make([]SweepPoint, 0, len(targets))
	for _, target := range targets {
		p := SweepPoint{Target: target}
		if p.Err = bus.MoveTo(ctx, id, target, d); p.Err == nil {
			if err := sleepCtx(ctx, settle); err != nil {
				return points, err
			}
			p.Actual, p.Err = bus.Angle(ctx, id)
		}
		logger.WithFields(log.Fields{"id": id, "target": target, "actual": p.Actual}).Debug("sweep")
		points = append(points, p)
		if err := ctx.Err(); err != nil {
			return points, err
		}
	}
	return points, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

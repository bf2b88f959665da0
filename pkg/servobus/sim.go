package servobus

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gwillem/biped/pkg/pose"
)

// Move is a command recorded by the Sim bus.
type Move struct {
	ID       pose.ServoID
	Angle    pose.Angle
	Duration time.Duration
}

// Sim is an in-memory bus. It records every move and lets tests inject
// per-servo faults. The zero value is not usable, use NewSim.
type Sim struct {
	mu      sync.Mutex
	present map[pose.ServoID]bool
	faults  map[pose.ServoID]error
	angles  map[pose.ServoID]pose.Angle
	enabled []pose.ServoID
	moves   []Move
	closed  bool

	// OnMove, when set, is called after every recorded move, outside the
	// lock.
	OnMove func(Move)
}

var (
	_ Bus           = (*Sim)(nil)
	_ TorqueEnabler = (*Sim)(nil)
)

// NewSim creates a simulated bus. With no ids every servo answers;
// otherwise only the listed ones do.
func NewSim(ids ...pose.ServoID) *Sim {
	s := &Sim{
		faults: make(map[pose.ServoID]error),
		angles: make(map[pose.ServoID]pose.Angle),
	}
	if len(ids) > 0 {
		s.present = make(map[pose.ServoID]bool, len(ids))
		for _, id := range ids {
			s.present[id] = true
		}
	}
	return s
}

// SimDialer returns a Dialer that hands out sim, or fails with err.
func SimDialer(sim *Sim, err error) Dialer {
	return func(ctx context.Context, cfg Config) (Bus, error) {
		if err != nil {
			return nil, &ConnectionError{Port: cfg.Port, Protocol: cfg.Protocol, Err: err}
		}
		return sim, nil
	}
}

// Fail makes every later command to id return err. A nil err clears it.
func (s *Sim) Fail(id pose.ServoID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, id)
		return
	}
	s.faults[id] = err
}

// Moves returns the recorded moves in dispatch order.
func (s *Sim) Moves() []Move {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.moves)
}

// Reset forgets the recorded moves.
func (s *Sim) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moves = nil
}

// Enabled returns the servos whose torque was switched on, in order.
func (s *Sim) Enabled() []pose.ServoID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.enabled)
}

// Closed reports whether Close was called.
func (s *Sim) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Sim) check(id pose.ServoID) error {
	if s.closed {
		return fmt.Errorf("servo %d: %w", id, ErrDisconnected)
	}
	if err := s.faults[id]; err != nil {
		return fmt.Errorf("servo %d: %w", id, err)
	}
	if s.present != nil && !s.present[id] {
		return fmt.Errorf("servo %d: %w", id, ErrTimeout)
	}
	return nil
}

func (s *Sim) MoveTo(ctx context.Context, id pose.ServoID, angle pose.Angle, d time.Duration) error {
	s.mu.Lock()
	if err := s.check(id); err != nil {
		s.mu.Unlock()
		return err
	}
	if !(angle >= pose.MinAngle && angle <= pose.MaxAngle) {
		s.mu.Unlock()
		return fmt.Errorf("move servo %d to %.1f: %w", id, angle, ErrRejected)
	}
	m := Move{ID: id, Angle: angle, Duration: d}
	s.moves = append(s.moves, m)
	s.angles[id] = angle
	hook := s.OnMove
	s.mu.Unlock()

	if hook != nil {
		hook(m)
	}
	return nil
}

func (s *Sim) Angle(ctx context.Context, id pose.ServoID) (pose.Angle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(id); err != nil {
		return 0, err
	}
	a, ok := s.angles[id]
	if !ok {
		a = pose.MaxAngle / 2
	}
	return a, nil
}

func (s *Sim) Voltage(ctx context.Context, id pose.ServoID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(id); err != nil {
		return 0, err
	}
	return 7400, nil
}

func (s *Sim) Temperature(ctx context.Context, id pose.ServoID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(id); err != nil {
		return 0, err
	}
	return 32, nil
}

func (s *Sim) Ping(ctx context.Context, id pose.ServoID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check(id)
}

func (s *Sim) EnableTorque(ctx context.Context, id pose.ServoID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(id); err != nil {
		return err
	}
	if !slices.Contains(s.enabled, id) {
		s.enabled = append(s.enabled, id)
	}
	return nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

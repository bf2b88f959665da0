package session

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gwillem/biped/pkg/pose"
)

// State is a step of the session lifecycle.
type State int

const (
	Disconnected State = iota
	Connected
	Initialized
	Running
	Neutralizing
	Idle
	Failed
)

var stateNames = [...]string{"disconnected", "connected", "initialized", "running", "neutralizing", "idle", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// transitions lists the allowed moves of the state machine. Failed is
// reachable from every state and has no exit. Connected may skip to
// Neutralizing when the session is interrupted during initialization.
var transitions = map[State][]State{
	Disconnected: {Connected},
	Connected:    {Initialized, Neutralizing},
	Initialized:  {Running},
	Running:      {Neutralizing},
	Neutralizing: {Idle},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	if to == Failed {
		return from != Failed
	}
	return slices.Contains(transitions[from], to)
}

// InitializationError reports configured servos that did not answer.
type InitializationError struct {
	Missing []pose.ServoID
	// Fatal is set when the session refused to run because of them.
	Fatal bool
}

func (e *InitializationError) Error() string {
	ids := make([]string, len(e.Missing))
	for i, id := range e.Missing {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("servos not responding: %s", strings.Join(ids, ", "))
}

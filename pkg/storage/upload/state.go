package upload

import (
	"fmt"

	"github.com/mwantia/opsreg/pkg/errs"
)

type State int

const (
	StateCreated State = iota
	StateInProgress
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInProgress:
		return "in_progress"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further chunks can be accepted.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

type event int

const (
	eventChunk event = iota
	eventFinish
	eventAbort
)

func (e event) String() string {
	switch e {
	case eventChunk:
		return "chunk"
	case eventFinish:
		return "finish"
	default:
		return "abort"
	}
}

// transition is the only place session state changes are decided.
func transition(from State, ev event) (State, error) {
	switch from {
	case StateCreated, StateInProgress:
		switch ev {
		case eventChunk:
			return StateInProgress, nil
		case eventFinish:
			return StateCompleted, nil
		case eventAbort:
			return StateAborted, nil
		}
	case StateAborted:
		if ev == eventAbort {
			return StateAborted, nil
		}
	}
	return from, fmt.Errorf("cannot apply %s to a %s session: %w", ev, from, errs.ErrSession)
}

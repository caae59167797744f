package step

import (
	"fmt"
	"sync"
)

// State is the position of a task in its execution lifecycle.
type State string

const (
	StateCreated       State = "CREATED"
	StateContainerOpen State = "CONTAINER_OPEN"
	StateStepRunning   State = "STEP_RUNNING"
	StateCompleted     State = "COMPLETED"
	StateFailed        State = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case StateCreated:
		return to == StateContainerOpen || to == StateFailed
	case StateContainerOpen:
		return to == StateStepRunning || to == StateCompleted || to == StateFailed
	case StateStepRunning:
		return to == StateStepRunning || to == StateCompleted || to == StateFailed
	default:
		return false
	}
}

// Lifecycle tracks one task through CREATED, CONTAINER_OPEN, STEP_RUNNING for each
// step, and finally COMPLETED or FAILED. Transitions are validated.
type Lifecycle struct {
	mu    sync.Mutex
	state State
	step  int
	// onTerminal runs once, outside the lock, when a terminal state is reached.
	onTerminal func(State)
}

func NewLifecycle(onTerminal func(State)) *Lifecycle {
	return &Lifecycle{state: StateCreated, step: -1, onTerminal: onTerminal}
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Step returns the index of the last step that entered STEP_RUNNING, or -1.
func (l *Lifecycle) Step() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.step
}

// Transition moves to the given state, returning an error when the move is not allowed.
func (l *Lifecycle) Transition(to State) error {
	l.mu.Lock()
	from := l.state
	if !isAllowedTransition(from, to) {
		l.mu.Unlock()
		return fmt.Errorf("step: disallowed lifecycle transition %s -> %s", from, to)
	}
	l.state = to
	if to == StateStepRunning {
		l.step++
	}
	hook := l.onTerminal
	l.mu.Unlock()

	if to.Terminal() && hook != nil {
		hook(to)
	}
	return nil
}

// Fail moves to FAILED unless the lifecycle already ended. It reports whether the
// transition happened.
func (l *Lifecycle) Fail() bool {
	if l.State().Terminal() {
		return false
	}
	return l.Transition(StateFailed) == nil
}

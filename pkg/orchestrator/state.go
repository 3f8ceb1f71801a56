package orchestrator

import (
	"sync"
	"time"
)

// State is the playback position of the orchestrator loop.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateReady
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// StateChange represents a state transition event.
type StateChange struct {
	From      State
	To        State
	JobID     string
	Timestamp time.Time
	Reason    string
}

// StateListener observes orchestrator state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(StateChange)

func (f StateListenerFunc) OnStateChange(ev StateChange) { f(ev) }

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid orchestrator transition from " + e.From.String() + " to " + e.To.String()
}

var validTransitions = map[State][]State{
	StateIdle:     {StateFetching},
	StateFetching: {StateReady, StateIdle},
	StateReady:    {StatePlaying, StateIdle},
	StatePlaying:  {StateIdle},
}

// stateMachine holds the loop state. Only the loop goroutine transitions it;
// readers take the read lock.
type stateMachine struct {
	mu        sync.RWMutex
	current   State
	listeners []StateListener
}

func (sm *stateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

func (sm *stateMachine) AddListener(l StateListener) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, l)
}

// Transition moves to state. Moving to the current state is a no-op.
func (sm *stateMachine) Transition(to State, jobID, reason string) error {
	sm.mu.Lock()
	from := sm.current
	if from == to {
		sm.mu.Unlock()
		return nil
	}
	if !transitionValid(from, to) {
		sm.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	sm.current = to
	listeners := make([]StateListener, len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	ev := StateChange{From: from, To: to, JobID: jobID, Timestamp: time.Now(), Reason: reason}
	for _, l := range listeners {
		l.OnStateChange(ev)
	}
	return nil
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

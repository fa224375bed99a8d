package core

import (
	"fmt"
	"sync"

	"github.com/Dyastin-0/gocp/logger"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateMessaging
	StateError
	StateDisconnecting
)

var stateNames = [...]string{
	StateDisconnected:   "disconnected",
	StateConnecting:     "connecting",
	StateAuthenticating: "authenticating",
	StateConnected:      "connected",
	StateMessaging:      "messaging",
	StateError:          "error",
	StateDisconnecting:  "disconnecting",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// StateMachine tracks the lifecycle of one session. Transitions are not
// checked against a table; the last call wins.
type StateMachine struct {
	mu      sync.RWMutex
	current State
	log     logger.Logger

	// OnTransition, if set, runs after every transition.
	OnTransition func(from, to State)
}

func NewStateMachine(log logger.Logger) *StateMachine {
	if log == nil {
		log = logger.Nop()
	}

	return &StateMachine{
		current: StateDisconnected,
		log:     log,
	}
}

func (m *StateMachine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.current
}

// Transition records the new state and logs the (from, to) pair.
func (m *StateMachine) Transition(to State) {
	m.mu.Lock()
	from := m.current
	m.current = to
	hook := m.OnTransition
	m.mu.Unlock()

	m.log.
		WithStr("from", from.String()).
		WithStr("to", to.String()).
		Debug("state transition")

	if hook != nil {
		hook(from, to)
	}
}

// Fail logs err, moves to StateError and returns err unchanged so callers
// can `return m.Fail(err)`.
func (m *StateMachine) Fail(err error) error {
	m.log.WithErr(err).Error("session error")
	m.Transition(StateError)
	return err
}

// Recover moves back to StateConnected after a successful operation that
// followed an error.
func (m *StateMachine) Recover() {
	if m.Current() == StateError {
		m.Transition(StateConnected)
	}
}

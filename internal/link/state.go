package link

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// LinkState is the connection phase of the link.
type LinkState int

const (
	StateDisconnected LinkState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	// StateBonded means bonding was requested after a security failure and the link is still up.
	StateBonded
)

func (s LinkState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateBonded:
		return "bonded"
	default:
		return fmt.Sprintf("link_state(%d)", int(s))
	}
}

// IsUp reports whether commands may be issued in this state.
func (s LinkState) IsUp() bool {
	return s == StateConnected || s == StateBonded
}

// ErrInvalidTransition is returned for a state change the machine does not allow.
var ErrInvalidTransition = errors.New("invalid link state transition")

var transitions = map[LinkState][]LinkState{
	StateDisconnected:  {StateConnecting},
	StateConnecting:    {StateConnected, StateDisconnecting, StateDisconnected},
	StateConnected:     {StateBonded, StateDisconnecting, StateDisconnected},
	StateBonded:        {StateDisconnecting, StateDisconnected},
	StateDisconnecting: {StateDisconnected},
}

// lifecycleEvents maps entered states to the event announced for them.
var lifecycleEvents = map[LinkState]EventKind{
	StateConnecting:    EventConnecting,
	StateConnected:     EventConnected,
	StateDisconnecting: EventDisconnecting,
	StateDisconnected:  EventDisconnected,
}

// StateMachine owns the LinkState. Every accepted change is announced through emit,
// outside the lock.
type StateMachine struct {
	mu     sync.RWMutex
	state  LinkState
	emit   func(Event)
	logger *logrus.Logger
}

func NewStateMachine(emit func(Event), logger *logrus.Logger) *StateMachine {
	if logger == nil {
		logger = logrus.New()
	}
	if emit == nil {
		emit = func(Event) {}
	}
	return &StateMachine{state: StateDisconnected, emit: emit, logger: logger}
}

func (m *StateMachine) State() LinkState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Transition moves to the target state. Re-entering the current state is a no-op;
// a change the machine does not allow returns ErrInvalidTransition.
func (m *StateMachine) Transition(to LinkState) (changed bool, err error) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return false, nil
	}
	if !allowed(from, to) {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"from": from.String(),
		"to":   to.String(),
	}).Info("Link state changed")

	if kind, ok := lifecycleEvents[to]; ok {
		m.emit(Event{Kind: kind})
	}
	return true, nil
}

func allowed(from, to LinkState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

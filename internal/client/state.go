package client

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned when a trigger does not apply to the
// current connection state.
var ErrInvalidTransition = errors.New("invalid connection state transition")

// State represents the client's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Trigger is an input to the connection state machine.
type Trigger int

const (
	TriggerDial   Trigger = iota // transport dial started
	TriggerJoined                // server acknowledged the join
	TriggerLost                  // transport closed or failed
)

func (t Trigger) String() string {
	switch t {
	case TriggerDial:
		return "dial"
	case TriggerJoined:
		return "joined"
	case TriggerLost:
		return "lost"
	default:
		return fmt.Sprintf("trigger(%d)", int(t))
	}
}

// Next is the single transition function of the connection state machine.
//
//	disconnected --dial--> connecting --joined--> joined
//	connecting --lost--> disconnected
//	joined --lost--> disconnected
func Next(s State, t Trigger) (State, error) {
	switch {
	case s == StateDisconnected && t == TriggerDial:
		return StateConnecting, nil
	case s == StateConnecting && t == TriggerJoined:
		return StateJoined, nil
	case (s == StateConnecting || s == StateJoined) && t == TriggerLost:
		return StateDisconnected, nil
	default:
		return s, fmt.Errorf("%s on %s: %w", t, s, ErrInvalidTransition)
	}
}

// Machine holds the current state and applies triggers through Next.
type Machine struct {
	mu       sync.Mutex
	state    State
	onChange func(from, to State)
}

// NewMachine creates a Machine in StateDisconnected.
func NewMachine(onChange func(from, to State)) *Machine {
	return &Machine{state: StateDisconnected, onChange: onChange}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire applies t. The callback runs outside the lock.
func (m *Machine) Fire(t Trigger) error {
	m.mu.Lock()
	from := m.state
	to, err := Next(from, t)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = to
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(from, to)
	}
	return nil
}

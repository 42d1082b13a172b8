package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wbridge/internal/bus"
)

// State is the connection state of a web client session.
type State string

const (
	New                    State = "new"
	Connecting             State = "connecting"
	ConnectionInfoSend     State = "connectionInfoSend"
	ConnectionInfoReceived State = "connectionInfoReceived"
	Ready                  State = "ready"
	Disconnecting          State = "disconnecting"
	Disconnected           State = "disconnected"
)

// EventStateChanged is published on every transition.
const EventStateChanged = "connection.state_changed"

// validTransitions defines allowed state transitions. A session exchanges
// connectionInfo in either order before it becomes ready.
var validTransitions = map[State][]State{
	New:                    {Connecting, Disconnected},
	Connecting:             {ConnectionInfoSend, ConnectionInfoReceived, Disconnecting, Disconnected},
	ConnectionInfoSend:     {Ready, Disconnecting, Disconnected},
	ConnectionInfoReceived: {Ready, Disconnecting, Disconnected},
	Ready:                  {Disconnecting, Disconnected},
	Disconnecting:          {Disconnected},
	Disconnected:           {Connecting},
}

// Machine tracks and enforces the connection state of one session.
type Machine struct {
	mu        sync.RWMutex
	current   State
	sessionID string
	bus       *bus.Bus
}

// NewMachine creates a new state machine starting in New state. b may be nil.
func NewMachine(sessionID string, b *bus.Bus) *Machine {
	return &Machine{
		current:   New,
		sessionID: sessionID,
		bus:       b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the current state is one of states.
func (m *Machine) Is(states ...State) bool {
	return slices.Contains(states, m.Current())
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      EventStateChanged,
			Timestamp: time.Now(),
			Payload: StateChange{
				SessionID: m.sessionID,
				From:      from,
				To:        to,
			},
		})
	}
	return nil
}

// StateChange is the payload for state change events.
type StateChange struct {
	SessionID string
	From      State
	To        State
}

package status

import (
	"testing"

	"github.com/matheus3301/wbridge/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine("s1", nil)
	if m.Current() != New {
		t.Errorf("initial state = %s, want new", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{New, Connecting},
		{Connecting, ConnectionInfoSend},
		{Connecting, ConnectionInfoReceived},
		{ConnectionInfoSend, Ready},
		{ConnectionInfoReceived, Ready},
		{Ready, Disconnecting},
		{Ready, Disconnected},
		{Disconnecting, Disconnected},
		{Disconnected, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine("s1", nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine("s1", nil)
	if err := m.Transition(Ready); err == nil {
		t.Error("Transition(new -> ready) should fail")
	}
	walkTo(t, m, ConnectionInfoSend)
	if err := m.Transition(ConnectionInfoReceived); err == nil {
		t.Error("connectionInfoSend -> connectionInfoReceived should fail; the second half goes straight to ready")
	}
	if m.Current() != ConnectionInfoSend {
		t.Errorf("state = %s, should not have changed", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("connection.", 10)
	defer unsub()

	m := NewMachine("s1", b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != EventStateChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, EventStateChanged)
	}
	change, ok := evt.Payload.(StateChange)
	if !ok {
		t.Fatalf("payload type = %T, want StateChange", evt.Payload)
	}
	if change.SessionID != "s1" || change.From != New || change.To != Connecting {
		t.Errorf("change = %+v", change)
	}
}

// TestResumeCycle walks a session through a dropped transport and a resumed
// connection: ready -> disconnected -> connecting -> ... -> ready.
func TestResumeCycle(t *testing.T) {
	m := NewMachine("s1", nil)
	walkTo(t, m, Ready)

	steps := []State{Disconnected, Connecting, ConnectionInfoReceived, Ready}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if !m.Is(Ready) {
		t.Errorf("final state = %s, want ready", m.Current())
	}
}

func TestIs(t *testing.T) {
	m := NewMachine("s1", nil)
	if !m.Is(New, Ready) || m.Is(Ready, Disconnected) {
		t.Error("Is does not match current state")
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		New:                    {},
		Connecting:             {Connecting},
		ConnectionInfoSend:     {Connecting, ConnectionInfoSend},
		ConnectionInfoReceived: {Connecting, ConnectionInfoReceived},
		Ready:                  {Connecting, ConnectionInfoSend, Ready},
		Disconnecting:          {Connecting, ConnectionInfoSend, Ready, Disconnecting},
		Disconnected:           {Connecting, Disconnected},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}

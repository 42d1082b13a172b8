package bus

import "time"

// Event is a change published on the bus. Kind is dot separated, with the
// namespace first, such as "domain.message.created".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent returns an event stamped with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}

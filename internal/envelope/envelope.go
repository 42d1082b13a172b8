package envelope

import (
	"github.com/vmihailenco/msgpack/v5"
)

// Type is the top-level message type of an envelope.
type Type string

const (
	TypeRequest  Type = "request"
	TypeResponse Type = "response"
	TypeUpdate   Type = "update"
	TypeCreate   Type = "create"
	TypeDelete   Type = "delete"
)

// Known reports whether t is one of the protocol's message types.
func (t Type) Known() bool {
	switch t {
	case TypeRequest, TypeResponse, TypeUpdate, TypeCreate, TypeDelete:
		return true
	}
	return false
}

// SubTypeConfirm carries ack-only outcomes.
const SubTypeConfirm = "confirm"

// Ack is the outcome of a request that needs no payload beyond success or failure.
type Ack struct {
	ID      string `msgpack:"id"`
	Success bool   `msgpack:"success"`
	Error   Code   `msgpack:"error,omitempty"`
}

// Envelope is the unit of exchange with a paired web client.
//
// Data holds a typed record on outgoing envelopes and a msgpack.RawMessage on
// decoded ones; DecodeData handles both.
type Envelope struct {
	Type    Type   `msgpack:"type"`
	SubType string `msgpack:"subType"`
	ID      string `msgpack:"id,omitempty"`
	Ack     *Ack   `msgpack:"ack,omitempty"`
	Args    Args   `msgpack:"args,omitempty"`
	Data    any    `msgpack:"data,omitempty"`
}

// Key identifies the handler an envelope routes to.
type Key struct {
	Type    Type
	SubType string
}

func (k Key) String() string {
	return string(k.Type) + "/" + k.SubType
}

// Key returns the routing key of e.
func (e *Envelope) Key() Key {
	return Key{Type: e.Type, SubType: e.SubType}
}

// New builds an envelope of the given type and subtype.
func New(t Type, subType string) *Envelope {
	return &Envelope{Type: t, SubType: subType}
}

// NewResponse builds a response correlated to requestID.
func NewResponse(subType, requestID string) *Envelope {
	return &Envelope{Type: TypeResponse, SubType: subType, ID: requestID}
}

// NewUpdate builds an unsolicited update.
func NewUpdate(subType string) *Envelope {
	return &Envelope{Type: TypeUpdate, SubType: subType}
}

// NewConfirm builds an update/confirm envelope acknowledging requestID.
func NewConfirm(requestID string, success bool, code Code) *Envelope {
	ack := &Ack{ID: requestID, Success: success}
	if !success {
		ack.Error = code
	}
	return &Envelope{Type: TypeUpdate, SubType: SubTypeConfirm, Ack: ack}
}

// WithArgs sets args and returns e.
func (e *Envelope) WithArgs(args Args) *Envelope {
	e.Args = args
	return e
}

// WithData sets the payload and returns e.
func (e *Envelope) WithData(data any) *Envelope {
	e.Data = data
	return e
}

// WithAck attaches a success ack for requestID and returns e.
func (e *Envelope) WithAck(requestID string) *Envelope {
	e.Ack = &Ack{ID: requestID, Success: true}
	return e
}

// HasData reports whether the envelope carries a payload.
func (e *Envelope) HasData() bool {
	switch d := e.Data.(type) {
	case nil:
		return false
	case msgpack.RawMessage:
		return len(d) > 0
	}
	return true
}

// DecodeData decodes the payload into v.
func (e *Envelope) DecodeData(v any) error {
	raw, err := e.rawData()
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return &FieldError{Field: "data", Missing: true}
	}
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return &FieldError{Field: "data", Want: "record", Err: err}
	}
	return nil
}

// DataMap decodes the payload as a string-keyed map so handlers can tell an
// absent field from an explicit nil.
func (e *Envelope) DataMap() (Args, error) {
	if !e.HasData() {
		return nil, &FieldError{Field: "data", Missing: true}
	}
	var m map[string]any
	if err := e.DecodeData(&m); err != nil {
		return nil, err
	}
	return Args(m), nil
}

func (e *Envelope) rawData() (msgpack.RawMessage, error) {
	switch d := e.Data.(type) {
	case nil:
		return nil, nil
	case msgpack.RawMessage:
		return d, nil
	default:
		b, err := marshal(d)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

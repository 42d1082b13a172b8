package envelope

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// wireEnvelope mirrors Envelope with loosely typed fields so that a frame with
// a mistyped field can still yield its correlation id.
type wireEnvelope struct {
	Type    any                `msgpack:"type"`
	SubType any                `msgpack:"subType"`
	ID      any                `msgpack:"id"`
	Ack     msgpack.RawMessage `msgpack:"ack"`
	Args    any                `msgpack:"args"`
	Data    msgpack.RawMessage `msgpack:"data"`
}

// Decode parses a msgpack frame. The returned error is always a *MalformedError.
func Decode(frame []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := msgpack.Unmarshal(frame, &w); err != nil {
		return nil, &MalformedError{Reason: "not a msgpack map", Err: err}
	}

	var id string
	switch v := w.ID.(type) {
	case nil:
	case string:
		id = v
	default:
		return nil, &MalformedError{Reason: "id is not a string"}
	}

	typ, ok := w.Type.(string)
	if !ok || typ == "" {
		return nil, &MalformedError{ID: id, Reason: "type missing or not a string"}
	}

	var subType string
	switch v := w.SubType.(type) {
	case nil:
	case string:
		subType = v
	default:
		return nil, &MalformedError{ID: id, Reason: "subType is not a string"}
	}

	env := &Envelope{Type: Type(typ), SubType: subType, ID: id}

	switch v := w.Args.(type) {
	case nil:
	case map[string]any:
		env.Args = Args(v)
	default:
		return nil, &MalformedError{ID: id, Reason: "args is not a map"}
	}

	if ack := present(w.Ack); ack != nil {
		var a Ack
		if err := msgpack.Unmarshal(ack, &a); err != nil {
			return nil, &MalformedError{ID: id, Reason: "ack", Err: err}
		}
		env.Ack = &a
	}

	if data := present(w.Data); data != nil {
		env.Data = data
	}
	return env, nil
}

// Encode serializes e with sorted map keys so equal envelopes produce equal bytes.
func Encode(e *Envelope) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("encode: nil envelope")
	}
	b, err := marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s/%s: %w", e.Type, e.SubType, err)
	}
	return b, nil
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func present(raw msgpack.RawMessage) msgpack.RawMessage {
	if len(raw) == 0 || (len(raw) == 1 && raw[0] == msgpcode.Nil) {
		return nil
	}
	return raw
}

package envelope

import (
	"bytes"
	"errors"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestEncodeDecodeResponse(t *testing.T) {
	env := NewResponse("messages", "req-1").
		WithArgs(Args{"type": "contact", "id": "ECHOECHO", "more": true}).
		WithData([]map[string]any{{"id": "01", "body": "hi"}})

	b, err := Encode(env)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeResponse || got.SubType != "messages" || got.ID != "req-1" {
		t.Errorf("header = %s/%s id=%q", got.Type, got.SubType, got.ID)
	}
	more, err := got.Args.Bool("more")
	if err != nil || !more {
		t.Errorf("args.more = %v, %v", more, err)
	}
	var data []map[string]any
	if err := got.DecodeData(&data); err != nil {
		t.Fatal(err)
	}
	if len(data) != 1 || data[0]["body"] != "hi" {
		t.Errorf("data = %v", data)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	build := func() *Envelope {
		return NewUpdate("receiver").
			WithArgs(Args{"z": 1, "a": "x", "m": false, "b": []byte{1, 2}}).
			WithData(map[string]any{"k3": 3, "k1": 1, "k2": 2})
	}
	a, err := Encode(build())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		b, err := Encode(build())
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(a, b) {
			t.Fatalf("encoding %d differs", i)
		}
	}
}

func TestConfirmCarriesAck(t *testing.T) {
	b, err := Encode(NewConfirm("r9", false, CodeBlocked))
	if err != nil {
		t.Fatal(err)
	}
	env, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if env.Key() != (Key{TypeUpdate, SubTypeConfirm}) {
		t.Errorf("key = %s", env.Key())
	}
	if env.Ack == nil || env.Ack.ID != "r9" || env.Ack.Success || env.Ack.Error != CodeBlocked {
		t.Errorf("ack = %+v", env.Ack)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name   string
		frame  any
		wantID string
	}{
		{"not a map", []int{1, 2, 3}, ""},
		{"missing type", map[string]any{"subType": "x", "id": "r1"}, "r1"},
		{"numeric type", map[string]any{"type": 7, "id": "r2"}, "r2"},
		{"numeric subtype", map[string]any{"type": "request", "subType": 1, "id": "r3"}, "r3"},
		{"args not a map", map[string]any{"type": "request", "subType": "x", "id": "r4", "args": "nope"}, "r4"},
		{"id not a string", map[string]any{"type": "request", "id": 5}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := msgpack.Marshal(tt.frame)
			if err != nil {
				t.Fatal(err)
			}
			_, err = Decode(frame)
			var me *MalformedError
			if !errors.As(err, &me) {
				t.Fatalf("err = %v, want *MalformedError", err)
			}
			if me.ID != tt.wantID {
				t.Errorf("recovered id = %q, want %q", me.ID, tt.wantID)
			}
		})
	}
}

func TestDecodeUnknownTypeIsNotMalformed(t *testing.T) {
	frame, _ := msgpack.Marshal(map[string]any{"type": "teleport", "subType": "x", "id": "r"})
	env, err := Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	if env.Type.Known() {
		t.Error("teleport should not be a known type")
	}
}

func TestArgsIntegerWidths(t *testing.T) {
	for _, v := range []any{int8(5), int16(5), int32(5), int64(5), uint8(5), uint16(5), uint32(5), uint64(5), 5, float64(5)} {
		n, err := Args{"n": v}.Int("n")
		if err != nil || n != 5 {
			t.Errorf("Int(%T) = %d, %v", v, n, err)
		}
	}
	if _, err := (Args{"n": 1.5}).Int("n"); err == nil {
		t.Error("fractional float accepted as integer")
	}
}

func TestArgsMissingVersusMistyped(t *testing.T) {
	a := Args{"s": 1, "nil": nil}
	var fe *FieldError

	_, err := a.String("absent")
	if !errors.As(err, &fe) || !fe.Missing {
		t.Errorf("absent: %v", err)
	}
	_, err = a.String("s")
	if !errors.As(err, &fe) || fe.Missing {
		t.Errorf("mistyped: %v", err)
	}
	if !a.IsNil("nil") || a.IsNil("s") || a.IsNil("absent") {
		t.Error("IsNil mismatch")
	}
	if _, ok, err := a.OptString("absent"); ok || err != nil {
		t.Errorf("OptString(absent) = %v, %v", ok, err)
	}
}

func TestDataMapDistinguishesNil(t *testing.T) {
	frame, _ := msgpack.Marshal(map[string]any{
		"type": "update", "subType": "group", "id": "r",
		"data": map[string]any{"name": "New", "avatar": nil},
	})
	env, err := Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	data, err := env.DataMap()
	if err != nil {
		t.Fatal(err)
	}
	if !data.IsNil("avatar") {
		t.Error("avatar should be present and nil")
	}
	if data.Has("members") {
		t.Error("members should be absent")
	}
}

func TestMissingData(t *testing.T) {
	frame, _ := msgpack.Marshal(map[string]any{"type": "create", "subType": "contact", "data": nil})
	env, err := Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	if env.HasData() {
		t.Error("nil data should count as absent")
	}
	var fe *FieldError
	if _, err := env.DataMap(); !errors.As(err, &fe) || !fe.Missing {
		t.Errorf("DataMap err = %v", err)
	}
}

package protocol

import (
	"errors"
	"testing"

	"github.com/matheus3301/wbridge/internal/envelope"
	"github.com/vmihailenco/msgpack/v5"
)

func decode(t *testing.T, frame map[string]any) *envelope.Envelope {
	t.Helper()
	b, err := msgpack.Marshal(frame)
	if err != nil {
		t.Fatal(err)
	}
	env, err := envelope.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestParseTextMessageWithQuote(t *testing.T) {
	env := decode(t, map[string]any{
		"type": "create", "subType": "textMessage", "id": "r1",
		"args": map[string]any{"type": "contact", "id": "ECHOECHO"},
		"data": map[string]any{"text": "there", "quote": map[string]any{"identity": "ECHOECHO", "text": "hi"}},
	})
	tm, err := ParseTextMessage(env)
	if err != nil {
		t.Fatal(err)
	}
	if tm.Receiver != (ReceiverRef{Type: ReceiverContact, ID: "ECHOECHO"}) {
		t.Errorf("receiver = %+v", tm.Receiver)
	}
	if tm.Quote == nil || tm.Quote.Identity != "ECHOECHO" || tm.Quote.Text != "hi" {
		t.Errorf("quote = %+v", tm.Quote)
	}
}

func TestParseReceiverRejectsUnknownType(t *testing.T) {
	env := decode(t, map[string]any{
		"type": "request", "subType": "messages",
		"args": map[string]any{"type": "distributionList", "id": "x"},
	})
	var fe *envelope.FieldError
	if _, err := ParseMessages(env); !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FieldError", err)
	}
}

func TestParseUpdateGroupAvatarStates(t *testing.T) {
	tests := []struct {
		name    string
		data    map[string]any
		wantSet bool
		wantNil bool
	}{
		{"absent", map[string]any{"members": []string{"A"}}, false, true},
		{"removed", map[string]any{"members": []string{"A"}, "avatar": nil}, true, true},
		{"replaced", map[string]any{"members": []string{"A"}, "avatar": []byte{1}}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := decode(t, map[string]any{
				"type": "update", "subType": "group", "id": "r",
				"args": map[string]any{"id": "0011223344556677"},
				"data": tt.data,
			})
			ug, err := ParseUpdateGroup(env)
			if err != nil {
				t.Fatal(err)
			}
			if ug.Avatar.Set != tt.wantSet || (ug.Avatar.Value == nil) != tt.wantNil {
				t.Errorf("avatar = %+v", ug.Avatar)
			}
		})
	}
}

func TestParseClientInfoNumericBrowserVersion(t *testing.T) {
	env := decode(t, map[string]any{
		"type": "request", "subType": "clientInfo", "id": "r",
		"data": map[string]any{"browserName": "firefox", "browserVersion": 128, "protocolVersion": "2.1.0"},
	})
	ci, err := ParseClientInfo(env)
	if err != nil {
		t.Fatal(err)
	}
	if ci.BrowserVersion != "128" || ci.ProtocolVersion != "2.1.0" {
		t.Errorf("client info = %+v", ci)
	}
}

func TestParseConnectionAckBounds(t *testing.T) {
	env := decode(t, map[string]any{
		"type": "update", "subType": "connectionAck",
		"data": map[string]any{"sequenceNumber": int64(1) << 33},
	})
	if _, err := ParseConnectionAck(env); err == nil {
		t.Error("sequence number above uint32 accepted")
	}
}

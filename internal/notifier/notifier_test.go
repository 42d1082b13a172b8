package notifier

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wbridge/internal/bridge"
	"github.com/matheus3301/wbridge/internal/bus"
	"github.com/matheus3301/wbridge/internal/domain"
	"github.com/matheus3301/wbridge/internal/envelope"
	"github.com/matheus3301/wbridge/internal/protocol"
	"github.com/matheus3301/wbridge/internal/store"
	"go.uber.org/zap"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *fakeConn) Send(_ context.Context, frame []byte) error {
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) updates(t *testing.T, sub string) []*envelope.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*envelope.Envelope
	for _, f := range c.frames {
		env, err := envelope.Decode(f)
		if err != nil {
			t.Fatal(err)
		}
		if env.Type == envelope.TypeUpdate && env.SubType == sub {
			out = append(out, env)
		}
	}
	return out
}

func (c *fakeConn) waitFor(t *testing.T, sub string, n int) []*envelope.Envelope {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		if got := c.updates(t, sub); len(got) >= n {
			return got
		}
		select {
		case <-timeout:
			t.Fatalf("timed out waiting for %d update/%s", n, sub)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type fixture struct {
	db   *store.DB
	bus  *bus.Bus
	s    *bridge.Session
	conn *fakeConn
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	b := bus.New()
	db.SetPublisher(b)

	reg := bridge.NewRegistry(bridge.Options{})
	s := reg.Session("p1")
	conn := &fakeConn{}
	if err := s.Attach(conn); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ConnectionInfo(context.Background(), protocol.ConnectionInfo{ID: make([]byte, 16)}); err != nil {
		t.Fatal(err)
	}
	if !s.Ready() {
		t.Fatal("session not ready")
	}

	n := New(db, reg, b, "SELFSELF", nil, zap.NewNop())
	n.Start(context.Background())
	t.Cleanup(n.Stop)

	return &fixture{db: db, bus: b, s: s, conn: conn}
}

func (f *fixture) atomic(t *testing.T, fn func(tx domain.Tx) error) {
	t.Helper()
	if err := f.db.Atomic(context.Background(), fn); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) contact(t *testing.T, identity string) *domain.Conversation {
	t.Helper()
	conv := &domain.Conversation{ContactIdentity: identity}
	f.atomic(t, func(tx domain.Tx) error {
		if err := tx.SaveContact(&domain.Contact{Identity: identity, FirstName: identity, State: domain.StateActive}); err != nil {
			return err
		}
		return tx.SaveConversation(conv)
	})
	return conv
}

func (f *fixture) message(t *testing.T, conv *domain.Conversation, id string) {
	t.Helper()
	f.atomic(t, func(tx domain.Tx) error {
		return tx.SaveMessage(&domain.Message{ID: id, ConversationID: conv.ID, Sender: conv.ContactIdentity,
			Type: domain.MessageText, Body: id, State: domain.StateReceived, Date: time.Now()})
	})
}

func TestReceiverUpdates(t *testing.T) {
	f := newFixture(t)
	f.atomic(t, func(tx domain.Tx) error {
		return tx.SaveContact(&domain.Contact{Identity: "ECHOECHO", FirstName: "Echo", State: domain.StateActive})
	})

	got := f.conn.waitFor(t, protocol.SubReceiver, 1)
	if m, _ := got[0].Args.String("mode"); m != string(protocol.ModeNew) {
		t.Errorf("mode = %q, want new", m)
	}
	if id, _ := got[0].Args.String("id"); id != "ECHOECHO" {
		t.Errorf("id = %q", id)
	}
	var c protocol.Contact
	if err := got[0].DecodeData(&c); err != nil {
		t.Fatal(err)
	}

	f.atomic(t, func(tx domain.Tx) error { return tx.DeleteContact("ECHOECHO") })
	got = f.conn.waitFor(t, protocol.SubReceiver, 2)
	if m, _ := got[1].Args.String("mode"); m != string(protocol.ModeRemoved) {
		t.Errorf("mode = %q, want removed", m)
	}
	if got[1].HasData() {
		t.Error("removed receiver carries data")
	}
}

func TestMessagesOnlyForRequestedConversations(t *testing.T) {
	f := newFixture(t)
	conv := f.contact(t, "ECHOECHO")

	f.message(t, conv, "m1")
	// The conversation update follows the message event of the same commit.
	f.conn.waitFor(t, protocol.SubConversation, 2)
	if got := f.conn.updates(t, protocol.SubMessages); len(got) != 0 {
		t.Fatalf("got %d message updates for an unopened conversation", len(got))
	}

	f.s.AddRequested("contact:ECHOECHO")
	f.message(t, conv, "m2")
	got := f.conn.waitFor(t, protocol.SubMessages, 1)
	var ms []protocol.Message
	if err := got[0].DecodeData(&ms); err != nil {
		t.Fatal(err)
	}
	if len(ms) != 1 || ms[0].ID != "m2" {
		t.Errorf("messages = %+v", ms)
	}
	if m, _ := got[0].Args.String("mode"); m != string(protocol.ModeNew) {
		t.Errorf("mode = %q, want new", m)
	}

	f.atomic(t, func(tx domain.Tx) error { return tx.DeleteMessage("m2") })
	got = f.conn.waitFor(t, protocol.SubMessages, 2)
	if m, _ := got[1].Args.String("mode"); m != string(protocol.ModeRemoved) {
		t.Errorf("mode = %q, want removed", m)
	}
}

func TestBulkCommitDeliversEveryMessage(t *testing.T) {
	f := newFixture(t)
	conv := f.contact(t, "ECHOECHO")
	f.s.AddRequested("contact:ECHOECHO")

	// Each message also touches the conversation, so one commit publishes
	// twice as many events as messages.
	const n = 1200
	now := time.Now()
	f.atomic(t, func(tx domain.Tx) error {
		for i := range n {
			if err := tx.SaveMessage(&domain.Message{ID: fmt.Sprintf("m%04d", i), ConversationID: conv.ID,
				Sender: "ECHOECHO", Type: domain.MessageText, State: domain.StateReceived, Date: now}); err != nil {
				return err
			}
		}
		return nil
	})

	timeout := time.After(20 * time.Second)
	for len(f.conn.updates(t, protocol.SubMessages)) < n {
		select {
		case <-timeout:
			t.Fatalf("got %d of %d message updates", len(f.conn.updates(t, protocol.SubMessages)), n)
		case <-time.After(50 * time.Millisecond):
		}
	}
	if d := f.bus.Dropped(); d != 0 {
		t.Errorf("bus dropped %d events", d)
	}
}

func TestConversationUpdateCarriesPosition(t *testing.T) {
	f := newFixture(t)
	a := f.contact(t, "AAAAAAAA")
	f.contact(t, "BBBBBBBB")
	f.message(t, a, "m1")

	var last protocol.Conversation
	timeout := time.After(2 * time.Second)
	for last.ID != "AAAAAAAA" || last.MessageCount != 1 {
		got := f.conn.updates(t, protocol.SubConversation)
		if len(got) > 0 {
			if err := got[len(got)-1].DecodeData(&last); err != nil {
				t.Fatal(err)
			}
		}
		select {
		case <-timeout:
			t.Fatalf("last conversation update = %+v", last)
		case <-time.After(5 * time.Millisecond):
		}
	}
	if last.Position != 1 {
		t.Errorf("position = %d, want 1", last.Position)
	}
}

func TestVolatileAndListUpdates(t *testing.T) {
	f := newFixture(t)

	f.bus.Publish(bus.Event{Kind: domain.EventTyping, Payload: domain.TypingChange{Identity: "ECHOECHO", Typing: true}})
	got := f.conn.waitFor(t, protocol.SubTyping, 1)
	var typing protocol.Typing
	if err := got[0].DecodeData(&typing); err != nil {
		t.Fatal(err)
	}
	if !typing.IsTyping {
		t.Error("typing not set")
	}
	if f.s.Info().ReplayFrames != 0 {
		t.Error("typing update kept for replay")
	}

	f.atomic(t, func(tx domain.Tx) error { return tx.SetBlocked("ECHOECHO", true) })
	got = f.conn.waitFor(t, protocol.SubBlocked, 1)
	var ids []string
	if err := got[0].DecodeData(&ids); err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "ECHOECHO" {
		t.Errorf("blocked = %v", ids)
	}

	f.atomic(t, func(tx domain.Tx) error {
		return tx.SaveProfile(&domain.Profile{Identity: "SELFSELF", PublicNickname: "me"})
	})
	f.conn.waitFor(t, protocol.SubProfile, 1)
}

func TestMode(t *testing.T) {
	tests := []struct {
		kind string
		want protocol.Mode
	}{
		{domain.EventMessageCreated, protocol.ModeNew},
		{domain.EventMessageModified, protocol.ModeModified},
		{domain.EventGroupRemoved, protocol.ModeRemoved},
		{domain.EventAvatarModified, protocol.ModeModified},
	}
	for _, tt := range tests {
		if got := mode(tt.kind); got != tt.want {
			t.Errorf("mode(%s) = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

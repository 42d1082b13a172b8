package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/wbridge/internal/bus"
	"github.com/matheus3301/wbridge/internal/domain"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type recorder struct {
	events []bus.Event
}

func (r *recorder) Publish(evt bus.Event) { r.events = append(r.events, evt) }

func (r *recorder) kinds() []string {
	var out []string
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + bridge)", result.Version)
	}
}

func TestSchemaVersion(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	if v, err := db.SchemaVersion(); err != nil || v != 0 {
		t.Fatalf("SchemaVersion() before Migrate = %d, %v", v, err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if v, err := db.SchemaVersion(); err != nil || v != 2 {
		t.Errorf("SchemaVersion() = %d, %v; want 2", v, err)
	}
}

func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"insert contact", "INSERT INTO contacts (identity, first_name) VALUES (?, ?)", []any{"AAAAAAAA", "A"}},
		{"insert conversation", "INSERT INTO conversations (contact_identity) VALUES (?)", []any{"AAAAAAAA"}},
		{"insert message", "INSERT INTO messages (id, conversation_id, body, date) VALUES (?, 1, ?, ?)", []any{"m1", "hello", 1000}},
		{"queue outbox", "INSERT INTO outbox (client_id, kind, target) VALUES (?, ?, ?)", []any{"cid", "text", "AAAAAAAA"}},
		{"set sync state", "INSERT INTO sync_state (key, value) VALUES (?, ?)", []any{"k", "v"}},
		{"insert pairing", "INSERT INTO pairings (id, token) VALUES (?, ?)", []any{"p", "t"}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}
}

func TestConversationNeedsExactlyOnePartner(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec("INSERT INTO conversations (contact_identity, group_id) VALUES ('A', 'B')"); err == nil {
		t.Error("conversation with both contact and group should be rejected")
	}
	if _, err := db.Exec("INSERT INTO conversations DEFAULT VALUES"); err == nil {
		t.Error("conversation without partner should be rejected")
	}
}

func seedConversation(t *testing.T, db *DB, identity string) *domain.Conversation {
	t.Helper()
	conv := &domain.Conversation{ContactIdentity: identity}
	err := db.Atomic(context.Background(), func(tx domain.Tx) error {
		if err := tx.SaveContact(&domain.Contact{Identity: identity}); err != nil {
			return err
		}
		return tx.SaveConversation(conv)
	})
	if err != nil {
		t.Fatal(err)
	}
	return conv
}

func addMessages(t *testing.T, db *DB, conv *domain.Conversation, ids []string, date time.Time) {
	t.Helper()
	err := db.Atomic(context.Background(), func(tx domain.Tx) error {
		for _, id := range ids {
			if err := tx.SaveMessage(&domain.Message{ID: id, ConversationID: conv.ID, Sender: conv.ContactIdentity, Body: id, Date: date}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAtomicPublishesAfterCommit(t *testing.T) {
	db := testDB(t)
	rec := &recorder{}
	db.SetPublisher(rec)

	conv := seedConversation(t, db, "ECHOECHO")
	want := []string{domain.EventContactCreated, domain.EventConversationCreated}
	if got := rec.kinds(); !equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if p := rec.events[1].Payload.(domain.ConversationRef); p.ConversationID != conv.ID {
		t.Errorf("payload conversation id = %d, want %d", p.ConversationID, conv.ID)
	}
	if rec.events[0].Timestamp.IsZero() {
		t.Error("published event has no timestamp")
	}
}

func TestAtomicRollbackPublishesNothing(t *testing.T) {
	db := testDB(t)
	rec := &recorder{}
	db.SetPublisher(rec)

	boom := errors.New("boom")
	err := db.Atomic(context.Background(), func(tx domain.Tx) error {
		if err := tx.SaveContact(&domain.Contact{Identity: "AAAAAAAA"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if len(rec.events) != 0 {
		t.Errorf("rolled back tx published %v", rec.kinds())
	}
	if _, err := db.Contact("AAAAAAAA"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("contact survived rollback: err = %v", err)
	}
}

func TestAtomicDeduplicatesEvents(t *testing.T) {
	db := testDB(t)
	conv := seedConversation(t, db, "ECHOECHO")
	rec := &recorder{}
	db.SetPublisher(rec)

	addMessages(t, db, conv, []string{"a", "b"}, time.Now())
	want := []string{domain.EventMessageCreated, domain.EventConversationModified, domain.EventMessageCreated}
	if got := rec.kinds(); !equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestMessagesTimelineNewestFirst(t *testing.T) {
	db := testDB(t)
	conv := seedConversation(t, db, "ECHOECHO")

	base := time.Now().Truncate(time.Second)
	addMessages(t, db, conv, []string{"old"}, base.Add(-time.Hour))
	// Same date: insertion order breaks the tie.
	addMessages(t, db, conv, []string{"x", "y"}, base)

	msgs, err := db.MessagesInConversation(conv.ID, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, m := range msgs {
		got = append(got, m.ID)
	}
	if want := []string{"y", "x", "old"}; !equal(got, want) {
		t.Errorf("timeline = %v, want %v", got, want)
	}

	page, err := db.MessagesInConversation(conv.ID, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != "x" {
		t.Errorf("offset 1 = %v, want [x]", page)
	}

	n, err := db.CountMessages(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}

	latest, err := db.LatestMessage(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != "y" {
		t.Errorf("latest = %s, want y", latest.ID)
	}
}

func TestSaveMessageUpdatesInPlace(t *testing.T) {
	db := testDB(t)
	conv := seedConversation(t, db, "ECHOECHO")
	addMessages(t, db, conv, []string{"m1"}, time.Now())

	m, err := db.Message("m1")
	if err != nil {
		t.Fatal(err)
	}
	sortKey := m.SortKey
	m.State = domain.StateRead
	m.Read = true
	if err := db.Atomic(context.Background(), func(tx domain.Tx) error { return tx.SaveMessage(m) }); err != nil {
		t.Fatal(err)
	}
	got, err := db.Message("m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SortKey != sortKey || got.State != domain.StateRead || !got.Read {
		t.Errorf("got %+v", got)
	}
}

func TestUnreadMessagesOldestFirst(t *testing.T) {
	db := testDB(t)
	conv := seedConversation(t, db, "ECHOECHO")
	base := time.Now()
	addMessages(t, db, conv, []string{"b"}, base)
	addMessages(t, db, conv, []string{"a"}, base.Add(-time.Minute))

	unread, err := db.UnreadMessages(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 2 || unread[0].ID != "a" || unread[1].ID != "b" {
		t.Errorf("unread = %v", unread)
	}
}

func TestGroupMembersKeepOrder(t *testing.T) {
	db := testDB(t)
	g := &domain.Group{Creator: "SELFSELF", Name: "G", Members: []string{"SELFSELF", "CCCCCCCC", "AAAAAAAA"}}
	ctx := context.Background()
	if err := db.Atomic(ctx, func(tx domain.Tx) error { return tx.SaveGroup(g) }); err != nil {
		t.Fatal(err)
	}
	if len(g.ID) != 16 {
		t.Fatalf("generated id %q, want 16 hex chars", g.ID)
	}
	err := db.Atomic(ctx, func(tx domain.Tx) error {
		if err := tx.RemoveGroupMember(g.ID, "CCCCCCCC"); err != nil {
			return err
		}
		return tx.AddGroupMember(g.ID, "BBBBBBBB")
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := db.Group(g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"SELFSELF", "AAAAAAAA", "BBBBBBBB"}; !equal(got.Members, want) {
		t.Errorf("members = %v, want %v", got.Members, want)
	}
	n, err := db.GroupCountOfMember("AAAAAAAA")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("group count = %d, want 1", n)
	}
}

func TestConversationsSortedPinnedFirst(t *testing.T) {
	db := testDB(t)
	a := seedConversation(t, db, "AAAAAAAA")
	b := seedConversation(t, db, "BBBBBBBB")
	addMessages(t, db, b, []string{"newer"}, time.Now().Add(time.Hour))

	a.Pinned = true
	if err := db.Atomic(context.Background(), func(tx domain.Tx) error { return tx.SaveConversation(a) }); err != nil {
		t.Fatal(err)
	}
	convs, err := db.ConversationsSorted()
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 || convs[0].ID != a.ID || convs[1].ID != b.ID {
		t.Errorf("order = %+v", convs)
	}
}

func TestDeleteConversationCascades(t *testing.T) {
	db := testDB(t)
	conv := seedConversation(t, db, "ECHOECHO")
	addMessages(t, db, conv, []string{"m1"}, time.Now())
	rec := &recorder{}
	db.SetPublisher(rec)

	if err := db.Atomic(context.Background(), func(tx domain.Tx) error { return tx.DeleteConversation(conv.ID) }); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Message("m1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("message survived: %v", err)
	}
	if len(rec.events) != 1 {
		t.Fatalf("events = %v", rec.kinds())
	}
	ref := rec.events[0].Payload.(domain.ConversationRef)
	if ref.Receiver.ID != "ECHOECHO" {
		t.Errorf("removed receiver = %+v", ref.Receiver)
	}
}

func TestBlocklist(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if err := db.Atomic(ctx, func(tx domain.Tx) error { return tx.SetBlocked("BADBADBA", true) }); err != nil {
		t.Fatal(err)
	}
	blocked, err := db.IsBlocked("BADBADBA")
	if err != nil || !blocked {
		t.Fatalf("IsBlocked = %v, %v", blocked, err)
	}
	if err := db.Atomic(ctx, func(tx domain.Tx) error { return tx.SetBlocked("BADBADBA", false) }); err != nil {
		t.Fatal(err)
	}
	list, err := db.Blocked()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("blocklist = %v, want empty", list)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)

	e := &OutboxEntry{ClientID: "c1", Kind: "text", Target: "ECHOECHO", Payload: []byte{0x80}}
	if err := db.QueueOutbox(e); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox(&OutboxEntry{ClientID: "c2", Kind: "text", Target: "ECHOECHO"}); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ClientID != "c1" {
		t.Fatalf("pending = %+v", pending)
	}

	if err := db.MarkOutboxSending("c1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxFailed("c2", "boom"); err != nil {
		t.Fatal(err)
	}
	if n, err := db.RequeueSending(); err != nil || n != 1 {
		t.Fatalf("RequeueSending = %d, %v", n, err)
	}
	if err := db.MarkOutboxSent("c1"); err != nil {
		t.Fatal(err)
	}

	counts, err := db.OutboxCounts()
	if err != nil {
		t.Fatal(err)
	}
	if counts[OutboxSent] != 1 || counts[OutboxFailed] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestPairings(t *testing.T) {
	db := testDB(t)
	if err := db.CreatePairing(&Pairing{ID: "p1", Token: "tok", Name: "laptop"}); err != nil {
		t.Fatal(err)
	}
	p, err := db.PairingByToken("tok")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "p1" || p.Name != "laptop" {
		t.Errorf("got %+v", p)
	}
	if err := db.UpdatePairingClient("p1", "UA", "firefox", "120"); err != nil {
		t.Fatal(err)
	}
	if err := db.RevokePairing("p1"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.PairingByToken("tok"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("revoked token still authenticates: %v", err)
	}
	list, err := db.ListPairings()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || !list[0].Revoked || list[0].BrowserName != "firefox" {
		t.Errorf("list = %+v", list)
	}
	if err := db.RevokePairing("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("revoke missing: %v", err)
	}
}

func TestCheckpoints(t *testing.T) {
	db := testDB(t)
	if _, ok, err := db.Checkpoint("k"); err != nil || ok {
		t.Fatalf("unset checkpoint: ok=%v err=%v", ok, err)
	}
	if err := db.SetCheckpoint("k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint("k", "v2"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := db.Checkpoint("k")
	if err != nil || !ok || v != "v2" {
		t.Errorf("checkpoint = %q %v %v", v, ok, err)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	res, err := db.Seed(ctx, "SELFSELF")
	if err != nil {
		t.Fatal(err)
	}
	if res.Contacts == 0 || res.Groups != 1 {
		t.Errorf("first seed = %+v", res)
	}
	res, err = db.Seed(ctx, "SELFSELF")
	if err != nil {
		t.Fatal(err)
	}
	if res.Contacts != 0 {
		t.Errorf("second seed inserted %+v", res)
	}
	p, err := db.Profile()
	if err != nil {
		t.Fatal(err)
	}
	if p.Identity != "SELFSELF" {
		t.Errorf("profile identity = %q", p.Identity)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

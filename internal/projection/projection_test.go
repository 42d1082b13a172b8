package projection

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/wbridge/internal/domain"
	"github.com/matheus3301/wbridge/internal/protocol"
	"github.com/matheus3301/wbridge/internal/store"
)

const self = "SELFSELF"

func testStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func atomic(t *testing.T, db *store.DB, fn func(tx domain.Tx) error) {
	t.Helper()
	if err := db.Atomic(context.Background(), fn); err != nil {
		t.Fatal(err)
	}
}

func addContactConversation(t *testing.T, db *store.DB, identity string, avatar []byte, archived bool) *domain.Conversation {
	t.Helper()
	conv := &domain.Conversation{ContactIdentity: identity, Archived: archived}
	atomic(t, db, func(tx domain.Tx) error {
		if err := tx.SaveContact(&domain.Contact{Identity: identity, FirstName: identity, Avatar: avatar}); err != nil {
			return err
		}
		return tx.SaveConversation(conv)
	})
	return conv
}

func TestConversationsPositionsAndAvatars(t *testing.T) {
	db := testStore(t)
	for _, id := range []string{"AAAAAAAA", "BBBBBBBB", "CCCCCCCC"} {
		addContactConversation(t, db, id, []byte("img-"+id), false)
	}

	convs, err := New(db, self).Conversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 3 {
		t.Fatalf("got %d conversations, want 3", len(convs))
	}
	for i, c := range convs {
		if c.Position != i+1 {
			t.Errorf("conversation %d position = %d, want %d", i, c.Position, i+1)
		}
		if len(c.Avatar) == 0 {
			t.Errorf("conversation %s has no avatar", c.ID)
		}
		if c.Type != protocol.ReceiverContact {
			t.Errorf("type = %q", c.Type)
		}
	}
}

func TestConversationsArchivedLastOrphansSkipped(t *testing.T) {
	db := testStore(t)
	addContactConversation(t, db, "ARCHIVED", nil, true)
	addContactConversation(t, db, "ORPHAN00", nil, false)
	addContactConversation(t, db, "ACTIVE00", nil, false)
	atomic(t, db, func(tx domain.Tx) error { return tx.DeleteContact("ORPHAN00") })

	convs, err := New(db, self).Conversations()
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, c := range convs {
		ids = append(ids, fmt.Sprintf("%s@%d", c.ID, c.Position))
	}
	if want := []string{"ACTIVE00@1", "ARCHIVED@2"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("conversations = %v, want %v", ids, want)
	}
	if !convs[1].IsArchived {
		t.Error("archived flag lost")
	}
}

func TestConversationsAvatarLimit(t *testing.T) {
	db := testStore(t)
	for i := 0; i < AvatarLimit+2; i++ {
		addContactConversation(t, db, fmt.Sprintf("C%07d", i), []byte{byte(i)}, false)
	}
	convs, err := New(db, self).Conversations()
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range convs {
		if got, want := len(c.Avatar) > 0, i < AvatarLimit; got != want {
			t.Errorf("position %d: avatar present = %v, want %v", c.Position, got, want)
		}
	}
}

func TestConversationsDeterministic(t *testing.T) {
	db := testStore(t)
	conv := addContactConversation(t, db, "ECHOECHO", []byte("x"), false)
	atomic(t, db, func(tx domain.Tx) error {
		return tx.SaveMessage(&domain.Message{ID: "m1", ConversationID: conv.ID, Sender: "ECHOECHO", Body: "> ECHOECHO: hi\nthere", Date: time.Unix(1700000000, 0)})
	})
	p := New(db, self)
	a, err := p.Conversations()
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Conversations()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("projection differs between calls:\n%+v\n%+v", a, b)
	}
	latest := a[0].LatestMessage
	if latest == nil || latest.ID != "m1" || a[0].MessageCount != 1 {
		t.Fatalf("latest = %+v, count = %d", latest, a[0].MessageCount)
	}
	if latest.Quote == nil || latest.Quote.Identity != "ECHOECHO" || latest.Body != "there" {
		t.Errorf("quote not parsed: %+v body %q", latest.Quote, latest.Body)
	}
}

func TestConversationUnreadMarker(t *testing.T) {
	db := testStore(t)
	conv := addContactConversation(t, db, "ECHOECHO", nil, false)
	conv.UnreadCount = domain.UnreadMarker
	conv.Pinned = true
	atomic(t, db, func(tx domain.Tx) error { return tx.SaveConversation(conv) })

	wc, err := New(db, self).Conversation(conv, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if !wc.IsUnread || wc.UnreadCount != 0 || !wc.IsStarred {
		t.Errorf("got unread=%v count=%d starred=%v", wc.IsUnread, wc.UnreadCount, wc.IsStarred)
	}
}

func TestContactProjection(t *testing.T) {
	db := testStore(t)
	atomic(t, db, func(tx domain.Tx) error {
		for _, c := range []domain.Contact{
			{Identity: "PLAIN000", VerificationLevel: 0},
			{Identity: "WORK0000", VerificationLevel: 0, IsWork: true},
			{Identity: "*GATEWAY", VerificationLevel: 2},
			{Identity: "MEMBER00"},
		} {
			if err := tx.SaveContact(&c); err != nil {
				return err
			}
		}
		if err := tx.SetBlocked("PLAIN000", true); err != nil {
			return err
		}
		return tx.SaveGroup(&domain.Group{Creator: self, Name: "g", Members: []string{self, "MEMBER00"}})
	})

	p := New(db, self)
	project := func(id string) protocol.Contact {
		t.Helper()
		c, err := db.Contact(id)
		if err != nil {
			t.Fatal(err)
		}
		wc, err := p.Contact(c)
		if err != nil {
			t.Fatal(err)
		}
		return wc
	}

	plain := project("PLAIN000")
	if plain.VerificationLevel != 1 || !plain.IsBlocked || !plain.Access.CanDelete || plain.Color != "#181818" {
		t.Errorf("plain = %+v", plain)
	}
	if work := project("WORK0000"); work.VerificationLevel != 2 {
		t.Errorf("work level = %d, want 2", work.VerificationLevel)
	}
	gw := project("*GATEWAY")
	if gw.VerificationLevel != 3 || gw.Access.CanChangeAvatar || gw.Access.CanChangeFirstName || gw.Access.CanChangeLastName {
		t.Errorf("gateway = %+v", gw)
	}
	if member := project("MEMBER00"); member.Access.CanDelete {
		t.Error("group member must not be deletable")
	}
}

func TestGroupProjection(t *testing.T) {
	db := testStore(t)
	own := &domain.Group{Creator: self, Name: "mine", Members: []string{self, "AAAAAAAA", "INVALID0"}}
	other := &domain.Group{Creator: "AAAAAAAA", Name: "theirs", Members: []string{"AAAAAAAA", self}}
	atomic(t, db, func(tx domain.Tx) error {
		if err := tx.SaveContact(&domain.Contact{Identity: "INVALID0", State: domain.StateInvalid}); err != nil {
			return err
		}
		if err := tx.SaveGroup(own); err != nil {
			return err
		}
		return tx.SaveGroup(other)
	})

	p := New(db, self)
	g, err := p.Group(own)
	if err != nil {
		t.Fatal(err)
	}
	if g.Administrator != self || !g.Access.CanChangeName || !g.Access.CanSync || g.Access.CanLeave {
		t.Errorf("own group = %+v", g)
	}
	if want := []string{self, "AAAAAAAA"}; !reflect.DeepEqual(g.Members, want) {
		t.Errorf("members = %v, want %v", g.Members, want)
	}

	o, err := p.Group(other)
	if err != nil {
		t.Fatal(err)
	}
	if o.Administrator != "AAAAAAAA" || o.Access.CanChangeMembers || !o.Access.CanLeave || !o.Access.CanDelete {
		t.Errorf("other group = %+v", o)
	}
	if want := []string{self, "AAAAAAAA"}; !reflect.DeepEqual(o.Members, want) {
		t.Errorf("other members = %v, want %v", o.Members, want)
	}

	other.DidLeave = true
	left, err := p.Group(other)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"AAAAAAAA"}; !reflect.DeepEqual(left.Members, want) {
		t.Errorf("left group members = %v, want %v", left.Members, want)
	}
}

func TestGroupIDFallback(t *testing.T) {
	a := GroupID(&domain.Group{Name: "  Family "})
	b := GroupID(&domain.Group{Name: "family"})
	if a != b {
		t.Errorf("name-derived ids differ: %q vs %q", a, b)
	}
	if len(a) != 17 || !strings.HasPrefix(a, "~") {
		t.Errorf("fallback id %q, want ~ plus 16 hex chars", a)
	}
	if got := GroupID(&domain.Group{ID: "0011223344556677", Name: "family"}); got != "0011223344556677" {
		t.Errorf("stored id replaced: %q", got)
	}
}

func TestMessageProjection(t *testing.T) {
	conv := &domain.Conversation{ID: 1, ContactIdentity: "ECHOECHO"}
	p := New(nil, self)
	date := time.Unix(1700000000, 0)

	in := p.Message(&domain.Message{ID: "in", Type: domain.MessageText, Body: "hi", State: domain.StateReceived, Date: date}, conv)
	if in.PartnerID != "ECHOECHO" || in.State != "sent" || !in.Unread || in.Date != 1700000000 {
		t.Errorf("incoming = %+v", in)
	}
	if len(in.Events) != 1 || in.Events[0].Type != "sent" {
		t.Errorf("incoming events = %+v", in.Events)
	}

	out := p.Message(&domain.Message{
		ID: "out", IsOwn: true, Type: domain.MessageFile, FileName: "a.pdf", FileSize: 10, FileType: "application/pdf",
		Thumbnail: []byte{1}, ThumbnailWidth: 4, ThumbnailHeight: 3, State: domain.StateDelivered,
		Date: date, SentAt: date, DeliveredAt: date.Add(time.Second),
	}, conv)
	if !out.IsOutbox || out.PartnerID != self || out.Unread {
		t.Errorf("outgoing = %+v", out)
	}
	if out.File == nil || out.File.Name != "a.pdf" || out.Thumbnail == nil || len(out.Thumbnail.Preview) != 1 {
		t.Errorf("file = %+v thumbnail = %+v", out.File, out.Thumbnail)
	}
	if len(out.Events) != 2 {
		t.Errorf("outgoing events = %+v", out.Events)
	}
}

func TestNotificationSettings(t *testing.T) {
	until := time.Unix(1800000000, 0)
	ns := NotificationSettings(domain.PushSetting{Muted: true, DND: domain.DNDUntil, Until: until, MentionOnly: true})
	if ns.Sound.Mode != "muted" || ns.DND.Mode != "until" || ns.DND.Until != 1800000000 || !ns.DND.MentionOnly {
		t.Errorf("got %+v", ns)
	}
	if def := NotificationSettings(domain.PushSetting{}); def.Sound.Mode != "default" || def.DND.Mode != "off" {
		t.Errorf("default = %+v", def)
	}
}

package pairing

import (
	"bytes"
	"errors"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/wbridge/internal/store"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *store.DB {
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

func TestCreateAndAuthenticate(t *testing.T) {
	m := NewManager(testDB(t), "ws://127.0.0.1:8765/ws", zap.NewNop())

	p, offer, err := m.Create("laptop")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Token) != 64 || offer.Token != p.Token || offer.PairingID != p.ID {
		t.Fatalf("pairing = %+v, offer = %+v", p, offer)
	}
	u, err := url.Parse(offer.URL)
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "127.0.0.1:8765" || u.Query().Get("token") != p.Token {
		t.Errorf("offer url = %s", offer.URL)
	}

	got, err := m.Authenticate(p.Token)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != p.ID {
		t.Errorf("authenticated %+v", got)
	}

	if _, err := m.Authenticate("nope"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("unknown token err = %v", err)
	}
	if _, err := m.Authenticate(""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("empty token err = %v", err)
	}

	if err := m.Revoke(p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Authenticate(p.Token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("revoked token err = %v", err)
	}

	list, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || !list[0].Revoked {
		t.Errorf("list = %+v", list)
	}
}

func TestUpdatePairingClient(t *testing.T) {
	db := testDB(t)
	m := NewManager(db, "", nil)
	p, offer, err := m.Create("tablet")
	if err != nil {
		t.Fatal(err)
	}
	if offer.URL != "" {
		t.Errorf("offer url without base = %q", offer.URL)
	}
	if err := m.UpdatePairingClient(p.ID, "ua", "firefox", "128"); err != nil {
		t.Fatal(err)
	}
	got, err := db.Pairing(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.BrowserName != "firefox" || got.BrowserVersion != "128" || got.UserAgent != "ua" {
		t.Errorf("pairing = %+v", got)
	}
}

func TestQRCode(t *testing.T) {
	png, err := QRCode("ws://127.0.0.1:8765/ws?token=abc", 128)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("not a PNG")
	}

	art, err := RenderQR("ws://127.0.0.1:8765/ws?token=abc")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(art, "\n"), "\n")
	if len(lines) < 10 {
		t.Fatalf("got %d lines", len(lines))
	}
	if !strings.ContainsRune(art, '█') {
		t.Error("no filled blocks")
	}
}

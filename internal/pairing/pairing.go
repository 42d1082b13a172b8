// Package pairing issues, authenticates and revokes web client pairings.
package pairing

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/wbridge/internal/domain"
	"github.com/matheus3301/wbridge/internal/store"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// ErrUnauthorized is returned for unknown or revoked tokens.
var ErrUnauthorized = errors.New("unknown or revoked pairing token")

// Offer is what a new web client needs to connect: the address and token,
// also rendered as a QR code.
type Offer struct {
	PairingID string
	Token     string
	URL       string
}

// Manager manages pairings in the store.
type Manager struct {
	db      *store.DB
	baseURL string
	logger  *zap.Logger
}

// NewManager creates a manager. baseURL is the WebSocket endpoint offered
// to clients, such as ws://127.0.0.1:8765/ws.
func NewManager(db *store.DB, baseURL string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{db: db, baseURL: baseURL, logger: logger}
}

func newToken() string {
	a, b := uuid.New(), uuid.New()
	return strings.ReplaceAll(a.String()+b.String(), "-", "")
}

// Create stores a new pairing and returns its offer.
func (m *Manager) Create(name string) (*store.Pairing, Offer, error) {
	p := &store.Pairing{ID: uuid.NewString(), Token: newToken(), Name: name}
	if err := m.db.CreatePairing(p); err != nil {
		return nil, Offer{}, err
	}
	m.logger.Info("pairing created", zap.String("pairing_id", p.ID), zap.String("name", name))
	return p, Offer{PairingID: p.ID, Token: p.Token, URL: m.offerURL(p.Token)}, nil
}

func (m *Manager) offerURL(token string) string {
	u, err := url.Parse(m.baseURL)
	if err != nil || m.baseURL == "" {
		return ""
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// Authenticate resolves a token to its active pairing and records the visit.
func (m *Manager) Authenticate(token string) (*store.Pairing, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	p, err := m.db.PairingByToken(token)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("lookup pairing: %w", err)
	}
	if err := m.db.TouchPairing(p.ID); err != nil {
		m.logger.Warn("failed to touch pairing", zap.String("pairing_id", p.ID), zap.Error(err))
	}
	return p, nil
}

// List returns all pairings.
func (m *Manager) List() ([]store.Pairing, error) {
	return m.db.ListPairings()
}

// Revoke disables a pairing.
func (m *Manager) Revoke(id string) error {
	if err := m.db.RevokePairing(id); err != nil {
		return err
	}
	m.logger.Info("pairing revoked", zap.String("pairing_id", id))
	return nil
}

// UpdatePairingClient records the browser a pairing connected with.
func (m *Manager) UpdatePairingClient(id, userAgent, browserName, browserVersion string) error {
	return m.db.UpdatePairingClient(id, userAgent, browserName, browserVersion)
}

// RevokePairing revokes on request of the client itself.
func (m *Manager) RevokePairing(id string) error {
	return m.Revoke(id)
}

// QRCode encodes content as a PNG of the given size in pixels.
func QRCode(content string, size int) ([]byte, error) {
	return qrcode.Encode(content, qrcode.Medium, size)
}

// RenderQR converts a string to a compact terminal QR code using Unicode
// half-block characters.
func RenderQR(content string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "", err
	}
	qr.DisableBorder = false

	bitmap := qr.Bitmap()
	rows := len(bitmap)
	cols := 0
	if rows > 0 {
		cols = len(bitmap[0])
	}

	var sb strings.Builder
	for y := 0; y < rows; y += 2 {
		sb.WriteString("  ")
		for x := 0; x < cols; x++ {
			top := bitmap[y][x]
			bot := y+1 < rows && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String(), nil
}

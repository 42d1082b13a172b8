package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/wbridge/internal/domain"
)

// Pairing is a web client allowed to connect.
type Pairing struct {
	ID             string
	Token          string
	Name           string
	UserAgent      string
	BrowserName    string
	BrowserVersion string
	CreatedAt      time.Time
	LastSeenAt     time.Time
	Revoked        bool
}

const pairingColumns = `id, token, name, user_agent, browser_name, browser_version, created_at, last_seen_at, revoked`

func scanPairing(row scanner) (*Pairing, error) {
	var (
		p             Pairing
		created, seen int64
	)
	if err := row.Scan(&p.ID, &p.Token, &p.Name, &p.UserAgent, &p.BrowserName, &p.BrowserVersion, &created, &seen, &p.Revoked); err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(created)
	p.LastSeenAt = fromMillis(seen)
	return &p, nil
}

// CreatePairing stores a new pairing.
func (db *DB) CreatePairing(p *Pairing) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := db.Exec(`INSERT INTO pairings (id, token, name, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Token, p.Name, millis(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("create pairing: %w", err)
	}
	return nil
}

// PairingByToken returns the active pairing with token.
func (db *DB) PairingByToken(token string) (*Pairing, error) {
	p, err := scanPairing(db.QueryRow(`SELECT `+pairingColumns+` FROM pairings WHERE token = ? AND revoked = 0`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return p, err
}

// Pairing returns a pairing by id, revoked or not.
func (db *DB) Pairing(id string) (*Pairing, error) {
	p, err := scanPairing(db.QueryRow(`SELECT `+pairingColumns+` FROM pairings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return p, err
}

// ListPairings returns every pairing, newest first.
func (db *DB) ListPairings() ([]Pairing, error) {
	rows, err := db.Query(`SELECT ` + pairingColumns + ` FROM pairings ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Pairing
	for rows.Next() {
		p, err := scanPairing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdatePairingClient records the browser a pairing connected with.
func (db *DB) UpdatePairingClient(id, userAgent, browserName, browserVersion string) error {
	_, err := db.Exec(`UPDATE pairings SET user_agent = ?, browser_name = ?, browser_version = ?, last_seen_at = ? WHERE id = ?`,
		userAgent, browserName, browserVersion, time.Now().UnixMilli(), id)
	return err
}

// TouchPairing updates the last seen time.
func (db *DB) TouchPairing(id string) error {
	_, err := db.Exec(`UPDATE pairings SET last_seen_at = ? WHERE id = ?`, time.Now().UnixMilli(), id)
	return err
}

// RevokePairing disables a pairing. Its token stops authenticating.
func (db *DB) RevokePairing(id string) error {
	res, err := db.Exec(`UPDATE pairings SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

package store

import (
	"fmt"
	"time"
)

// Outbox statuses.
const (
	OutboxQueued  = "queued"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// OutboxEntry is one item of outgoing traffic waiting for the upstream.
type OutboxEntry struct {
	ID           int64
	ClientID     string
	Kind         string
	Target       string
	Payload      []byte
	Status       string
	Attempts     int
	ErrorMessage string
	CreatedAt    time.Time
}

// QueueOutbox adds an entry to the send outbox.
func (db *DB) QueueOutbox(e *OutboxEntry) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO outbox (client_id, kind, target, payload, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', ?, ?)`,
		e.ClientID, e.Kind, e.Target, e.Payload, now, now)
	if err != nil {
		return fmt.Errorf("queue outbox: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	e.Status = OutboxQueued
	e.CreatedAt = time.UnixMilli(now)
	return nil
}

// MarkOutboxSending moves an entry to 'sending' and counts the attempt.
func (db *DB) MarkOutboxSending(clientID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sending', attempts = attempts + 1, updated_at = ? WHERE client_id = ?`, now, clientID)
	return err
}

// MarkOutboxSent marks an entry as delivered upstream.
func (db *DB) MarkOutboxSent(clientID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', error_message = '', updated_at = ? WHERE client_id = ?`, now, clientID)
	return err
}

// MarkOutboxFailed marks an entry as failed with an error message.
func (db *DB) MarkOutboxFailed(clientID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_id = ?`, errMsg, now, clientID)
	return err
}

// RequeueSending puts entries left in 'sending' by a previous run back in the queue.
func (db *DB) RequeueSending() (int64, error) {
	res, err := db.Exec(`UPDATE outbox SET status = 'queued', updated_at = ? WHERE status = 'sending'`, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PendingOutbox returns up to limit queued entries, oldest first.
func (db *DB) PendingOutbox(limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, client_id, kind, target, payload, status, attempts, error_message, created_at
		FROM outbox WHERE status = 'queued' ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var (
			e       OutboxEntry
			created int64
		)
		if err := rows.Scan(&e.ID, &e.ClientID, &e.Kind, &e.Target, &e.Payload, &e.Status, &e.Attempts, &e.ErrorMessage, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMillis(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// OutboxCounts returns the number of entries per status.
func (db *DB) OutboxCounts() (map[string]int, error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

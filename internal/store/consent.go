package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/palaver-chat/palaver/internal/bus"
)

// SetPeerStatuses merges peer consent statuses by address. An empty input is
// a no-op: an empty consent fetch after a transient failure must not wipe
// known state. Addresses absent from the input are untouched (field-level
// patch, not full replace).
func (db *DB) SetPeerStatuses(statuses map[string]string) error {
	if len(statuses) == 0 {
		return nil
	}
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for addr, status := range statuses {
		if _, err := tx.Exec(`
			INSERT INTO peer_status (peer_address, status, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(peer_address) DO UPDATE SET
				status = excluded.status,
				updated_at = excluded.updated_at`,
			addr, status, now); err != nil {
			return fmt.Errorf("upsert peer status %s: %w", addr, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	db.publish(bus.Event{Kind: "consent.updated", Timestamp: time.Now(), Payload: len(statuses)})
	return nil
}

// PeerStatus returns a peer's consent status, or empty string if unknown.
func (db *DB) PeerStatus(peerAddress string) (string, error) {
	var status string
	err := db.Get(&status, `SELECT status FROM peer_status WHERE peer_address = ?`, peerAddress)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return status, err
}

// ListPeerStatuses returns all known peer consent statuses.
func (db *DB) ListPeerStatuses() (map[string]string, error) {
	rows, err := db.Queryx(`SELECT peer_address, status FROM peer_status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	statuses := make(map[string]string)
	for rows.Next() {
		var addr, status string
		if err := rows.Scan(&addr, &status); err != nil {
			return nil, err
		}
		statuses[addr] = status
	}
	return statuses, rows.Err()
}

package store

import (
	"fmt"
	"time"

	"github.com/palaver-chat/palaver/internal/bus"
)

// UpsertMessages merges messages by (topic, id). Re-ingesting an already
// known message only advances its delivery status; all other fields keep
// their first-seen values.
func (db *DB) UpsertMessages(msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (topic, id, sender_address, sent, content_type, status, content, content_fallback, referenced_message_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(topic, id) DO UPDATE SET
				status = excluded.status`,
			m.Topic, m.ID, m.SenderAddress, m.Sent, m.ContentType, m.Status, m.Content, m.ContentFallback, m.ReferencedMessageID, now); err != nil {
			return fmt.Errorf("upsert message %s/%s: %w", m.Topic, m.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	seen := make(map[string]bool)
	for _, m := range msgs {
		if !seen[m.Topic] {
			seen[m.Topic] = true
			db.publish(bus.Event{Kind: "message.upserted", Timestamp: time.Now(), Payload: m.Topic})
		}
	}
	return nil
}

// ListMessages returns a topic's messages ordered by sent time ascending.
func (db *DB) ListMessages(topic string) ([]Message, error) {
	var msgs []Message
	err := db.Select(&msgs, `
		SELECT topic, id, sender_address, sent, content_type, status, content, content_fallback, referenced_message_id
		FROM messages WHERE topic = ? ORDER BY sent ASC`, topic)
	return msgs, err
}

// MessageIDs returns a topic's message ids ordered by sent time ascending.
func (db *DB) MessageIDs(topic string) ([]string, error) {
	var ids []string
	err := db.Select(&ids, `SELECT id FROM messages WHERE topic = ? ORDER BY sent ASC`, topic)
	return ids, err
}

// CountMessages returns the number of messages attached to a topic.
func (db *DB) CountMessages(topic string) (int, error) {
	var n int
	err := db.Get(&n, `SELECT COUNT(*) FROM messages WHERE topic = ?`, topic)
	return n, err
}

// ReassignMessages moves all messages from one topic to another. Ids already
// present under the target topic are left in place; leftovers under the old
// topic are removed when its conversation row is deleted (cascade).
func (db *DB) ReassignMessages(fromTopic, toTopic string) error {
	if _, err := db.Exec(`UPDATE OR IGNORE messages SET topic = ? WHERE topic = ?`, toTopic, fromTopic); err != nil {
		return fmt.Errorf("reassign messages: %w", err)
	}
	db.publish(bus.Event{Kind: "message.upserted", Timestamp: time.Now(), Payload: toTopic})
	return nil
}

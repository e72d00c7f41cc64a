package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/palaver-chat/palaver/internal/bus"
)

// UpsertConversations merges conversations by topic. The merge discipline is
// field-level: protocol-owned fields (peer address, creation time, invite
// context, pending flag, version) are overwritten by the incoming record,
// while local-only fields (read_until) are preserved on conflict.
func (db *DB) UpsertConversations(convos []*Conversation) error {
	if len(convos) == 0 {
		return nil
	}
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range convos {
		if _, err := tx.Exec(`
			INSERT INTO conversations (topic, peer_address, created_at, context_conversation_id, pending, read_until, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(topic) DO UPDATE SET
				peer_address = excluded.peer_address,
				created_at = excluded.created_at,
				context_conversation_id = excluded.context_conversation_id,
				pending = excluded.pending,
				version = excluded.version,
				updated_at = excluded.updated_at`,
			c.Topic, c.PeerAddress, c.CreatedAt, c.ContextConversationID, c.Pending, c.ReadUntil, c.Version, now); err != nil {
			return fmt.Errorf("upsert conversation %s: %w", c.Topic, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	for _, c := range convos {
		db.publish(bus.Event{Kind: "conversation.upserted", Timestamp: time.Now(), Payload: c.Topic})
	}
	return nil
}

// DeleteConversations removes conversations by topic. Message deletion
// cascades through the schema's foreign key.
func (db *DB) DeleteConversations(topics []string) error {
	if len(topics) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM conversations WHERE topic IN (?)`, topics)
	if err != nil {
		return fmt.Errorf("expand topics: %w", err)
	}
	if _, err := db.Exec(query, args...); err != nil {
		return fmt.Errorf("delete conversations: %w", err)
	}
	for _, t := range topics {
		db.publish(bus.Event{Kind: "conversation.deleted", Timestamp: time.Now(), Payload: t})
	}
	return nil
}

// GetConversation returns a conversation by topic, or nil if absent.
func (db *DB) GetConversation(topic string) (*Conversation, error) {
	var c Conversation
	err := db.Get(&c, `
		SELECT topic, peer_address, created_at, context_conversation_id, pending, read_until, version
		FROM conversations WHERE topic = ?`, topic)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns all conversations ordered by creation time.
func (db *DB) ListConversations() ([]Conversation, error) {
	var convos []Conversation
	err := db.Select(&convos, `
		SELECT topic, peer_address, created_at, context_conversation_id, pending, read_until, version
		FROM conversations ORDER BY created_at ASC`)
	return convos, err
}

// Topics returns all known conversation topics.
func (db *DB) Topics() ([]string, error) {
	var topics []string
	err := db.Select(&topics, `SELECT topic FROM conversations`)
	return topics, err
}

// PendingConversationWithPeer looks up a pending conversation by peer address
// and invite context id. An empty conversationID matches conversations
// created without an invite context.
func (db *DB) PendingConversationWithPeer(peerAddress, conversationID string) (*Conversation, error) {
	var c Conversation
	err := db.Get(&c, `
		SELECT topic, peer_address, created_at, context_conversation_id, pending, read_until, version
		FROM conversations
		WHERE peer_address = ? AND pending = 1 AND context_conversation_id = ?`,
		peerAddress, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// PendingConversationsWithMessages returns pending conversations that have at
// least one message attached. These are the candidates for network creation.
func (db *DB) PendingConversationsWithMessages() ([]Conversation, error) {
	var convos []Conversation
	err := db.Select(&convos, `
		SELECT c.topic, c.peer_address, c.created_at, c.context_conversation_id, c.pending, c.read_until, c.version
		FROM conversations c
		WHERE c.pending = 1
		  AND EXISTS (SELECT 1 FROM messages m WHERE m.topic = c.topic)`)
	return convos, err
}

// PendingConversationsWithoutMessages returns pending conversations with zero
// messages, eligible for garbage collection.
func (db *DB) PendingConversationsWithoutMessages() ([]Conversation, error) {
	var convos []Conversation
	err := db.Select(&convos, `
		SELECT c.topic, c.peer_address, c.created_at, c.context_conversation_id, c.pending, c.read_until, c.version
		FROM conversations c
		WHERE c.pending = 1
		  AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.topic = c.topic)`)
	return convos, err
}

// SetReadUntil advances the durable read watermark for a topic.
func (db *DB) SetReadUntil(topic string, ts int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET read_until = ?, updated_at = ? WHERE topic = ?`, ts, now, topic)
	if err != nil {
		return err
	}
	db.publish(bus.Event{Kind: "conversation.read_until", Timestamp: time.Now(), Payload: topic})
	return nil
}

package store

// Message delivery statuses. The taxonomy is deliberately minimal: a message
// is either confirmed by the network, locally queued, or failed.
const (
	StatusDelivered = "delivered"
	StatusPending   = "pending"
	StatusFailed    = "failed"
)

// Peer consent statuses derived from the network allow/deny list.
const (
	PeerConsented = "consented"
	PeerBlocked   = "blocked"
)

// Conversation is one row of the conversations table. A pending conversation
// was created locally and has not yet been confirmed by the network; its
// topic is a locally generated placeholder until then.
type Conversation struct {
	Topic                 string `db:"topic"`
	PeerAddress           string `db:"peer_address"`
	CreatedAt             int64  `db:"created_at"`
	ContextConversationID string `db:"context_conversation_id"`
	Pending               bool   `db:"pending"`
	ReadUntil             int64  `db:"read_until"`
	Version               string `db:"version"`
}

// Message is one row of the messages table, owned by its conversation.
type Message struct {
	Topic               string `db:"topic"`
	ID                  string `db:"id"`
	SenderAddress       string `db:"sender_address"`
	Sent                int64  `db:"sent"`
	ContentType         string `db:"content_type"`
	Status              string `db:"status"`
	Content             string `db:"content"`
	ContentFallback     string `db:"content_fallback"`
	ReferencedMessageID string `db:"referenced_message_id"`
}

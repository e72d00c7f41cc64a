package bus

import "time"

// Event is a single bus message. Kind is a dot-separated name whose prefix
// acts as a namespace, e.g. "conversation.upserted", "message.upserted",
// "conversation.topic_changed", "consent.updated", "join.navigate".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// TopicChange is the payload of "conversation.topic_changed", published when
// a pending conversation is upgraded to its network-confirmed topic.
type TopicChange struct {
	Account  string
	OldTopic string
	NewTopic string
}

// Navigation is the payload of "join.navigate", published when a join flow
// reaches its accepted terminal state.
type Navigation struct {
	Account string
	Topic   string
}

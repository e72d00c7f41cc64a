package sync

import (
	"encoding/json"
	"fmt"

	"github.com/palaver-chat/palaver/internal/protocol"
	"github.com/palaver-chat/palaver/internal/store"
)

// reactionContent is the decoded payload of a reaction message. Reference is
// the id of the message being reacted to.
type reactionContent struct {
	Reference string `json:"reference"`
	Action    string `json:"action"`
	Content   string `json:"content"`
}

func recognizedContentType(ct protocol.ContentType) bool {
	switch ct {
	case protocol.ContentTypeText,
		protocol.ContentTypeReaction,
		protocol.ContentTypeAttachment,
		protocol.ContentTypeRemoteAttachment,
		protocol.ContentTypeTransactionRef:
		return true
	}
	return false
}

// messageRecordToStore converts a network message into its store form.
// Reactions carry the referenced message id extracted from their payload; an
// unrecognized content type keeps only the protocol-provided fallback text.
// A decode failure is returned so callers can skip the item without aborting
// the surrounding batch.
func messageRecordToStore(rec protocol.MessageRecord) (*store.Message, error) {
	msg := &store.Message{
		Topic:         rec.Topic,
		ID:            rec.ID,
		SenderAddress: rec.SenderAddress,
		Sent:          rec.Sent,
		ContentType:   string(rec.ContentType),
		Status:        store.StatusDelivered,
	}

	if !recognizedContentType(rec.ContentType) {
		msg.ContentFallback = rec.Fallback
		return msg, nil
	}

	msg.Content = rec.Content
	if rec.ContentType == protocol.ContentTypeReaction {
		var reaction reactionContent
		if err := json.Unmarshal([]byte(rec.Content), &reaction); err != nil {
			return nil, fmt.Errorf("decode reaction %s: %w", rec.ID, err)
		}
		msg.ReferencedMessageID = reaction.Reference
	}
	return msg, nil
}

func conversationRecordToStore(rec protocol.ConversationRecord, pending bool) *store.Conversation {
	conv := &store.Conversation{
		Topic:       rec.Topic,
		PeerAddress: rec.PeerAddress,
		CreatedAt:   rec.CreatedAt,
		Pending:     pending,
		Version:     rec.Version,
	}
	if rec.Context != nil {
		conv.ContextConversationID = rec.Context.ConversationID
	}
	return conv
}

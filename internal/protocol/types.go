package protocol

// ContentType identifies the codec used for a message payload.
type ContentType string

const (
	ContentTypeText             ContentType = "text"
	ContentTypeReaction         ContentType = "reaction"
	ContentTypeAttachment       ContentType = "attachment"
	ContentTypeRemoteAttachment ContentType = "remoteAttachment"
	ContentTypeTransactionRef   ContentType = "transactionReference"
)

// InviteContext carries the optional structured metadata attached to a
// conversation invitation.
type InviteContext struct {
	ConversationID string
	Metadata       map[string]string
}

// ConversationRecord is a conversation as reported by the network.
type ConversationRecord struct {
	Topic       string
	PeerAddress string
	CreatedAt   int64 // epoch ms
	Context     *InviteContext
	Version     string
}

// MessageRecord is a decoded message as reported by the network.
type MessageRecord struct {
	ID            string
	Topic         string
	SenderAddress string
	Sent          int64 // epoch ms
	ContentType   ContentType
	Content       string
	Fallback      string
}

// BatchQuery describes one topic's slice of a batched message fetch.
type BatchQuery struct {
	Topic     string
	StartTime int64
	PageSize  int
	Ascending bool
}

// GroupRecord is a group the account belongs to.
type GroupRecord struct {
	ID       string
	Topic    string
	Name     string
	IsActive bool
}

// GroupsByAccount is the normalized result of a group listing: the id order
// as returned by the network plus a lookup map.
type GroupsByAccount struct {
	IDs  []string
	ByID map[string]GroupRecord
}

// InviteMetadata describes a group invite. GroupID is empty when the invite
// does not carry a direct group reference.
type InviteMetadata struct {
	ID          string
	GroupID     string
	GroupName   string
	ImageURL    string
	Description string
}

// JoinResultType tags the outcome of a join attempt.
type JoinResultType string

const (
	JoinAccepted      JoinResultType = "accepted"
	JoinAlreadyJoined JoinResultType = "already-joined"
	JoinRejected      JoinResultType = "rejected"
	JoinErrored       JoinResultType = "error"
	JoinTimedOut      JoinResultType = "timed-out"
)

// JoinResult is the resolution of a join attempt.
type JoinResult struct {
	Type JoinResultType
}

// ConsentEntry is one row of the network allow/deny list.
type ConsentEntry struct {
	EntryType      string // "address" entries are the only ones consumed here
	Value          string
	PermissionType string // "allowed" | "denied"
}

// AllowGroupOptions controls how far a group consent grant extends.
type AllowGroupOptions struct {
	IncludeCreator bool
	IncludeAddedBy bool
}

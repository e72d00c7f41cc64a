package protocol

import "context"

// Subscription is a long-lived stream of new-conversation events. Records
// arrive on C until the subscription ends; Cancel releases the underlying
// network resource and closes C.
type Subscription interface {
	C() <-chan ConversationRecord
	Cancel()
}

// ConversationClient is the network surface for conversation listing,
// streaming, batched message retrieval and conversation creation. All
// protocol encoding and encryption happens behind this interface.
type ConversationClient interface {
	ListConversations(ctx context.Context, account string) ([]ConversationRecord, error)
	StreamNewConversations(ctx context.Context, account string) (Subscription, error)
	FetchMessageBatches(ctx context.Context, account string, queries []BatchQuery) ([]MessageRecord, error)
	CreateConversation(ctx context.Context, account, peerAddress string, invCtx *InviteContext) (ConversationRecord, error)
	ListGroupsByAccount(ctx context.Context, account string) (GroupsByAccount, error)
}

// ConsentClient reads and writes the account's allow/deny list.
type ConsentClient interface {
	RefreshConsentList(ctx context.Context, account string) ([]ConsentEntry, error)
	SetConsent(ctx context.Context, account string, peerAddresses []string, allow bool) error
}

// JoinClient is the surface consumed by the group-join coordinator.
type JoinClient interface {
	FetchGroupInvite(ctx context.Context, inviteID string) (InviteMetadata, error)
	AttemptToJoinGroup(ctx context.Context, account, inviteID string) (JoinResult, error)
	AllowGroup(ctx context.Context, account string, group GroupRecord, opts AllowGroupOptions) error
	RefreshGroup(ctx context.Context, account, topic string) error
}

package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/palaver-chat/palaver/internal/bus"
	"github.com/palaver-chat/palaver/internal/config"
	"github.com/palaver-chat/palaver/internal/protocol"
	"github.com/palaver-chat/palaver/internal/store"
	"go.uber.org/zap"
)

// ErrLoadConversations tags a conversation listing failure. The underlying
// transport error is wrapped alongside it; retry policy belongs to the caller.
var ErrLoadConversations = errors.New("load conversations failed")

// ErrConversationExists is returned when a pending conversation with the same
// peer and invite context already exists locally.
var ErrConversationExists = errors.New("conversation already exists")

// ErrNotPending is returned when network creation is requested for a
// conversation that is not pending.
var ErrNotPending = errors.New("can only create a conversation that is pending")

// ConsentRefresher is the slice of the consent reconciler the engine needs
// when a new conversation shows up.
type ConsentRefresher interface {
	UpdateConsentStatus(ctx context.Context)
}

// LoadResult partitions a network conversation listing into topics the caller
// already knew about and ones it did not.
type LoadResult struct {
	New   []protocol.ConversationRecord
	Known []protocol.ConversationRecord
}

// Engine drives conversation and message synchronization for one account:
// batch catch-up, live streaming, and pending-conversation reconciliation.
type Engine struct {
	db      *store.DB
	client  protocol.ConversationClient
	consent ConsentRefresher
	bus     *bus.Bus
	cfg     *config.Config
	logger  *zap.Logger

	mu           sync.Mutex
	streamSub    protocol.Subscription
	streamCancel context.CancelFunc
	streamDone   chan struct{}
}

// NewEngine creates a sync engine bound to one account's store. consent may
// be nil when no reconciler is wired.
func NewEngine(db *store.DB, client protocol.ConversationClient, consent ConsentRefresher, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *Engine {
	return &Engine{
		db:      db,
		client:  client,
		consent: consent,
		bus:     b,
		cfg:     cfg,
		logger:  logger,
	}
}

// LoadConversations lists the account's conversations from the network,
// partitions them against knownTopics, and persists all of them as confirmed.
// The stores are untouched when the listing fails.
func (e *Engine) LoadConversations(ctx context.Context, knownTopics []string) (*LoadResult, error) {
	records, err := e.client.ListConversations(ctx, e.db.Account())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConversations, err)
	}

	known := make(map[string]bool, len(knownTopics))
	for _, t := range knownTopics {
		known[t] = true
	}

	result := &LoadResult{}
	convos := make([]*store.Conversation, 0, len(records))
	for _, rec := range records {
		if known[rec.Topic] {
			result.Known = append(result.Known, rec)
		} else {
			result.New = append(result.New, rec)
		}
		convos = append(convos, conversationRecordToStore(rec, false))
	}
	if err := e.db.UpsertConversations(convos); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConversations, err)
	}

	e.logger.Info("listed conversations",
		zap.String("account", e.db.Account()),
		zap.Int("new", len(result.New)),
		zap.Int("known", len(result.Known)))
	return result, nil
}

// StreamConversations opens the long-lived new-conversation subscription for
// the account. Any previous subscription is cancelled first; there is at most
// one active stream per engine.
func (e *Engine) StreamConversations(ctx context.Context) error {
	e.StopStreamingConversations()

	sub, err := e.client.StreamNewConversations(ctx, e.db.Account())
	if err != nil {
		return fmt.Errorf("stream conversations: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	e.mu.Lock()
	e.streamSub = sub
	e.streamCancel = cancel
	e.streamDone = done
	e.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case rec, ok := <-sub.C():
				if !ok {
					return
				}
				e.handleNewConversation(streamCtx, rec)
			case <-streamCtx.Done():
				return
			}
		}
	}()
	return nil
}

// StopStreamingConversations cancels the active subscription, if any, and
// releases its resource before returning.
func (e *Engine) StopStreamingConversations() {
	e.mu.Lock()
	sub := e.streamSub
	cancel := e.streamCancel
	done := e.streamDone
	e.streamSub = nil
	e.streamCancel = nil
	e.streamDone = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Cancel()
	}
	if done != nil {
		<-done
	}
}

// handleNewConversation is the shared merge path for conversations arriving
// from the stream or from a successful pending-conversation creation. New
// conversations are not always immediately visible to message backfill, so a
// redundant re-sync runs after a configured delay on top of the immediate one.
func (e *Engine) handleNewConversation(ctx context.Context, rec protocol.ConversationRecord) {
	upgraded, err := e.UpgradePendingConversationIfNeeded(rec)
	if err != nil {
		e.logger.Error("failed to upgrade pending conversation", zap.Error(err), zap.String("topic", rec.Topic))
	}
	if !upgraded {
		if err := e.db.UpsertConversations([]*store.Conversation{conversationRecordToStore(rec, false)}); err != nil {
			e.logger.Error("failed to persist conversation", zap.Error(err), zap.String("topic", rec.Topic))
			return
		}
	}

	if _, err := e.SyncConversationsMessages(ctx, map[string]int64{rec.Topic: 0}); err != nil {
		e.logger.Warn("initial message sync failed", zap.Error(err), zap.String("topic", rec.Topic))
	}

	delay := time.Duration(e.cfg.StreamResyncDelayMs) * time.Millisecond
	go func() {
		select {
		case <-time.After(delay):
			if _, err := e.SyncConversationsMessages(ctx, map[string]int64{rec.Topic: 0}); err != nil {
				e.logger.Warn("redundant message sync failed", zap.Error(err), zap.String("topic", rec.Topic))
			}
		case <-ctx.Done():
		}
	}()

	if e.consent != nil {
		e.consent.UpdateConsentStatus(ctx)
	}
}

// SyncConversationsMessages batch-fetches messages for each topic starting at
// its given timestamp, advancing a per-topic cursor until the backlog is
// drained. A topic is retired once a round returns at most one message for it
// (the server filters undecodable messages, so an exact page-size comparison
// could end a topic too early). Returns the total number of messages fetched.
func (e *Engine) SyncConversationsMessages(ctx context.Context, fromTimestamps map[string]int64) (int, error) {
	cursors := make(map[string]int64, len(fromTimestamps))
	for topic, ts := range fromTimestamps {
		cursors[topic] = ts
	}

	total := 0
	for len(cursors) > 0 {
		topics := make([]string, 0, len(cursors))
		for topic := range cursors {
			topics = append(topics, topic)
		}
		sort.Strings(topics)

		queries := make([]protocol.BatchQuery, 0, len(topics))
		for _, topic := range topics {
			queries = append(queries, protocol.BatchQuery{
				Topic:     topic,
				StartTime: cursors[topic],
				PageSize:  e.cfg.BatchPageSize,
				Ascending: true,
			})
		}

		batch, err := e.client.FetchMessageBatches(ctx, e.db.Account(), queries)
		if err != nil {
			return total, fmt.Errorf("fetch message batches: %w", err)
		}

		previous := make(map[string]int64, len(cursors))
		for topic, ts := range cursors {
			previous[topic] = ts
		}

		countByTopic := make(map[string]int)
		for _, m := range batch {
			countByTopic[m.Topic]++
			if m.Sent > cursors[m.Topic] {
				cursors[m.Topic] = m.Sent
			}
		}

		// One message or none means the backlog for that topic is drained.
		for _, topic := range topics {
			if countByTopic[topic] <= 1 {
				delete(cursors, topic)
			}
		}

		// A cursor that did not move would repeat the same query forever.
		for topic, ts := range cursors {
			if ts == previous[topic] {
				e.logger.Debug("forcing cursor forward to avoid a sync loop", zap.String("topic", topic))
				cursors[topic] = ts + 1
			}
		}

		sort.SliceStable(batch, func(i, j int) bool { return batch[i].Sent < batch[j].Sent })
		msgs := make([]*store.Message, 0, len(batch))
		for _, rec := range batch {
			msg, err := messageRecordToStore(rec)
			if err != nil {
				e.logger.Warn("skipping undecodable message", zap.Error(err), zap.String("topic", rec.Topic))
				continue
			}
			msgs = append(msgs, msg)
		}
		if err := e.db.UpsertMessages(msgs); err != nil {
			return total, fmt.Errorf("persist messages: %w", err)
		}
		total += len(batch)
	}

	if total > 0 {
		e.logger.Info("fetched messages from network", zap.String("account", e.db.Account()), zap.Int("count", total))
	}
	return total, nil
}

// CreatePendingConversation creates a local pending conversation with the
// given peer and optional invite context. It fails before any persistence if
// an equivalent pending conversation already exists.
func (e *Engine) CreatePendingConversation(peerAddress string, invCtx *protocol.InviteContext) (string, error) {
	cleanAddress := normalizeAddress(peerAddress)
	conversationID := ""
	if invCtx != nil {
		conversationID = invCtx.ConversationID
	}

	existing, err := e.db.PendingConversationWithPeer(cleanAddress, conversationID)
	if err != nil {
		return "", fmt.Errorf("lookup pending conversation: %w", err)
	}
	if existing != nil {
		return "", fmt.Errorf("%w: peer %s id %q", ErrConversationExists, cleanAddress, conversationID)
	}

	topic := uuid.NewString()
	err = e.db.UpsertConversations([]*store.Conversation{{
		Topic:                 topic,
		PeerAddress:           cleanAddress,
		CreatedAt:             time.Now().UnixMilli(),
		ContextConversationID: conversationID,
		Pending:               true,
	}})
	if err != nil {
		return "", fmt.Errorf("persist pending conversation: %w", err)
	}
	return topic, nil
}

// CreatePendingConversations issues a network create for every pending
// conversation that has at least one message attached. Creations run
// concurrently and independently; a failure in one does not block the others.
// Returns the number of conversations confirmed by the network.
func (e *Engine) CreatePendingConversations(ctx context.Context) int {
	pending, err := e.db.PendingConversationsWithMessages()
	if err != nil {
		e.logger.Error("failed to list pending conversations", zap.Error(err))
		return 0
	}
	if len(pending) == 0 {
		return 0
	}
	e.logger.Info("creating pending conversations", zap.Int("count", len(pending)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for _, conv := range pending {
		wg.Add(1)
		go func(conv store.Conversation) {
			defer wg.Done()
			if err := e.createConversation(ctx, conv); err != nil {
				e.logger.Error("failed to create pending conversation",
					zap.Error(err), zap.String("topic", conv.Topic), zap.String("peer", conv.PeerAddress))
				return
			}
			mu.Lock()
			created++
			mu.Unlock()
		}(conv)
	}
	wg.Wait()
	return created
}

func (e *Engine) createConversation(ctx context.Context, conv store.Conversation) error {
	if !conv.Pending {
		return ErrNotPending
	}
	var invCtx *protocol.InviteContext
	if conv.ContextConversationID != "" {
		invCtx = &protocol.InviteContext{ConversationID: conv.ContextConversationID}
	}
	rec, err := e.client.CreateConversation(ctx, e.db.Account(), conv.PeerAddress, invCtx)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	e.handleNewConversation(ctx, rec)
	return nil
}

// UpgradePendingConversationIfNeeded replaces a matching pending conversation
// with the network-confirmed one: the network record is persisted, messages
// move to the confirmed topic, the pending row is deleted, and observers are
// told about the rename. Returns true when an upgrade happened.
func (e *Engine) UpgradePendingConversationIfNeeded(rec protocol.ConversationRecord) (bool, error) {
	conversationID := ""
	if rec.Context != nil {
		conversationID = rec.Context.ConversationID
	}
	pending, err := e.db.PendingConversationWithPeer(rec.PeerAddress, conversationID)
	if err != nil {
		return false, fmt.Errorf("lookup pending conversation: %w", err)
	}
	if pending == nil || pending.Topic == rec.Topic {
		return false, nil
	}

	if err := e.db.UpsertConversations([]*store.Conversation{conversationRecordToStore(rec, false)}); err != nil {
		return false, fmt.Errorf("persist confirmed conversation: %w", err)
	}
	if err := e.db.ReassignMessages(pending.Topic, rec.Topic); err != nil {
		return false, err
	}
	if err := e.db.DeleteConversations([]string{pending.Topic}); err != nil {
		return false, err
	}

	e.bus.Publish(bus.Event{
		Kind:      "conversation.topic_changed",
		Timestamp: time.Now(),
		Payload: bus.TopicChange{
			Account:  e.db.Account(),
			OldTopic: pending.Topic,
			NewTopic: rec.Topic,
		},
	})
	e.logger.Info("upgraded pending conversation",
		zap.String("old_topic", pending.Topic), zap.String("new_topic", rec.Topic))
	return true, nil
}

// CleanupPendingConversations deletes every pending conversation that never
// accumulated a message: abandoned chat-start attempts.
func (e *Engine) CleanupPendingConversations() error {
	empty, err := e.db.PendingConversationsWithoutMessages()
	if err != nil {
		return fmt.Errorf("list empty pending conversations: %w", err)
	}
	if len(empty) == 0 {
		return nil
	}
	topics := make([]string, 0, len(empty))
	for _, c := range empty {
		topics = append(topics, c.Topic)
	}
	e.logger.Info("cleaning up pending conversations", zap.Int("count", len(topics)))
	return e.db.DeleteConversations(topics)
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

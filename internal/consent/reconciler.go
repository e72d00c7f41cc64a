// Package consent reconciles the network allow/deny list with the local
// per-peer status records.
package consent

import (
	"context"
	"errors"
	"strings"

	"github.com/palaver-chat/palaver/internal/protocol"
	"github.com/palaver-chat/palaver/internal/store"
	"go.uber.org/zap"
)

// ErrInvalidConsent is returned for consent values outside {allow, deny}.
var ErrInvalidConsent = errors.New("invalid consent type")

// Consent values accepted by ConsentToPeersOnProtocol.
const (
	Allow = "allow"
	Deny  = "deny"
)

// Reconciler keeps local peer consent statuses in sync with the network.
type Reconciler struct {
	db     *store.DB
	client protocol.ConsentClient
	logger *zap.Logger
}

// NewReconciler creates a reconciler bound to one account's store.
func NewReconciler(db *store.DB, client protocol.ConsentClient, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, client: client, logger: logger}
}

// UpdateConsentStatus fetches the full allow/deny list and merges it into the
// local peer statuses. Only non-empty results are applied: an empty list from
// a transient failure must not wipe known consent. Failure is non-fatal;
// consent simply stays stale until the next refresh.
func (r *Reconciler) UpdateConsentStatus(ctx context.Context) {
	entries, err := r.client.RefreshConsentList(ctx, r.db.Account())
	if err != nil {
		r.logger.Error("failed to refresh consent list", zap.Error(err), zap.String("account", r.db.Account()))
		return
	}

	statuses := make(map[string]string)
	for _, entry := range entries {
		if entry.EntryType != "address" {
			continue
		}
		switch entry.PermissionType {
		case "allowed":
			statuses[entry.Value] = store.PeerConsented
		case "denied":
			statuses[entry.Value] = store.PeerBlocked
		}
	}

	if err := r.db.SetPeerStatuses(statuses); err != nil {
		r.logger.Error("failed to save consent state", zap.Error(err))
	}
}

// ConsentToPeersOnProtocol issues an allow or deny call for the given peers.
// The consent value is validated before any network call. Network failures
// are logged and swallowed; the effect is reconciled later by
// UpdateConsentStatus.
func (r *Reconciler) ConsentToPeersOnProtocol(ctx context.Context, peers []string, consent string) error {
	if consent != Allow && consent != Deny {
		return ErrInvalidConsent
	}

	cleanPeers := make([]string, 0, len(peers))
	for _, peer := range peers {
		cleanPeers = append(cleanPeers, strings.ToLower(strings.TrimSpace(peer)))
	}

	if err := r.client.SetConsent(ctx, r.db.Account(), cleanPeers, consent == Allow); err != nil {
		r.logger.Error("failed to update consent on protocol", zap.Error(err), zap.String("consent", consent))
	}
	return nil
}

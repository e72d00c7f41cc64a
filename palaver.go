// Package palaver is a client-side synchronization and state-machine layer
// for a decentralized encrypted-messaging protocol. The host application
// supplies the protocol clients; this package owns local persistence, the
// per-account sync engines, the consent reconciler and the group-join flow.
package palaver

import (
	"context"
	"fmt"
	"sync"

	"github.com/palaver-chat/palaver/internal/bus"
	"github.com/palaver-chat/palaver/internal/config"
	"github.com/palaver-chat/palaver/internal/consent"
	"github.com/palaver-chat/palaver/internal/joinflow"
	"github.com/palaver-chat/palaver/internal/logging"
	"github.com/palaver-chat/palaver/internal/protocol"
	"github.com/palaver-chat/palaver/internal/store"
	intsync "github.com/palaver-chat/palaver/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Clients are the protocol collaborators the host application provides.
type Clients struct {
	Conversations protocol.ConversationClient
	Consent       protocol.ConsentClient
	Join          protocol.JoinClient
}

// Account bundles the per-account components: the sync engine, the consent
// reconciler and the pending-conversation worker.
type Account struct {
	Engine     *intsync.Engine
	Reconciler *consent.Reconciler
	worker     *intsync.Worker
}

// Service is the application root. It owns the store registry and hands out
// per-account component bundles.
type Service struct {
	app      *fx.App
	cfg      *config.Config
	clients  Clients
	bus      *bus.Bus
	logger   *zap.Logger
	registry *store.Registry

	mu       sync.Mutex
	accounts map[string]*Account
}

// New composes a service from the given configuration and protocol clients.
func New(cfg *config.Config, clients Clients) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		clients:  clients,
		accounts: make(map[string]*Account),
	}

	s.app = fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			bus.New,
			provideRegistry,
		),
		fx.Populate(&s.logger, &s.bus, &s.registry),
		fx.Invoke(registerLifecycle(s)),
	)
	if err := s.app.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath(), cfg.Debug)
}

func provideRegistry(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *store.Registry {
	return store.NewRegistry(cfg.AccountsDir(), b, logger)
}

func registerLifecycle(s *Service) func(fx.Lifecycle, *store.Registry, *zap.Logger) {
	return func(lc fx.Lifecycle, registry *store.Registry, logger *zap.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(_ context.Context) error {
				logger.Info("service started", zap.String("data_dir", s.cfg.DataDir))
				return nil
			},
			OnStop: func(_ context.Context) error {
				s.stopAccounts()
				if err := registry.Close(); err != nil {
					logger.Warn("error closing stores", zap.Error(err))
				}
				logger.Info("service stopped")
				return nil
			},
		})
	}
}

// Start runs the fx lifecycle.
func (s *Service) Start(ctx context.Context) error {
	return s.app.Start(ctx)
}

// Stop stops all account streams and workers and closes the stores.
func (s *Service) Stop(ctx context.Context) error {
	return s.app.Stop(ctx)
}

// Bus exposes the event bus so UI observers can subscribe to mutations.
func (s *Service) Bus() *bus.Bus {
	return s.bus
}

// Account returns the component bundle for one account, building it on first
// use. The account's store is opened and migrated as a side effect.
func (s *Service) Account(account string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.accounts[account]; ok {
		return a, nil
	}

	db, err := s.registry.Get(account)
	if err != nil {
		return nil, fmt.Errorf("open account %s: %w", account, err)
	}

	reconciler := consent.NewReconciler(db, s.clients.Consent, s.logger)
	engine := intsync.NewEngine(db, s.clients.Conversations, reconciler, s.bus, s.cfg, s.logger)
	a := &Account{
		Engine:     engine,
		Reconciler: reconciler,
		worker:     intsync.NewWorker(engine, s.cfg, s.logger),
	}
	s.accounts[account] = a
	return a, nil
}

// StartAccount opens the account's conversation stream and starts its
// pending-conversation worker.
func (s *Service) StartAccount(ctx context.Context, account string) error {
	a, err := s.Account(account)
	if err != nil {
		return err
	}
	if err := a.Engine.StreamConversations(ctx); err != nil {
		return err
	}
	a.worker.Start(ctx)
	return nil
}

// StopAccount cancels the account's stream and worker.
func (s *Service) StopAccount(account string) {
	s.mu.Lock()
	a := s.accounts[account]
	s.mu.Unlock()
	if a == nil {
		return
	}
	a.worker.Stop()
	a.Engine.StopStreamingConversations()
}

func (s *Service) stopAccounts() {
	s.mu.Lock()
	accounts := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, a)
	}
	s.mu.Unlock()
	for _, a := range accounts {
		a.worker.Stop()
		a.Engine.StopStreamingConversations()
	}
}

// JoinGroup starts a join flow for the given invite and returns its
// coordinator. The flow runs until a terminal state; a successful join
// publishes a navigation event carrying the group's topic.
func (s *Service) JoinGroup(ctx context.Context, account, groupInviteID string) *joinflow.Coordinator {
	c := joinflow.NewCoordinator(account, groupInviteID, s.clients.Join, s.clients.Conversations, s.bus, s.logger)
	c.Start(ctx)
	return c
}

package store

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/palaver-chat/palaver/internal/bus"
	"github.com/palaver-chat/palaver/internal/lock"
	"go.uber.org/zap"
)

// Account identifiers become directory names, so they are restricted to a
// safe character set.
var accountRegexp = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,128}$`)

// Registry owns one store per active account. It replaces module-level
// account maps with an object held by the application root: components that
// need store access receive the registry (or a DB from it) explicitly.
type Registry struct {
	mu      sync.Mutex
	baseDir string
	bus     *bus.Bus
	logger  *zap.Logger
	dbs     map[string]*DB
	locks   map[string]*lock.Lock
}

// NewRegistry creates a registry rooted at baseDir (the accounts root).
func NewRegistry(baseDir string, b *bus.Bus, logger *zap.Logger) *Registry {
	return &Registry{
		baseDir: baseDir,
		bus:     b,
		logger:  logger,
		dbs:     make(map[string]*DB),
		locks:   make(map[string]*lock.Lock),
	}
}

// Get returns the account's store, opening and migrating it on first use.
// The account directory is locked for the registry's lifetime.
func (r *Registry) Get(account string) (*DB, error) {
	if !accountRegexp.MatchString(account) {
		return nil, fmt.Errorf("invalid account identifier %q", account)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if db, ok := r.dbs[account]; ok {
		return db, nil
	}

	dir := filepath.Join(r.baseDir, account)
	l, err := lock.Acquire(dir)
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", account, err)
	}

	db, err := Open(filepath.Join(dir, "chat.db"), account, r.bus)
	if err != nil {
		_ = l.Release()
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		_ = l.Release()
		return nil, err
	}
	if r.logger != nil {
		if result.Changed {
			r.logger.Info("migrations applied", zap.String("account", account), zap.Uint("version", result.Version))
		}
	}

	r.dbs[account] = db
	r.locks[account] = l
	return db, nil
}

// Close closes every open store and releases every account lock.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for account, db := range r.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := r.locks[account].Release(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.dbs, account)
		delete(r.locks, account)
	}
	return firstErr
}

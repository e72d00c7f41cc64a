package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/palaver-chat/palaver/internal/bus"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps one account's SQLite database. Writes publish events on the bus
// so UI observers see every mutation.
type DB struct {
	*sqlx.DB
	account string
	bus     *bus.Bus
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path, account string, b *bus.Bus) (*DB, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, account: account, bus: b}, nil
}

// Account returns the account this database belongs to.
func (db *DB) Account() string {
	return db.account
}

func (db *DB) publish(evt bus.Event) {
	if db.bus != nil {
		db.bus.Publish(evt)
	}
}

// Package store is the Store module (spec §4.2): a single-file SQLite
// database holding every persisted entity in §3, behind typed sub-stores.
// Schema is applied with golang-migrate from an embedded migrations
// directory, following tarsy's pkg/database embedding idiom but retargeted
// from Postgres/ent to SQLite, per the spec's "single file" store language.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/crypto"
)

//go:embed migrations
var migrationsFS embed.FS

// Store wraps the SQLite connection and exposes one typed sub-store per
// entity family named in spec §3.
type Store struct {
	db *sql.DB

	Agents      *AgentStore
	AgentTasks  *AgentTaskStore
	AlertRules  *AlertRuleStore
	Messages    *MessageStore
	Linear      *LinearStore
	Settings    *SettingsStore
}

// Open opens (creating if absent) the SQLite database at path, applies
// pending migrations, and wires the typed sub-stores. sealer encrypts and
// decrypts Message content so plaintext never reaches a SELECT/INSERT
// boundary unencrypted.
func Open(path string, sealer *crypto.Sealer) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open control plane database: %w", err)
	}
	// SQLite has a single writer; serialize all connections so WAL mode
	// doesn't paper over cross-connection busy errors under load.
	db.SetMaxOpenConns(1)

	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate control plane schema: %w", err)
	}

	s := &Store{db: db}
	s.Agents = &AgentStore{db: db}
	s.AgentTasks = &AgentTaskStore{db: db}
	s.AlertRules = &AlertRuleStore{db: db}
	s.Messages = &MessageStore{db: db, sealer: sealer}
	s.Linear = &LinearStore{db: db}
	s.Settings = &SettingsStore{db: db}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection, for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

func migrateSchema(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite3 migrate driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Don't call m.Close() — it closes driver and sourceDriver both; closing
	// driver would close the shared *sql.DB out from under the Store.
	return sourceDriver.Close()
}

// Tx is a transaction handle passed to WithTx callbacks.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a database transaction, committing on success and
// rolling back on error or panic. Used for the compound writes in §4.6
// that mutate both an AgentTask and its Agent atomically (assign,
// complete, detectBlocked).
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
			return
		}
		err = sqlTx.Commit()
	}()

	err = fn(&Tx{tx: sqlTx})
	return err
}

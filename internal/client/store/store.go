// Package store bootstraps the durable on-device database: an SQLite file
// with one table per collection, schema managed by embedded goose
// migrations, and a repository per collection hanging off a single Store
// object with an explicit open/close lifecycle.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/conflicts"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/entities"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/kv"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/operations"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/photos"
	"github.com/dmitrijs2005/fieldsync/internal/client/store/migrations"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// Store owns the SQLite handle and the per-collection repositories.
// Construct with New, then call Init before first use. Init is idempotent
// and safe to call from every entry point; a failed initialization latches
// and every subsequent call reports common.ErrStorageUnavailable.
type Store struct {
	dsn string
	log logging.Logger

	once    sync.Once
	db      *sql.DB
	initErr error

	Operations operations.Repository
	Photos     photos.Repository
	Entities   entities.Repository
	KV         kv.Repository
	Conflicts  conflicts.Repository
}

func New(dsn string, log logging.Logger) *Store {
	if log == nil {
		log = logging.Discard()
	}
	return &Store{dsn: dsn, log: log}
}

// Init opens the database and applies pending migrations on first call; a
// no-op on subsequent calls within the same process lifetime.
func (s *Store) Init(ctx context.Context) error {
	s.once.Do(func() {
		s.initErr = s.open(ctx)
		if s.initErr != nil {
			s.log.Error(ctx, "store initialization failed", "error", s.initErr)
		}
	})
	if s.initErr != nil {
		return fmt.Errorf("%w: %s", common.ErrStorageUnavailable, s.initErr)
	}
	return nil
}

func (s *Store) open(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Single-writer discipline: one connection keeps read-modify-write
	// accessors serialized at the database level.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	s.db = db
	s.Operations = operations.NewSQLiteRepository(db)
	s.Photos = photos.NewSQLiteRepository(db)
	s.Entities = entities.NewSQLiteRepository(db)
	s.KV = kv.NewSQLiteRepository(db)
	s.Conflicts = conflicts.NewSQLiteRepository(db)

	s.log.Info(ctx, "local store ready", "dsn", s.dsn)
	return nil
}

// RunMigrations applies the embedded goose migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// DB exposes the underlying handle for callers that need transactions.
// Returns nil before a successful Init.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

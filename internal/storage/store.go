// Package storage implements the embedded transactional store:
// schema migrations split by a real SQL parser, B-tree and
// full-text indices, an optional approximate-nearest-neighbor index over
// semantic embeddings, write-ahead logging, and a bounded connection pool
// for externally-triggered read-only queries.
//
// The engine is a single embedded SQLite file (modernc.org/sqlite, pure Go,
// no cgo) rather than a networked database server: everything runs on one
// machine, and a daemon that carries its own store as a single static
// binary is far easier to install and supervise. Store wraps one connection
// handle with hand-rolled scan helpers, no ORM; the approximate
// nearest-neighbor index is github.com/coder/hnsw's in-memory graph,
// persisted as a sidecar file and rebuilt from rows when missing.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	rqlitesql "github.com/rqlite/sql"
	_ "modernc.org/sqlite"

	"github.com/voicepane/voicepane/internal/errkind"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// schemaVersion is this binary's known schema version. Open refuses to
// operate against a database whose applied version exceeds this.
const schemaVersion = 1

// Config configures [Open].
type Config struct {
	// Path is the SQLite database file. Use "file::memory:?cache=shared"
	// for an in-process test database.
	Path string

	// MaxOpenConns bounds the pool.
	MaxOpenConns int

	// QueryTimeout bounds every externally-triggered read-only query.
	QueryTimeout time.Duration

	ANNEnabled    bool
	ANNDimensions int
}

// Store is the embedded database handle. All methods are safe for
// concurrent use.
type Store struct {
	db           *sql.DB
	queryTimeout time.Duration
	ann          *annIndex
}

// Open opens (creating if necessary) the SQLite database at cfg.Path,
// enables WAL mode for crash recovery and concurrent readers, applies any
// pending migrations, and — if cfg.ANNEnabled — rebuilds the in-memory HNSW
// index from transcript_segments.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("storage: Config.Path is required: %w", errkind.Internal)
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w: %w", errkind.StorageFailure, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: %s: %w: %w", pragma, errkind.StorageFailure, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, queryTimeout: cfg.QueryTimeout}

	if cfg.ANNEnabled {
		ann, err := newANNIndex(cfg.ANNDimensions, cfg.Path+".hnsw")
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: ann index: %w", err)
		}
		s.ann = ann
		if err := s.rebuildANN(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: rebuild ann index: %w", err)
		}
	}

	return s, nil
}

// Close releases the database handle and, if present, persists the ANN
// index sidecar file.
func (s *Store) Close() error {
	if s.ann != nil {
		if err := s.ann.persist(); err != nil {
			slog.Warn("storage: failed to persist ann sidecar", "err", err)
		}
	}
	return s.db.Close()
}

// readCtx derives a context bounded by the store's configured query timeout,
// for every externally-triggered read-only query.
func (s *Store) readCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

// migrate applies every migration file under migrations/ not yet recorded in
// the schema_version table, in filename order, each inside its own
// transaction. Statements are split with github.com/rqlite/sql's SQLite
// parser rather than by naively splitting on ";", so statements
// containing semicolons inside string literals or trigger bodies (see
// 0001_init.sql's FTS sync triggers) are never mis-split.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("storage: create schema_version: %w: %w", errkind.StorageFailure, err)
	}

	applied, err := appliedVersion(ctx, db)
	if err != nil {
		return err
	}
	if applied > schemaVersion {
		return fmt.Errorf("storage: database schema version %d is newer than this binary's %d: %w",
			applied, schemaVersion, errkind.MigrationMismatch)
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("storage: read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for i, entry := range entries {
		version := i + 1
		if version <= applied {
			continue
		}
		raw, err := migrationFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("storage: read %s: %w", entry.Name(), err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("storage: begin migration tx: %w: %w", errkind.StorageFailure, err)
		}
		if err := execStatements(ctx, tx, string(raw)); err != nil {
			tx.Rollback()
			return fmt.Errorf("storage: apply %s: %w: %w", entry.Name(), errkind.MigrationMismatch, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
			tx.Rollback()
			return fmt.Errorf("storage: update schema_version: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
			tx.Rollback()
			return fmt.Errorf("storage: update schema_version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("storage: commit migration %s: %w", entry.Name(), err)
		}
		slog.Info("storage: applied migration", "file", entry.Name(), "version", version)
	}
	return nil
}

// execStatements parses script into individual SQL statements and executes
// each in turn against tx.
func execStatements(ctx context.Context, tx *sql.Tx, script string) error {
	parser := rqlitesql.NewParser(strings.NewReader(script))
	for {
		stmt, err := parser.ParseStatement()
		if err != nil {
			if isEOF(err) {
				return nil
			}
			return fmt.Errorf("parse statement: %w", err)
		}
		if _, err := tx.ExecContext(ctx, stmt.String()); err != nil {
			return fmt.Errorf("exec %q: %w", stmt.String(), err)
		}
	}
}

func appliedVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: read schema_version: %w: %w", errkind.StorageFailure, err)
	}
	return version, nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

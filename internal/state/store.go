// Package state persists report snapshots in SQLite.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapreport/pkg/core"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

var errNotOpened = errors.New("database not opened")

// SQLiteStore implements core.SnapshotStore on SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ core.SnapshotStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new, unopened store.
func NewSQLiteStore() *SQLiteStore {
	return &SQLiteStore{}
}

// NewWithDB wraps an existing connection. Migrations are not run.
func NewWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Open opens the database at path and applies migrations.
// Use ":memory:" for an in-memory database.
func Open(path string) (*SQLiteStore, error) {
	s := NewSQLiteStore()
	if err := s.Open(path); err != nil {
		return nil, err
	}
	if _, err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Open opens a connection to the SQLite database.
func (s *SQLiteStore) Open(path string) error {
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One writer, and an in-memory database must not be split across
	// connections.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	return nil
}

// Path returns the path the store was opened with.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save replaces the stored report with snap in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap *core.Snapshot) (err error) {
	if s.db == nil {
		return errNotOpened
	}
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	for _, table := range []string{"images", "results", "browsers", "run_errors", "suites", "report"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err = saveReport(ctx, tx, snap); err != nil {
		return err
	}
	if err = saveSuites(ctx, tx, snap); err != nil {
		return err
	}
	if err = saveBrowsers(ctx, tx, snap); err != nil {
		return err
	}
	if err = saveResults(ctx, tx, snap); err != nil {
		return err
	}
	if err = saveImages(ctx, tx, snap); err != nil {
		return err
	}
	if err = saveErrors(ctx, tx, snap); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load returns the stored report, or an empty snapshot when nothing has been
// saved yet.
func (s *SQLiteStore) Load(ctx context.Context) (*core.Snapshot, error) {
	if s.db == nil {
		return nil, errNotOpened
	}

	snap := core.NewSnapshot()
	found, err := loadReport(ctx, s.db, snap)
	if err != nil {
		return nil, err
	}
	if !found {
		return snap, nil
	}

	loaders := []func(context.Context, *sql.DB, *core.Snapshot) error{
		loadSuites, loadBrowsers, loadResults, loadImages, loadErrors,
	}
	for _, load := range loaders {
		if err := load(ctx, s.db, snap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

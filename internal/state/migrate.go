package state

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// schemaProvider returns a goose provider over the embedded snapshot schema.
// Providers keep no package state, so several stores can migrate at once.
func schemaProvider(db *sql.DB) (*goose.Provider, error) {
	fsys, err := fs.Sub(schemaFS, "migrations")
	if err != nil {
		return nil, err
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema migrations: %w", err)
	}
	return p, nil
}

// Migrate applies pending schema migrations and returns the number applied.
func (s *SQLiteStore) Migrate(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, errNotOpened
	}
	p, err := schemaProvider(s.db)
	if err != nil {
		return 0, err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to migrate snapshot schema: %w", err)
	}
	return len(results), nil
}

// SchemaVersion returns the version of the applied snapshot schema.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, errNotOpened
	}
	p, err := schemaProvider(s.db)
	if err != nil {
		return 0, err
	}
	return p.GetDBVersion(ctx)
}

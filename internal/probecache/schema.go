package probecache

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes. Probe results are
// cheap to recompute, so an older cache is dropped and rebuilt.
const schemaVersion = 1

func (c *Cache) initSchema(ctx context.Context) error {
	var version int
	err := c.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	switch {
	case err == nil && version == schemaVersion:
		return nil
	case err == nil, errors.Is(err, sql.ErrNoRows):
		c.rebuilt = true
	case !c.hasTable(ctx, "schema_version"):
		// fresh database
	default:
		return fmt.Errorf("read schema version: %w", err)
	}
	return c.createSchema(ctx)
}

func (c *Cache) hasTable(ctx context.Context, name string) bool {
	var n int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&n)
	return err == nil && n > 0
}

func (c *Cache) createSchema(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		"DROP INDEX IF EXISTS idx_probes_updated_at",
		"DROP TABLE IF EXISTS probes",
		"DROP TABLE IF EXISTS schema_version",
		schemaSQL,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("insert schema version: %w", err)
	}
	return tx.Commit()
}

// Rebuilt reports whether opening the cache discarded an incompatible schema.
func (c *Cache) Rebuilt() bool {
	return c != nil && c.rebuilt
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/vaultflow/vaultflow-backend/internal/domain"
)

// DB wraps the database connection.
type DB struct {
	*sql.DB
}

// NewDB opens a connection and verifies that the on-disk schema is one this
// binary understands. A stale binary must never execute against state
// written by a newer one.
func NewDB(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	wrapped := &DB{DB: db}
	if err := wrapped.checkSchemaVersion(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return wrapped, nil
}

// checkSchemaVersion rejects schemas newer than the binary supports.
func (db *DB) checkSchemaVersion(ctx context.Context) error {
	var version int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_info`).Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > domain.SchemaVersion {
		return fmt.Errorf("on-disk schema version %d is newer than supported version %d: %w",
			version, domain.SchemaVersion, domain.ErrSchema)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

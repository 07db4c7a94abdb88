package internal

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed library_schema.sql
var librarySchemaSQL string

// librarySchemaVersion is bumped whenever library_schema.sql changes.
const librarySchemaVersion = 1

// ErrSchemaMismatch means the catalog was created by an incompatible version.
var ErrSchemaMismatch = errors.New("library schema version mismatch")

func (l *Library) initSchema(ctx context.Context) error {
	var tableExists int
	err := l.db.GetContext(ctx, &tableExists,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return l.createSchema(ctx)
	}

	var version int
	if err := l.db.GetContext(ctx, &version, "SELECT version FROM schema_version LIMIT 1"); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != librarySchemaVersion {
		return fmt.Errorf("%w: catalog has version %d, expected %d", ErrSchemaMismatch, version, librarySchemaVersion)
	}
	return nil
}

func (l *Library) createSchema(ctx context.Context) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, librarySchemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", librarySchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

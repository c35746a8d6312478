// Package migrations evolves the querydash schema with goose Go migrations.
//
// Migrations are registered on a goose.Provider rather than through the
// global registry so several databases (and tests) can migrate in one
// process. DDL is rendered per dialect where SQLite and PostgreSQL differ.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
)

const (
	VersionBaseSchema int64 = 1
	VersionInlineTags int64 = 2
)

// Migrator runs schema migrations against a single database
type Migrator struct {
	provider *goose.Provider
	dialect  string
}

// New builds a Migrator for the given dialect ("sqlite3" or "postgres")
func New(db *sql.DB, dialect string) (*Migrator, error) {
	var gooseDialect goose.Dialect
	switch dialect {
	case "sqlite3":
		gooseDialect = goose.DialectSQLite3
	case "postgres":
		gooseDialect = goose.DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	provider, err := goose.NewProvider(gooseDialect, db, nil,
		goose.WithGoMigrations(
			goose.NewGoMigration(VersionBaseSchema,
				&goose.GoFunc{RunTx: upBaseSchema(dialect)},
				&goose.GoFunc{RunTx: downBaseSchema},
			),
			goose.NewGoMigration(VersionInlineTags,
				&goose.GoFunc{RunTx: upInlineTags},
				&goose.GoFunc{RunTx: downInlineTags},
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}

	return &Migrator{provider: provider, dialect: dialect}, nil
}

// Up applies all pending migrations
func (m *Migrator) Up(ctx context.Context) error {
	results, err := m.provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		slog.Info("applied migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// DownTo rolls back migrations until the schema is at version
func (m *Migrator) DownTo(ctx context.Context, version int64) error {
	results, err := m.provider.DownTo(ctx, version)
	if err != nil {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	for _, r := range results {
		slog.Info("rolled back migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// Version returns the current schema version
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	v, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// MigrationStatus describes one known migration
type MigrationStatus struct {
	Version int64
	Applied bool
}

// Status lists all known migrations and whether they have been applied
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration status: %w", err)
	}
	out := make([]MigrationStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, MigrationStatus{
			Version: s.Source.Version,
			Applied: s.State == goose.StateApplied,
		})
	}
	return out, nil
}

func execAll(ctx context.Context, tx *sql.Tx, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	for i, r := range stmt {
		if r == '\n' {
			return stmt[:i]
		}
	}
	return stmt
}

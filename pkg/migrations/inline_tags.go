package migrations

import (
	"context"
	"database/sql"
)

// Tags are stored as a JSON array in a nullable TEXT column so the same
// model works on SQLite and PostgreSQL. Rows that predate the column read
// back as an empty tag list.

func upInlineTags(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		`ALTER TABLE dashboards ADD COLUMN tags TEXT`,
		`ALTER TABLE queries ADD COLUMN tags TEXT`,
	})
}

func downInlineTags(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		`ALTER TABLE queries DROP COLUMN tags`,
		`ALTER TABLE dashboards DROP COLUMN tags`,
	})
}

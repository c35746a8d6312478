package migrations

import (
	"context"
	"database/sql"
	"strings"
)

func upBaseSchema(dialect string) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		return execAll(ctx, tx, baseSchema(dialect))
	}
}

func downBaseSchema(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{
		`DROP TABLE IF EXISTS favorites`,
		`DROP TABLE IF EXISTS access_permissions`,
		`DROP TABLE IF EXISTS dashboards`,
		`DROP TABLE IF EXISTS visualizations`,
		`DROP TABLE IF EXISTS queries`,
		`DROP TABLE IF EXISTS query_results`,
		`DROP TABLE IF EXISTS data_source_groups`,
		`DROP TABLE IF EXISTS data_sources`,
		`DROP TABLE IF EXISTS users`,
		`DROP TABLE IF EXISTS "groups"`,
		`DROP TABLE IF EXISTS organizations`,
	})
}

// baseSchema renders the initial tables. The only dialect difference is the
// identity column; JSON payloads are stored as TEXT on both.
func baseSchema(dialect string) []string {
	pk := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	ts := "TIMESTAMP"
	if dialect == "postgres" {
		pk = "id SERIAL PRIMARY KEY"
		ts = "TIMESTAMP WITH TIME ZONE"
	}

	stmts := []string{
		`CREATE TABLE organizations (
    {{pk}},
    name VARCHAR(255) NOT NULL,
    slug VARCHAR(255) NOT NULL UNIQUE,
    settings TEXT,
    created_at {{ts}} NOT NULL,
    updated_at {{ts}} NOT NULL
)`,
		`CREATE TABLE "groups" (
    {{pk}},
    org_id INTEGER NOT NULL REFERENCES organizations(id),
    type VARCHAR(255) NOT NULL DEFAULT 'regular',
    name VARCHAR(100) NOT NULL,
    permissions TEXT NOT NULL,
    created_at {{ts}} NOT NULL
)`,
		`CREATE TABLE users (
    {{pk}},
    org_id INTEGER NOT NULL REFERENCES organizations(id),
    name VARCHAR(320) NOT NULL,
    email VARCHAR(255) NOT NULL,
    api_key VARCHAR(40) NOT NULL UNIQUE,
    group_ids TEXT,
    disabled_at {{ts}},
    created_at {{ts}} NOT NULL,
    updated_at {{ts}} NOT NULL,
    UNIQUE (email, org_id)
)`,
		`CREATE TABLE data_sources (
    {{pk}},
    org_id INTEGER NOT NULL REFERENCES organizations(id),
    name VARCHAR(255) NOT NULL,
    type VARCHAR(255) NOT NULL,
    options TEXT,
    created_at {{ts}} NOT NULL,
    UNIQUE (org_id, name)
)`,
		`CREATE TABLE data_source_groups (
    {{pk}},
    data_source_id INTEGER NOT NULL REFERENCES data_sources(id),
    group_id INTEGER NOT NULL REFERENCES "groups"(id),
    view_only BOOLEAN NOT NULL DEFAULT FALSE
)`,
		`CREATE TABLE query_results (
    {{pk}},
    org_id INTEGER NOT NULL REFERENCES organizations(id),
    data_source_id INTEGER NOT NULL REFERENCES data_sources(id),
    query_hash VARCHAR(32) NOT NULL,
    query_text TEXT NOT NULL,
    data TEXT NOT NULL,
    runtime DOUBLE PRECISION NOT NULL,
    retrieved_at {{ts}} NOT NULL
)`,
		`CREATE TABLE queries (
    {{pk}},
    version INTEGER NOT NULL DEFAULT 1,
    org_id INTEGER NOT NULL REFERENCES organizations(id),
    data_source_id INTEGER REFERENCES data_sources(id),
    latest_query_data_id INTEGER REFERENCES query_results(id),
    name VARCHAR(255) NOT NULL,
    description VARCHAR(4096),
    query_text TEXT NOT NULL,
    query_hash VARCHAR(32) NOT NULL,
    api_key VARCHAR(40) NOT NULL,
    user_id INTEGER NOT NULL REFERENCES users(id),
    last_modified_by_id INTEGER REFERENCES users(id),
    is_archived BOOLEAN NOT NULL DEFAULT FALSE,
    is_draft BOOLEAN NOT NULL DEFAULT TRUE,
    schedule TEXT,
    options TEXT,
    created_at {{ts}} NOT NULL,
    updated_at {{ts}} NOT NULL
)`,
		`CREATE TABLE visualizations (
    {{pk}},
    type VARCHAR(100) NOT NULL,
    query_id INTEGER NOT NULL REFERENCES queries(id),
    name VARCHAR(255) NOT NULL,
    description VARCHAR(4096),
    options TEXT,
    created_at {{ts}} NOT NULL,
    updated_at {{ts}} NOT NULL
)`,
		`CREATE TABLE dashboards (
    {{pk}},
    version INTEGER NOT NULL DEFAULT 1,
    org_id INTEGER NOT NULL REFERENCES organizations(id),
    slug VARCHAR(140) NOT NULL,
    name VARCHAR(100) NOT NULL,
    user_id INTEGER NOT NULL REFERENCES users(id),
    layout TEXT NOT NULL,
    dashboard_filters_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    is_archived BOOLEAN NOT NULL DEFAULT FALSE,
    is_draft BOOLEAN NOT NULL DEFAULT TRUE,
    created_at {{ts}} NOT NULL,
    updated_at {{ts}} NOT NULL
)`,
		`CREATE TABLE access_permissions (
    {{pk}},
    object_type VARCHAR(255) NOT NULL,
    object_id INTEGER NOT NULL,
    access_type VARCHAR(255) NOT NULL,
    grantor_id INTEGER NOT NULL REFERENCES users(id),
    grantee_id INTEGER NOT NULL REFERENCES users(id),
    created_at {{ts}} NOT NULL
)`,
		`CREATE TABLE favorites (
    {{pk}},
    org_id INTEGER NOT NULL REFERENCES organizations(id),
    object_type VARCHAR(255) NOT NULL,
    object_id INTEGER NOT NULL,
    user_id INTEGER NOT NULL REFERENCES users(id),
    created_at {{ts}} NOT NULL,
    UNIQUE (object_type, object_id, user_id)
)`,
		`CREATE INDEX idx_queries_org_id ON queries(org_id)`,
		`CREATE INDEX idx_queries_data_source_id ON queries(data_source_id)`,
		`CREATE INDEX idx_queries_user_id ON queries(user_id)`,
		`CREATE INDEX idx_query_results_hash ON query_results(query_hash, data_source_id)`,
		`CREATE INDEX idx_visualizations_query_id ON visualizations(query_id)`,
		`CREATE INDEX idx_data_source_groups_ds ON data_source_groups(data_source_id)`,
		`CREATE INDEX idx_access_permissions_object ON access_permissions(object_type, object_id)`,
		`CREATE INDEX idx_dashboards_org_slug ON dashboards(org_id, slug)`,
	}

	r := strings.NewReplacer("{{pk}}", pk, "{{ts}}", ts)
	for i, stmt := range stmts {
		stmts[i] = r.Replace(stmt)
	}
	return stmts
}

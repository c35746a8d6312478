// Package storetest builds throwaway databases and fixtures for tests.
package storetest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"querydash/pkg/permissions"
	"querydash/pkg/store"
)

// Factory creates fixtures inside one organization of a fresh database
type Factory struct {
	t     testing.TB
	Store *store.Store

	Org          *store.Organization
	DefaultGroup *store.Group
	AdminGroup   *store.Group
	DataSource   *store.DataSource
	// User is a member of the default group, which has full access to
	// DataSource
	User *store.User

	seq int
}

// New migrates a SQLite database under t.TempDir() and seeds an org with
// default and admin groups, a data source and a user
func New(t testing.TB) *Factory {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "test.db"), "sqlite3")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f := &Factory{t: t, Store: s}
	f.Org = f.CreateOrg("default")
	f.DefaultGroup, f.AdminGroup = f.CreateOrgGroups(f.Org)
	f.DataSource = f.CreateDataSource(f.Org, f.DefaultGroup, false)
	f.User = f.CreateUser(f.Org, f.DefaultGroup)
	return f
}

func (f *Factory) next() int {
	f.seq++
	return f.seq
}

// CreateOrg adds another organization
func (f *Factory) CreateOrg(slug string) *store.Organization {
	f.t.Helper()
	org := &store.Organization{Name: slug, Slug: slug}
	if err := f.Store.CreateOrganization(context.Background(), org); err != nil {
		f.t.Fatalf("Failed to create org: %v", err)
	}
	return org
}

// CreateOrgGroups creates the builtin default and admin groups of an org
func (f *Factory) CreateOrgGroups(org *store.Organization) (*store.Group, *store.Group) {
	f.t.Helper()
	defaultGroup := &store.Group{
		OrgID:       org.ID,
		Name:        "default",
		Type:        store.GroupTypeBuiltin,
		Permissions: permissions.DefaultGroupPermissions,
	}
	adminGroup := &store.Group{
		OrgID:       org.ID,
		Name:        "admin",
		Type:        store.GroupTypeBuiltin,
		Permissions: []string{permissions.Admin, permissions.ScheduleQuery},
	}
	f.CreateGroup(defaultGroup)
	f.CreateGroup(adminGroup)
	return defaultGroup, adminGroup
}

// CreateGroup inserts a group
func (f *Factory) CreateGroup(g *store.Group) *store.Group {
	f.t.Helper()
	if g.Name == "" {
		g.Name = fmt.Sprintf("group %d", f.next())
	}
	if err := f.Store.CreateGroup(context.Background(), g); err != nil {
		f.t.Fatalf("Failed to create group: %v", err)
	}
	return g
}

// CreateUser adds a user to the org as a member of groups
func (f *Factory) CreateUser(org *store.Organization, groups ...*store.Group) *store.User {
	f.t.Helper()
	n := f.next()
	u := &store.User{
		OrgID: org.ID,
		Name:  fmt.Sprintf("User %d", n),
		Email: fmt.Sprintf("user%d@example.com", n),
	}
	for _, g := range groups {
		u.GroupIDs = append(u.GroupIDs, g.ID)
	}
	if err := f.Store.CreateUser(context.Background(), u); err != nil {
		f.t.Fatalf("Failed to create user: %v", err)
	}
	return u
}

// CreateAdmin adds a member of the default org's default and admin groups
func (f *Factory) CreateAdmin() *store.User {
	f.t.Helper()
	return f.CreateUser(f.Org, f.DefaultGroup, f.AdminGroup)
}

// CreateDataSource adds a data source reachable through group
func (f *Factory) CreateDataSource(org *store.Organization, group *store.Group, viewOnly bool) *store.DataSource {
	f.t.Helper()
	ctx := context.Background()
	ds := &store.DataSource{
		OrgID:   org.ID,
		Name:    fmt.Sprintf("Test %d", f.next()),
		Type:    "pg",
		Options: map[string]any{"dbname": "test"},
	}
	if err := f.Store.CreateDataSource(ctx, ds); err != nil {
		f.t.Fatalf("Failed to create data source: %v", err)
	}
	if group != nil {
		if err := f.Store.AddDataSourceToGroup(ctx, ds.ID, group.ID, viewOnly); err != nil {
			f.t.Fatalf("Failed to add data source to group: %v", err)
		}
	}
	return ds
}

// CreateQuery inserts a published query owned by f.User on f.DataSource.
// The given fields override the defaults.
func (f *Factory) CreateQuery(override func(q *store.Query)) *store.Query {
	f.t.Helper()
	n := f.next()
	q := &store.Query{
		OrgID:        f.Org.ID,
		DataSourceID: &f.DataSource.ID,
		UserID:       f.User.ID,
		Name:         fmt.Sprintf("Query %d", n),
		QueryText:    "SELECT 1",
		IsDraft:      false,
	}
	if override != nil {
		override(q)
	}
	if err := f.Store.CreateQuery(context.Background(), q); err != nil {
		f.t.Fatalf("Failed to create query: %v", err)
	}
	return q
}

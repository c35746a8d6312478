package controller

import (
	"context"
	"net/http"
	"testing"

	"querydash/pkg/store"

	"github.com/google/go-cmp/cmp"
)

func TestGetQuery(t *testing.T) {
	e := newTestEnv(t)
	q := e.CreateQuery(nil)

	rec := e.request(t, http.MethodGet, queryPath(q, ""), e.User, nil)
	expectStatus(t, rec, http.StatusOK)

	body := decode[map[string]any](t, rec)
	if body["name"] != q.Name || body["query"] != q.QueryText || body["api_key"] != q.APIKey {
		t.Errorf("Unexpected body: %v", body)
	}
	if body["can_edit"] != true {
		t.Errorf("Expected owner to be able to edit, got %v", body["can_edit"])
	}
	if vis, _ := body["visualizations"].([]any); len(vis) != 1 {
		t.Errorf("Expected one visualization, got %v", body["visualizations"])
	}
	if user, _ := body["user"].(map[string]any); user["email"] != e.User.Email {
		t.Errorf("Expected owner summary, got %v", body["user"])
	}
}

func TestGetQueryAccess(t *testing.T) {
	e := newTestEnv(t)
	admin := e.CreateAdmin()

	noDataSource := e.CreateQuery(func(q *store.Query) { q.DataSourceID = nil })

	viewOnlyGroup := e.CreateGroup(&store.Group{OrgID: e.Org.ID, Permissions: []string{"view_query"}})
	viewOnlyDS := e.CreateDataSource(e.Org, viewOnlyGroup, true)
	viewOnlyQuery := e.CreateQuery(func(q *store.Query) { q.DataSourceID = &viewOnlyDS.ID })
	viewer := e.CreateUser(e.Org, viewOnlyGroup)

	otherOrg := e.CreateOrg("other")
	otherDefault, _ := e.CreateOrgGroups(otherOrg)
	outsider := e.CreateUser(otherOrg, otherDefault)

	tests := []struct {
		name   string
		query  *store.Query
		user   *store.User
		status int
	}{
		{name: "no data source, member", query: noDataSource, user: e.User, status: http.StatusForbidden},
		{name: "no data source, admin", query: noDataSource, user: admin, status: http.StatusOK},
		{name: "view only group may view", query: viewOnlyQuery, user: viewer, status: http.StatusOK},
		{name: "no shared group", query: viewOnlyQuery, user: e.User, status: http.StatusForbidden},
		{name: "other organization", query: viewOnlyQuery, user: outsider, status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.request(t, http.MethodGet, queryPath(tt.query, ""), tt.user, nil)
			expectStatus(t, rec, tt.status)
		})
	}
}

func TestQueryKeyAccess(t *testing.T) {
	e := newTestEnv(t)
	q := e.CreateQuery(nil)
	other := e.CreateQuery(nil)
	key := &store.User{APIKey: q.APIKey}

	expectStatus(t, e.request(t, http.MethodGet, queryPath(q, ""), key, nil), http.StatusOK)
	expectStatus(t, e.request(t, http.MethodGet, queryPath(other, ""), key, nil), http.StatusForbidden)
	expectStatus(t, e.request(t, http.MethodPost, queryPath(q, ""), key, map[string]any{"name": "x"}), http.StatusForbidden)
	expectStatus(t, e.request(t, http.MethodGet, "/api/queries", key, nil), http.StatusForbidden)
	expectStatus(t, e.request(t, http.MethodGet, queryPath(q, "/acl"), key, nil), http.StatusForbidden)
	expectStatus(t, e.request(t, http.MethodPost, queryPath(q, "/acl"), key, map[string]any{"access_type": "modify", "user_id": e.User.ID}), http.StatusForbidden)
}

func TestCreateQuery(t *testing.T) {
	e := newTestEnv(t)

	input := map[string]any{
		"name":           "Testing",
		"query":          "SELECT 1",
		"schedule":       map[string]any{"interval": "3600"},
		"data_source_id": e.DataSource.ID,
		"tags":           []string{"a", " a", "b"},
	}
	rec := e.request(t, http.MethodPost, "/api/queries", e.User, input)
	expectStatus(t, rec, http.StatusOK)

	body := decode[map[string]any](t, rec)
	for _, key := range []string{"name", "query", "schedule"} {
		if diff := cmp.Diff(input[key], body[key]); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", key, diff)
		}
	}
	if body["data_source_id"] != float64(e.DataSource.ID) {
		t.Errorf("Expected data_source_id %d, got %v", e.DataSource.ID, body["data_source_id"])
	}
	if body["is_draft"] != true {
		t.Error("Expected new query to be a draft")
	}
	if body["api_key"] == "" || body["query_hash"] == "" || body["user"] == nil {
		t.Errorf("Expected api_key, query_hash and user, got %v", body)
	}
	if diff := cmp.Diff([]any{"a", "b"}, body["tags"]); diff != "" {
		t.Errorf("Tags mismatch (-want +got):\n%s", diff)
	}
	if body["schedule_description"] != "Every 1 hour(s)" {
		t.Errorf("Unexpected schedule description %v", body["schedule_description"])
	}
}

func TestCreateQueryRequiresAccess(t *testing.T) {
	e := newTestEnv(t)

	viewOnlyDS := e.CreateDataSource(e.Org, e.DefaultGroup, true)
	noPermsGroup := e.CreateGroup(&store.Group{OrgID: e.Org.ID})
	if err := e.Store.AddDataSourceToGroup(context.Background(), e.DataSource.ID, noPermsGroup.ID, false); err != nil {
		t.Fatalf("Failed to add data source to group: %v", err)
	}
	noPerms := e.CreateUser(e.Org, noPermsGroup)

	tests := []struct {
		name   string
		user   *store.User
		input  map[string]any
		status int
	}{
		{name: "view only data source", user: e.User, input: map[string]any{"name": "x", "query": "SELECT 1", "data_source_id": viewOnlyDS.ID}, status: http.StatusForbidden},
		{name: "missing create_query", user: noPerms, input: map[string]any{"name": "x", "query": "SELECT 1", "data_source_id": e.DataSource.ID}, status: http.StatusForbidden},
		{name: "missing data source", user: e.User, input: map[string]any{"name": "x", "query": "SELECT 1"}, status: http.StatusBadRequest},
		{name: "unknown data source", user: e.User, input: map[string]any{"name": "x", "query": "SELECT 1", "data_source_id": 999}, status: http.StatusNotFound},
		{name: "invalid schedule", user: e.User, input: map[string]any{"name": "x", "query": "SELECT 1", "data_source_id": e.DataSource.ID, "schedule": map[string]any{"interval": -5}}, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, e.request(t, http.MethodPost, "/api/queries", tt.user, tt.input), tt.status)
		})
	}
}

func TestUpdateQuery(t *testing.T) {
	e := newTestEnv(t)
	q := e.CreateQuery(nil)

	rec := e.request(t, http.MethodPost, queryPath(q, ""), e.User, map[string]any{
		"name":    "Testing",
		"query":   "SELECT 2",
		"version": q.Version,
		"id":      999,
		"api_key": "stolen",
	})
	expectStatus(t, rec, http.StatusOK)

	body := decode[map[string]any](t, rec)
	if body["name"] != "Testing" || body["query"] != "SELECT 2" {
		t.Errorf("Update not applied: %v", body)
	}
	if body["version"] != float64(q.Version+1) {
		t.Errorf("Expected version %d, got %v", q.Version+1, body["version"])
	}
	if body["id"] != float64(q.ID) || body["api_key"] != q.APIKey {
		t.Errorf("Protected fields changed: id=%v api_key=%v", body["id"], body["api_key"])
	}
	if mod, _ := body["last_modified_by"].(map[string]any); mod["id"] != float64(e.User.ID) {
		t.Errorf("Expected last_modified_by %d, got %v", e.User.ID, body["last_modified_by"])
	}
}

func TestUpdateQueryVersionConflict(t *testing.T) {
	e := newTestEnv(t)
	q := e.CreateQuery(nil)

	rec := e.request(t, http.MethodPost, queryPath(q, ""), e.User, map[string]any{
		"name":    "Stale",
		"version": q.Version - 1,
	})
	expectStatus(t, rec, http.StatusConflict)

	rec = e.request(t, http.MethodPost, queryPath(q, ""), e.User, map[string]any{"name": "Override"})
	expectStatus(t, rec, http.StatusOK)
	body := decode[map[string]any](t, rec)
	if body["name"] != "Override" || body["version"] != float64(q.Version+1) {
		t.Errorf("Expected unconditional update to apply, got %v", body)
	}
}

func TestUpdateQueryPermissions(t *testing.T) {
	e := newTestEnv(t)
	q := e.CreateQuery(nil)
	other := e.CreateUser(e.Org, e.DefaultGroup)
	admin := e.CreateAdmin()

	expectStatus(t, e.request(t, http.MethodPost, queryPath(q, ""), other, map[string]any{"name": "x"}), http.StatusForbidden)
	expectStatus(t, e.request(t, http.MethodPost, queryPath(q, ""), admin, map[string]any{"name": "by admin"}), http.StatusOK)

	// the owner grants modify to the other user
	rec := e.request(t, http.MethodPost, queryPath(q, "/acl"), e.User, map[string]any{"access_type": "modify", "user_id": other.ID})
	expectStatus(t, rec, http.StatusOK)
	expectStatus(t, e.request(t, http.MethodPost, queryPath(q, ""), other, map[string]any{"name": "by grantee"}), http.StatusOK)

	// a grantee cannot pass the grant on
	third := e.CreateUser(e.Org, e.DefaultGroup)
	rec = e.request(t, http.MethodPost, queryPath(q, "/acl"), other, map[string]any{"access_type": "modify", "user_id": third.ID})
	expectStatus(t, rec, http.StatusForbidden)

	acl := decode[map[string][]store.UserSummary](t, e.request(t, http.MethodGet, queryPath(q, "/acl"), e.User, nil))
	if len(acl["modify"]) != 1 || acl["modify"][0].ID != other.ID {
		t.Errorf("Unexpected acl: %+v", acl)
	}

	rec = e.request(t, http.MethodDelete, queryPath(q, "/acl"), e.User, map[string]any{"access_type": "modify", "user_id": other.ID})
	expectStatus(t, rec, http.StatusOK)
	expectStatus(t, e.request(t, http.MethodPost, queryPath(q, ""), other, map[string]any{"name": "x"}), http.StatusForbidden)

	rec = e.request(t, http.MethodPost, queryPath(q, "/acl"), e.User, map[string]any{"access_type": "view", "user_id": other.ID})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestUpdateQueryDataSource(t *testing.T) {
	e := newTestEnv(t)
	q := e.CreateQuery(nil)

	otherGroup := e.CreateGroup(&store.Group{OrgID: e.Org.ID})
	inaccessible := e.CreateDataSource(e.Org, otherGroup, false)
	accessible := e.CreateDataSource(e.Org, e.DefaultGroup, false)

	expectStatus(t, e.request(t, http.MethodPost, queryPath(q, ""), e.User, map[string]any{"data_source_id": inaccessible.ID}), http.StatusForbidden)

	rec := e.request(t, http.MethodPost, queryPath(q, ""), e.User, map[string]any{"data_source_id": accessible.ID})
	expectStatus(t, rec, http.StatusOK)
	if body := decode[map[string]any](t, rec); body["data_source_id"] != float64(accessible.ID) {
		t.Errorf("Expected data source %d, got %v", accessible.ID, body["data_source_id"])
	}
}

func TestUpdateLatestQueryDataID(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	q := e.CreateQuery(nil)

	otherOrg := e.CreateOrg("other")
	otherDefault, _ := e.CreateOrgGroups(otherOrg)
	otherDS := e.CreateDataSource(otherOrg, otherDefault, false)

	foreign := &store.QueryResult{OrgID: otherOrg.ID, DataSourceID: otherDS.ID, QueryHash: "h", QueryText: "SELECT 1", Data: "{}"}
	if _, err := e.Store.StoreResult(ctx, foreign); err != nil {
		t.Fatalf("Failed to store result: %v", err)
	}
	own := &store.QueryResult{OrgID: e.Org.ID, DataSourceID: e.DataSource.ID, QueryHash: "h", QueryText: "SELECT 1", Data: "{}"}
	if _, err := e.Store.StoreResult(ctx, own); err != nil {
		t.Fatalf("Failed to store result: %v", err)
	}

	rec := e.request(t, http.MethodPost, queryPath(q, ""), e.User, map[string]any{"latest_query_data_id": foreign.ID})
	expectStatus(t, rec, http.StatusNotFound)

	body := decode[map[string]any](t, e.request(t, http.MethodGet, queryPath(q, ""), e.User, nil))
	if body["latest_query_data_id"] != nil || body["version"] != float64(q.Version) {
		t.Errorf("Rejected update must not change the query: %v", body)
	}

	rec = e.request(t, http.MethodPost, queryPath(q, ""), e.User, map[string]any{"latest_query_data_id": own.ID})
	expectStatus(t, rec, http.StatusOK)
	if body := decode[map[string]any](t, rec); body["latest_query_data_id"] != float64(own.ID) {
		t.Errorf("Expected latest_query_data_id %d, got %v", own.ID, body["latest_query_data_id"])
	}

	rec = e.request(t, http.MethodPost, queryPath(q, ""), e.User, map[string]any{"latest_query_data_id": nil})
	expectStatus(t, rec, http.StatusOK)
	if body := decode[map[string]any](t, rec); body["latest_query_data_id"] != nil {
		t.Errorf("Expected latest_query_data_id cleared, got %v", body["latest_query_data_id"])
	}
}

func TestUpdateOtherOrgQuery(t *testing.T) {
	e := newTestEnv(t)
	q := e.CreateQuery(nil)
	otherOrg := e.CreateOrg("other")
	otherDefault, otherAdmin := e.CreateOrgGroups(otherOrg)
	outsider := e.CreateUser(otherOrg, otherDefault, otherAdmin)

	expectStatus(t, e.request(t, http.MethodPost, queryPath(q, ""), outsider, map[string]any{"name": "x"}), http.StatusNotFound)
	expectStatus(t, e.request(t, http.MethodDelete, queryPath(q, ""), outsider, nil), http.StatusNotFound)
}

func TestArchiveQuery(t *testing.T) {
	e := newTestEnv(t)
	q := e.CreateQuery(nil)
	other := e.CreateUser(e.Org, e.DefaultGroup)

	expectStatus(t, e.request(t, http.MethodDelete, queryPath(q, ""), other, nil), http.StatusForbidden)
	expectStatus(t, e.request(t, http.MethodDelete, queryPath(q, ""), e.User, nil), http.StatusNoContent)

	body := decode[map[string]any](t, e.request(t, http.MethodGet, queryPath(q, ""), e.User, nil))
	if body["is_archived"] != true {
		t.Errorf("Expected archived query, got %v", body)
	}

	list := decode[ListResponse](t, e.request(t, http.MethodGet, "/api/queries", e.User, nil))
	if list.Count != 0 {
		t.Errorf("Archived query must not be listed, got %d", list.Count)
	}
}

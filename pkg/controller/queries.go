package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"

	"querydash/pkg/auth"
	"querydash/pkg/httputil"
	"querydash/pkg/permissions"
	"querydash/pkg/schedule"
	"querydash/pkg/store"
)

// listParams are the query-string arguments of list endpoints
type listParams struct {
	Q        string   `schema:"q"`
	Tags     []string `schema:"tags"`
	Page     int      `schema:"page"`
	PageSize int      `schema:"page_size"`
	Order    string   `schema:"order"`
}

// queryFilter decodes list arguments into a filter scoped to the caller
func (c *Controller) queryFilter(r *http.Request, u *store.User) (store.QueryFilter, error) {
	var lp listParams
	if err := c.decoder.Decode(&lp, r.URL.Query()); err != nil {
		return store.QueryFilter{}, fmt.Errorf("invalid arguments: %w", err)
	}
	if lp.Page == 0 {
		lp.Page = 1
	}
	if lp.PageSize == 0 {
		lp.PageSize = c.defaultPageSize
	}
	if lp.Page < 1 {
		return store.QueryFilter{}, fmt.Errorf("page must be positive")
	}
	if lp.PageSize < 1 || lp.PageSize > c.maxPageSize {
		return store.QueryFilter{}, fmt.Errorf("page_size must be between 1 and %d", c.maxPageSize)
	}
	if !store.ValidOrder(lp.Order) {
		return store.QueryFilter{}, fmt.Errorf("unknown order %q", lp.Order)
	}

	return store.QueryFilter{
		OrgID:    u.OrgID,
		UserID:   u.ID,
		GroupIDs: u.GroupIDs,
		IsAdmin:  permissions.IsAdmin(u),
		Search:   lp.Q,
		Tags:     lp.Tags,
		Order:    lp.Order,
		Page:     lp.Page,
		PageSize: lp.PageSize,
	}, nil
}

func (c *Controller) listQueries(w http.ResponseWriter, r *http.Request, scope func(*store.QueryFilter)) {
	_, u, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	filter, err := c.queryFilter(r, u)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if scope != nil {
		scope(&filter)
	}

	queries, total, err := c.store.ListQueries(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	results, err := c.serializeQueries(r.Context(), u.OrgID, queries)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, ListResponse{
		Count:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
		Results:  results,
	})
}

// HandleListQueries lists the queries the caller may see
func (c *Controller) HandleListQueries(w http.ResponseWriter, r *http.Request) {
	c.listQueries(w, r, nil)
}

// HandleMyQueries lists queries created by the caller
func (c *Controller) HandleMyQueries(w http.ResponseWriter, r *http.Request) {
	c.listQueries(w, r, func(f *store.QueryFilter) { f.OwnedOnly = true })
}

// HandleFavoriteQueries lists queries the caller marked as favorite
func (c *Controller) HandleFavoriteQueries(w http.ResponseWriter, r *http.Request) {
	c.listQueries(w, r, func(f *store.QueryFilter) { f.FavoritesOnly = true })
}

// HandleSearchRedirect sends the legacy search endpoint to the list endpoint
func (c *Controller) HandleSearchRedirect(w http.ResponseWriter, r *http.Request) {
	target := "/api/queries"
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

// HandleQueryTags counts tags over the queries the caller may see
func (c *Controller) HandleQueryTags(w http.ResponseWriter, r *http.Request) {
	_, u, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter, err := c.queryFilter(r, u)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	tags, err := c.store.QueryTags(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

// HandleCreateQuery creates a draft query owned by the caller
func (c *Controller) HandleCreateQuery(w http.ResponseWriter, r *http.Request) {
	_, u, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := permissions.RequirePermission(u, permissions.CreateQuery); err != nil {
		writeError(w, r, err)
		return
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	var dataSourceID int64
	if err := decodeField(body, "data_source_id", &dataSourceID); err != nil || dataSourceID == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "data_source_id is required")
		return
	}
	ds, err := c.store.GetDataSource(r.Context(), u.OrgID, dataSourceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := c.requireDataSourceAccess(r, &ds.ID, u, false); err != nil {
		writeError(w, r, err)
		return
	}

	q := &store.Query{
		OrgID:        u.OrgID,
		UserID:       u.ID,
		DataSourceID: &ds.ID,
		IsDraft:      true,
	}
	if _, err := applyQueryFields(q, body, createFields); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.Schedule != nil {
		if err := permissions.RequirePermission(u, permissions.ScheduleQuery); err != nil {
			writeError(w, r, err)
			return
		}
	}

	if err := c.store.CreateQuery(r.Context(), q); err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := c.serializeFull(r.Context(), q, u, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleGetQuery returns one query with its visualizations
func (c *Controller) HandleGetQuery(w http.ResponseWriter, r *http.Request) {
	q, err := c.loadQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	p := auth.FromContext(r.Context())
	canEdit := false
	if p.User != nil {
		if canEdit, err = c.canModify(r, q, p.User); err != nil {
			writeError(w, r, err)
			return
		}
	}

	resp, err := c.serializeFull(r.Context(), q, p.User, canEdit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleUpdateQuery applies a partial update. A "version" in the body must
// match the stored version, otherwise the update is rejected with 409.
func (c *Controller) HandleUpdateQuery(w http.ResponseWriter, r *http.Request) {
	_, u, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q, err := c.loadQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ok, err := c.canModify(r, q, u); err != nil {
		writeError(w, r, err)
		return
	} else if !ok {
		writeError(w, r, permissions.ErrForbidden)
		return
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	var expectedVersion *int
	if raw, ok := body["version"]; ok && string(raw) != "null" {
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "version must be an integer")
			return
		}
		expectedVersion = &v
	}

	previousDataSource := q.DataSourceID
	columns, err := applyQueryFields(q, body, updateFields)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if changedDataSource(previousDataSource, q.DataSourceID) {
		if q.DataSourceID != nil {
			if _, err := c.store.GetDataSource(r.Context(), u.OrgID, *q.DataSourceID); err != nil {
				writeError(w, r, err)
				return
			}
		}
		if err := c.requireDataSourceAccess(r, q.DataSourceID, u, false); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if slices.Contains(columns, store.ColLatestQueryDataID) && q.LatestQueryDataID != nil {
		// results of other organizations are not found
		if _, err := c.store.GetQueryResult(r.Context(), u.OrgID, *q.LatestQueryDataID); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if slices.Contains(columns, store.ColSchedule) && q.Schedule != nil {
		if err := permissions.RequirePermission(u, permissions.ScheduleQuery); err != nil {
			writeError(w, r, err)
			return
		}
	}

	if err := c.store.UpdateQuery(r.Context(), q, columns, u.ID, expectedVersion); err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := c.serializeFull(r.Context(), q, u, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleArchiveQuery archives a query
func (c *Controller) HandleArchiveQuery(w http.ResponseWriter, r *http.Request) {
	_, u, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q, err := c.loadQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ok, err := c.canModify(r, q, u); err != nil {
		writeError(w, r, err)
		return
	} else if !ok {
		writeError(w, r, permissions.ErrForbidden)
		return
	}

	if err := c.store.ArchiveQuery(r.Context(), q, u.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func changedDataSource(before, after *int64) bool {
	if before == nil || after == nil {
		return before != after
	}
	return *before != *after
}

// validateSchedule is applied to every schedule accepted from a request
func validateSchedule(s map[string]any) error {
	if err := schedule.Validate(s); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	return nil
}

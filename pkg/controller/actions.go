package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	"querydash/pkg/auth"
	"querydash/pkg/httputil"
	"querydash/pkg/jobs"
	"querydash/pkg/params"
	"querydash/pkg/permissions"
	"querydash/pkg/sqlutil"
	"querydash/pkg/store"
)

// HandleFormatQuery re-indents the SQL in {"query": ...}
func (c *Controller) HandleFormatQuery(w http.ResponseWriter, r *http.Request) {
	if _, _, err := currentUser(r); err != nil {
		writeError(w, r, err)
		return
	}

	var input struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"query": sqlutil.Format(input.Query)})
}

// HandleForkQuery copies a query for the caller. Forking needs full (not
// view-only) access to the data source.
func (c *Controller) HandleForkQuery(w http.ResponseWriter, r *http.Request) {
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
	if err := c.requireDataSourceAccess(r, q.DataSourceID, u, false); err != nil {
		writeError(w, r, err)
		return
	}

	fork, err := c.store.ForkQuery(r.Context(), q, u)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := c.serializeFull(r.Context(), fork, u, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleRefreshQuery queues a run of the query with p_<name> parameter
// values taken from the query string
func (c *Controller) HandleRefreshQuery(w http.ResponseWriter, r *http.Request) {
	p, u, err := currentUser(r)
	if err != nil {
		httputil.WriteError(w, http.StatusForbidden, "Please use a user API key.")
		return
	}
	q, err := c.loadQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if q.DataSourceID == nil {
		httputil.WriteError(w, http.StatusBadRequest, "Query has no data source")
		return
	}
	if err := c.requireDataSourceAccess(r, q.DataSourceID, u, false); err != nil {
		writeError(w, r, err)
		return
	}

	text, err := params.Apply(q.QueryText, params.FromValues(r.URL.Query()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	ds, err := c.store.GetDataSource(r.Context(), p.OrgID, *q.DataSourceID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	job, err := c.queue.Enqueue(r.Context(), jobs.Request{
		OrgID:          p.OrgID,
		DataSourceID:   ds.ID,
		DataSourceType: ds.Type,
		QueryID:        q.ID,
		UserID:         u.ID,
		QueryText:      text,
		QueryHash:      sqlutil.GenQueryHash(text),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"job": job})
}

type aclInput struct {
	AccessType string `json:"access_type"`
	UserID     int64  `json:"user_id"`
}

// requireOwnerOrAdmin loads the query and checks the caller may manage
// its grants
func (c *Controller) requireOwnerOrAdmin(r *http.Request) (*store.Query, *store.User, error) {
	_, u, err := currentUser(r)
	if err != nil {
		return nil, nil, err
	}
	q, err := c.loadQuery(r)
	if err != nil {
		return nil, nil, err
	}
	if q.UserID != u.ID && !permissions.IsAdmin(u) {
		return nil, nil, permissions.ErrForbidden
	}
	return q, u, nil
}

// HandleListACL returns the users holding each access type on the query
func (c *Controller) HandleListACL(w http.ResponseWriter, r *http.Request) {
	if _, _, err := currentUser(r); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := c.loadQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	grants, err := c.store.ListGrants(r.Context(), store.ObjectTypeQuery, q.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ids := make([]int64, 0, len(grants))
	for _, g := range grants {
		ids = append(ids, g.GranteeID)
	}
	users, err := c.store.GetUsers(r.Context(), q.OrgID, ids)
	if err != nil {
		writeError(w, r, err)
		return
	}

	acl := map[string][]store.UserSummary{}
	for _, g := range grants {
		if u, ok := users[g.GranteeID]; ok {
			acl[g.AccessType] = append(acl[g.AccessType], u.Summary())
		}
	}
	httputil.WriteJSON(w, http.StatusOK, acl)
}

func (c *Controller) decodeACL(w http.ResponseWriter, r *http.Request, q *store.Query) (aclInput, bool) {
	var input aclInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return input, false
	}
	if input.AccessType != permissions.AccessTypeModify {
		httputil.WriteError(w, http.StatusBadRequest, "Unknown access type")
		return input, false
	}
	if _, err := c.store.GetUser(r.Context(), q.OrgID, input.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.WriteError(w, http.StatusBadRequest, "User not found")
		} else {
			writeError(w, r, err)
		}
		return input, false
	}
	return input, true
}

// HandleGrantACL gives a user an access type on the query
func (c *Controller) HandleGrantACL(w http.ResponseWriter, r *http.Request) {
	q, u, err := c.requireOwnerOrAdmin(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	input, ok := c.decodeACL(w, r, q)
	if !ok {
		return
	}

	grant, err := c.store.Grant(r.Context(), store.ObjectTypeQuery, q.ID, input.AccessType, u.ID, input.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, grant)
}

// HandleRevokeACL removes a user's access type on the query
func (c *Controller) HandleRevokeACL(w http.ResponseWriter, r *http.Request) {
	q, _, err := c.requireOwnerOrAdmin(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	input, ok := c.decodeACL(w, r, q)
	if !ok {
		return
	}

	if _, err := c.store.Revoke(r.Context(), store.ObjectTypeQuery, q.ID, input.AccessType, input.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{})
}

// HandleAddFavorite marks the query as favorite for the caller
func (c *Controller) HandleAddFavorite(w http.ResponseWriter, r *http.Request) {
	c.toggleFavorite(w, r, true)
}

// HandleRemoveFavorite unmarks the query
func (c *Controller) HandleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	c.toggleFavorite(w, r, false)
}

func (c *Controller) toggleFavorite(w http.ResponseWriter, r *http.Request, add bool) {
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

	if add {
		err = c.store.AddFavorite(r.Context(), q.OrgID, store.ObjectTypeQuery, q.ID, u.ID)
	} else {
		err = c.store.RemoveFavorite(r.Context(), store.ObjectTypeQuery, q.ID, u.ID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{})
}

// HandleIssueToken returns a bearer token for the calling user
func (c *Controller) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	_, u, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, expires, err := c.auth.IssueToken(u)
	if errors.Is(err, auth.ErrTokensDisabled) {
		httputil.WriteError(w, http.StatusNotFound, "Bearer tokens are not enabled")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"token": token, "expires_at": expires})
}

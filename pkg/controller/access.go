package controller

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"querydash/pkg/auth"
	"querydash/pkg/httputil"
	"querydash/pkg/jobs"
	"querydash/pkg/params"
	"querydash/pkg/permissions"
	"querydash/pkg/store"

	"github.com/gorilla/mux"
)

// errQueryKey is returned when a query API key is used where a user is
// required
var errQueryKey = errors.New("query api keys cannot be used here")

// writeError maps domain errors onto HTTP statuses
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var missing *params.MissingParametersError
	switch {
	case errors.Is(err, store.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, store.ErrVersionConflict):
		httputil.WriteError(w, http.StatusConflict, "Query was modified by someone else; reload and try again")
	case errors.Is(err, permissions.ErrForbidden), errors.Is(err, errQueryKey):
		httputil.WriteError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, jobs.ErrQueueStopped):
		httputil.WriteError(w, http.StatusServiceUnavailable, "Server is shutting down")
	case errors.As(err, &missing):
		httputil.WriteError(w, http.StatusBadRequest, missing.Error())
	default:
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", httputil.RequestIDFromContext(r.Context()),
			"error", err,
		)
		httputil.WriteError(w, http.StatusInternalServerError, "Internal error")
	}
}

// currentUser returns the calling user; query API key principals are
// refused
func currentUser(r *http.Request) (*auth.Principal, *store.User, error) {
	p := auth.FromContext(r.Context())
	if p == nil || p.User == nil {
		return p, nil, errQueryKey
	}
	return p, p.User, nil
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil
}

// loadQuery fetches the query named in the path and checks the caller may
// view it. Queries of other organizations are not found; queries without a
// data source are visible to admins only.
func (c *Controller) loadQuery(r *http.Request) (*store.Query, error) {
	p := auth.FromContext(r.Context())
	id, ok := pathID(r)
	if !ok || p == nil {
		return nil, store.ErrNotFound
	}

	q, err := c.store.GetQuery(r.Context(), p.OrgID, id)
	if err != nil {
		return nil, err
	}

	if p.IsQueryKey() {
		if p.Query.ID != q.ID {
			return nil, permissions.ErrForbidden
		}
		return q, nil
	}

	if err := c.requireDataSourceAccess(r, q.DataSourceID, p.User, true); err != nil {
		return nil, err
	}
	return q, nil
}

// requireDataSourceAccess checks the user against a data source's groups.
// A nil data source is only accessible to admins.
func (c *Controller) requireDataSourceAccess(r *http.Request, dataSourceID *int64, u *store.User, needViewOnly bool) error {
	if dataSourceID == nil {
		if permissions.IsAdmin(u) {
			return nil
		}
		return permissions.ErrForbidden
	}
	groups, err := c.store.DataSourceGroups(r.Context(), *dataSourceID)
	if err != nil {
		return err
	}
	return permissions.RequireAccess(groups, u, needViewOnly)
}

// canModify reports whether the user may change q
func (c *Controller) canModify(r *http.Request, q *store.Query, u *store.User) (bool, error) {
	if permissions.CanModify(q, u, false) {
		return true, nil
	}
	granted, err := c.store.HasAccess(r.Context(), store.ObjectTypeQuery, q.ID, permissions.AccessTypeModify, u.ID)
	if err != nil {
		return false, err
	}
	return permissions.CanModify(q, u, granted), nil
}

// Package permissions decides who may view, run and change queries.
//
// Organization isolation is not handled here: callers load objects scoped
// to the caller's org first, so a foreign object is already not found
// before any of these checks run.
package permissions

import (
	"errors"
	"fmt"

	"querydash/pkg/store"
)

// Group permissions
const (
	Admin           = "admin"
	CreateQuery     = "create_query"
	EditQuery       = "edit_query"
	ViewQuery       = "view_query"
	ExecuteQuery    = "execute_query"
	ListDashboards  = "list_dashboards"
	ViewSource      = "view_source"
	ScheduleQuery   = "schedule_query"
	ListDataSources = "list_data_sources"
)

// DefaultGroupPermissions is what members of an organization's default
// group can do
var DefaultGroupPermissions = []string{
	CreateQuery, EditQuery, ViewQuery, ExecuteQuery, ListDashboards,
	ViewSource, ScheduleQuery, ListDataSources,
}

// Access types for explicit grants
const (
	AccessTypeView   = "view"
	AccessTypeModify = "modify"
)

var ErrForbidden = errors.New("forbidden")

// IsAdmin reports whether the user holds the admin permission
func IsAdmin(u *store.User) bool {
	return u.HasPermission(Admin)
}

// HasAccess checks the user against the groups that can reach a data
// source (group id -> view_only). With needViewOnly a view-only grant is
// enough; otherwise at least one shared group must have full access.
// Admins always pass.
func HasAccess(objectGroups map[int64]bool, u *store.User, needViewOnly bool) bool {
	if IsAdmin(u) {
		return true
	}

	matched := false
	for _, gid := range u.GroupIDs {
		viewOnly, ok := objectGroups[gid]
		if !ok {
			continue
		}
		matched = true
		if !viewOnly {
			return true
		}
	}
	return matched && needViewOnly
}

// RequireAccess is HasAccess returning ErrForbidden
func RequireAccess(objectGroups map[int64]bool, u *store.User, needViewOnly bool) error {
	if !HasAccess(objectGroups, u, needViewOnly) {
		return fmt.Errorf("no access to data source: %w", ErrForbidden)
	}
	return nil
}

// CanModify reports whether the user may change the query: its owner, an
// admin, or someone holding an explicit modify grant
func CanModify(q *store.Query, u *store.User, hasModifyGrant bool) bool {
	return q.UserID == u.ID || IsAdmin(u) || hasModifyGrant
}

// RequirePermission fails with ErrForbidden unless the user's groups grant perm
func RequirePermission(u *store.User, perm string) error {
	if !u.HasPermission(perm) {
		return fmt.Errorf("missing permission %q: %w", perm, ErrForbidden)
	}
	return nil
}

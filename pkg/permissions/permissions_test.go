package permissions

import (
	"errors"
	"testing"

	"querydash/pkg/store"
)

func TestHasAccess(t *testing.T) {
	user := &store.User{ID: 1, GroupIDs: []int64{1, 2}, Permissions: []string{ViewQuery}}
	admin := &store.User{ID: 2, GroupIDs: []int64{9}, Permissions: []string{Admin}}

	tests := []struct {
		name         string
		user         *store.User
		groups       map[int64]bool
		needViewOnly bool
		expected     bool
	}{
		{name: "full access group", user: user, groups: map[int64]bool{2: false}, expected: true},
		{name: "view only group, view needed", user: user, groups: map[int64]bool{1: true}, needViewOnly: true, expected: true},
		{name: "view only group, full needed", user: user, groups: map[int64]bool{1: true}, expected: false},
		{name: "one of two groups full", user: user, groups: map[int64]bool{1: true, 2: false}, expected: true},
		{name: "no shared group", user: user, groups: map[int64]bool{3: false}, needViewOnly: true, expected: false},
		{name: "no groups at all", user: user, groups: map[int64]bool{}, needViewOnly: true, expected: false},
		{name: "admin without shared group", user: admin, groups: map[int64]bool{3: true}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasAccess(tt.groups, tt.user, tt.needViewOnly); got != tt.expected {
				t.Errorf("HasAccess() = %v, expected %v", got, tt.expected)
			}
			err := RequireAccess(tt.groups, tt.user, tt.needViewOnly)
			if tt.expected && err != nil {
				t.Errorf("RequireAccess() unexpected error: %v", err)
			}
			if !tt.expected && !errors.Is(err, ErrForbidden) {
				t.Errorf("RequireAccess() = %v, expected ErrForbidden", err)
			}
		})
	}
}

func TestCanModify(t *testing.T) {
	owner := &store.User{ID: 1}
	other := &store.User{ID: 2}
	admin := &store.User{ID: 3, Permissions: []string{Admin}}
	q := &store.Query{ID: 10, UserID: owner.ID}

	if !CanModify(q, owner, false) {
		t.Error("Expected owner to modify")
	}
	if CanModify(q, other, false) {
		t.Error("Expected other user without grant to be refused")
	}
	if !CanModify(q, other, true) {
		t.Error("Expected other user with modify grant to modify")
	}
	if !CanModify(q, admin, false) {
		t.Error("Expected admin to modify")
	}
}

func TestRequirePermission(t *testing.T) {
	u := &store.User{Permissions: []string{ViewQuery}}
	if err := RequirePermission(u, ViewQuery); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := RequirePermission(u, CreateQuery); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden, got %v", err)
	}
}

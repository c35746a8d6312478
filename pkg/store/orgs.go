package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
)

// CreateOrganization inserts an organization
func (s *Store) CreateOrganization(ctx context.Context, org *Organization) error {
	if err := s.db.WithContext(ctx).Create(org).Error; err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// GetOrganization retrieves an organization by ID
func (s *Store) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	var org Organization
	if err := s.db.WithContext(ctx).First(&org, id).Error; err != nil {
		return nil, notFound(err, "organization")
	}
	return &org, nil
}

// GetOrganizationBySlug retrieves an organization by its slug
func (s *Store) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	var org Organization
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&org).Error; err != nil {
		return nil, notFound(err, "organization")
	}
	return &org, nil
}

// CreateGroup inserts a group
func (s *Store) CreateGroup(ctx context.Context, g *Group) error {
	if g.Type == "" {
		g.Type = GroupTypeRegular
	}
	if g.Permissions == nil {
		g.Permissions = []string{}
	}
	if err := s.db.WithContext(ctx).Create(g).Error; err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

// ListGroups returns the groups of an organization
func (s *Store) ListGroups(ctx context.Context, orgID int64) ([]Group, error) {
	var groups []Group
	if err := s.db.WithContext(ctx).Where("org_id = ?", orgID).Order("id").Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return groups, nil
}

// CreateUser inserts a user, generating an API key when none is set
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.APIKey == "" {
		u.APIKey = GenerateAPIKey()
	}
	if u.GroupIDs == nil {
		u.GroupIDs = []int64{}
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return s.LoadPermissions(ctx, u)
}

// GetUser retrieves a user of the organization with permissions loaded
func (s *Store) GetUser(ctx context.Context, orgID, id int64) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).Where("org_id = ?", orgID).First(&u, id).Error; err != nil {
		return nil, notFound(err, "user")
	}
	if err := s.LoadPermissions(ctx, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByAPIKey finds an enabled user by personal API key
func (s *Store) GetUserByAPIKey(ctx context.Context, apiKey string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).
		Where("api_key = ? AND disabled_at IS NULL", apiKey).
		First(&u).Error
	if err != nil {
		return nil, notFound(err, "user")
	}
	if err := s.LoadPermissions(ctx, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUsers loads users of the organization keyed by id
func (s *Store) GetUsers(ctx context.Context, orgID int64, ids []int64) (map[int64]*User, error) {
	users := map[int64]*User{}
	if len(ids) == 0 {
		return users, nil
	}
	var rows []User
	if err := s.db.WithContext(ctx).Where("org_id = ? AND id IN ?", orgID, ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	for i := range rows {
		users[rows[i].ID] = &rows[i]
	}
	return users, nil
}

// AddUserToGroup appends the group to the user's memberships
func (s *Store) AddUserToGroup(ctx context.Context, u *User, groupID int64) error {
	if u.InGroup(groupID) {
		return nil
	}
	groupIDs := append(slices.Clone(u.GroupIDs), groupID)
	if err := s.db.WithContext(ctx).Model(u).Select("group_ids").Updates(&User{GroupIDs: groupIDs}).Error; err != nil {
		return fmt.Errorf("failed to add user to group: %w", err)
	}
	u.GroupIDs = groupIDs
	return s.LoadPermissions(ctx, u)
}

// LoadPermissions sets u.Permissions to the union of its groups' permissions
func (s *Store) LoadPermissions(ctx context.Context, u *User) error {
	u.Permissions = []string{}
	if len(u.GroupIDs) == 0 {
		return nil
	}

	var groups []Group
	if err := s.db.WithContext(ctx).Where("org_id = ? AND id IN ?", u.OrgID, u.GroupIDs).Find(&groups).Error; err != nil {
		return fmt.Errorf("failed to load group permissions: %w", err)
	}

	seen := map[string]bool{}
	for _, g := range groups {
		for _, p := range g.Permissions {
			if !seen[p] {
				seen[p] = true
				u.Permissions = append(u.Permissions, p)
			}
		}
	}
	sort.Strings(u.Permissions)
	return nil
}

// CreateDataSource inserts a data source
func (s *Store) CreateDataSource(ctx context.Context, ds *DataSource) error {
	if err := s.db.WithContext(ctx).Create(ds).Error; err != nil {
		return fmt.Errorf("failed to create data source: %w", err)
	}
	return nil
}

// GetDataSource retrieves a data source of the organization
func (s *Store) GetDataSource(ctx context.Context, orgID, id int64) (*DataSource, error) {
	var ds DataSource
	if err := s.db.WithContext(ctx).Where("org_id = ?", orgID).First(&ds, id).Error; err != nil {
		return nil, notFound(err, "data source")
	}
	return &ds, nil
}

// AddDataSourceToGroup grants a group access to a data source, updating the
// view_only flag when the grant already exists
func (s *Store) AddDataSourceToGroup(ctx context.Context, dataSourceID, groupID int64, viewOnly bool) error {
	db := s.db.WithContext(ctx)
	res := db.Model(&DataSourceGroup{}).
		Where("data_source_id = ? AND group_id = ?", dataSourceID, groupID).
		Update("view_only", viewOnly)
	if res.Error != nil {
		return fmt.Errorf("failed to update data source group: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	dsg := DataSourceGroup{DataSourceID: dataSourceID, GroupID: groupID, ViewOnly: viewOnly}
	if err := db.Create(&dsg).Error; err != nil {
		return fmt.Errorf("failed to add data source to group: %w", err)
	}
	return nil
}

// DataSourceGroups maps group id to view_only for every group with access
// to the data source
func (s *Store) DataSourceGroups(ctx context.Context, dataSourceID int64) (map[int64]bool, error) {
	var rows []DataSourceGroup
	if err := s.db.WithContext(ctx).Where("data_source_id = ?", dataSourceID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load data source groups: %w", err)
	}
	groups := make(map[int64]bool, len(rows))
	for _, r := range rows {
		groups[r.GroupID] = r.ViewOnly
	}
	return groups, nil
}

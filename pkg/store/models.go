package store

import (
	"slices"
	"time"
)

// ObjectTypeQuery tags access permissions and favorites that point at queries
const ObjectTypeQuery = "Query"

// Group types
const (
	GroupTypeBuiltin = "builtin"
	GroupTypeRegular = "regular"
)

// Organization is the tenant boundary; nothing is shared across orgs
type Organization struct {
	ID        int64          `gorm:"primaryKey" json:"id"`
	Name      string         `json:"name"`
	Slug      string         `json:"slug"`
	Settings  map[string]any `gorm:"serializer:json" json:"settings,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Group bundles permissions and data source access for its members
type Group struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	OrgID       int64     `json:"org_id"`
	Type        string    `json:"type"`
	Name        string    `json:"name"`
	Permissions []string  `gorm:"serializer:json" json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

type User struct {
	ID         int64      `gorm:"primaryKey" json:"id"`
	OrgID      int64      `json:"org_id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	APIKey     string     `gorm:"column:api_key" json:"-"`
	GroupIDs   []int64    `gorm:"column:group_ids;serializer:json" json:"groups"`
	DisabledAt *time.Time `json:"disabled_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	// Permissions is the union of the user's group permissions. It is filled
	// by LoadPermissions and never persisted.
	Permissions []string `gorm:"-" json:"-"`
}

// HasPermission reports whether one of the user's groups grants perm
func (u *User) HasPermission(perm string) bool {
	return slices.Contains(u.Permissions, perm)
}

// InGroup reports whether the user belongs to the group
func (u *User) InGroup(groupID int64) bool {
	return slices.Contains(u.GroupIDs, groupID)
}

// Summary is the compact form embedded in serialized queries
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Email: u.Email}
}

type UserSummary struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type DataSource struct {
	ID        int64          `gorm:"primaryKey" json:"id"`
	OrgID     int64          `json:"org_id"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Options   map[string]any `gorm:"serializer:json" json:"-"`
	CreatedAt time.Time      `json:"created_at"`
}

// DataSourceGroup grants a group access to a data source
type DataSourceGroup struct {
	ID           int64 `gorm:"primaryKey"`
	DataSourceID int64
	GroupID      int64
	ViewOnly     bool
}

type Query struct {
	ID                int64          `gorm:"primaryKey" json:"id"`
	Version           int            `json:"version"`
	OrgID             int64          `json:"-"`
	DataSourceID      *int64         `json:"data_source_id"`
	LatestQueryDataID *int64         `json:"latest_query_data_id"`
	Name              string         `json:"name"`
	Description       *string        `json:"description"`
	QueryText         string         `json:"query"`
	QueryHash         string         `json:"query_hash"`
	APIKey            string         `gorm:"column:api_key" json:"api_key"`
	UserID            int64          `json:"-"`
	LastModifiedByID  *int64         `json:"-"`
	IsArchived        bool           `json:"is_archived"`
	IsDraft           bool           `json:"is_draft"`
	Schedule          map[string]any `gorm:"serializer:json" json:"schedule"`
	Options           map[string]any `gorm:"serializer:json" json:"options"`
	Tags              []string       `gorm:"serializer:json" json:"tags"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

type QueryResult struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	OrgID        int64     `json:"-"`
	DataSourceID int64     `json:"data_source_id"`
	QueryHash    string    `json:"query_hash"`
	QueryText    string    `json:"query"`
	Data         string    `json:"data"`
	Runtime      float64   `json:"runtime"`
	RetrievedAt  time.Time `json:"retrieved_at"`
}

type Visualization struct {
	ID          int64          `gorm:"primaryKey" json:"id"`
	Type        string         `json:"type"`
	QueryID     int64          `json:"-"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Options     map[string]any `gorm:"serializer:json" json:"options"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// AccessPermission is an explicit grant of access_type on one object
type AccessPermission struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	ObjectType string    `json:"object_type"`
	ObjectID   int64     `json:"object_id"`
	AccessType string    `json:"access_type"`
	GrantorID  int64     `json:"grantor_id"`
	GranteeID  int64     `json:"grantee_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type Favorite struct {
	ID         int64 `gorm:"primaryKey"`
	OrgID      int64
	ObjectType string
	ObjectID   int64
	UserID     int64
	CreatedAt  time.Time
}

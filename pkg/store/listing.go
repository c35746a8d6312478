package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"querydash/pkg/search"

	"gorm.io/gorm"
)

// QueryFilter scopes a listing to what one user may see
type QueryFilter struct {
	OrgID    int64
	UserID   int64
	GroupIDs []int64
	// IsAdmin lifts the data source restriction, so queries without a data
	// source are listed too
	IsAdmin bool

	Search string
	Tags   []string
	// OwnedOnly limits the listing to queries created by UserID
	OwnedOnly bool
	// FavoritesOnly limits the listing to queries UserID marked as favorite
	FavoritesOnly bool

	Order    string
	Page     int
	PageSize int
}

var queryOrders = map[string]string{
	"name":        "LOWER(queries.name)",
	"created_at":  "queries.created_at",
	"updated_at":  "queries.updated_at",
	"id":          "queries.id",
	"-name":       "LOWER(queries.name) DESC",
	"-created_at": "queries.created_at DESC",
	"-updated_at": "queries.updated_at DESC",
	"-id":         "queries.id DESC",
}

// ValidOrder reports whether order is accepted by ListQueries
func ValidOrder(order string) bool {
	_, ok := queryOrders[order]
	return order == "" || ok
}

// visibleQueries applies the rules shared by every listing: same org, not
// archived, drafts only for their owner, data source reachable through one
// of the user's groups unless the user is an admin.
func (f QueryFilter) visibleQueries(db *gorm.DB) *gorm.DB {
	db = db.Where("queries.org_id = ? AND queries.is_archived = ?", f.OrgID, false).
		Where("(queries.is_draft = ? OR queries.user_id = ?)", false, f.UserID)

	if !f.IsAdmin {
		if len(f.GroupIDs) == 0 {
			return db.Where("1 = 0")
		}
		db = db.Where("queries.data_source_id IN (?)",
			db.Session(&gorm.Session{NewDB: true}).
				Model(&DataSourceGroup{}).
				Select("data_source_id").
				Where("group_id IN ?", f.GroupIDs))
	}

	if f.OwnedOnly {
		db = db.Where("queries.user_id = ?", f.UserID)
	}
	if f.FavoritesOnly {
		db = db.Where("queries.id IN (?)",
			db.Session(&gorm.Session{NewDB: true}).
				Model(&Favorite{}).
				Select("object_id").
				Where("object_type = ? AND user_id = ?", ObjectTypeQuery, f.UserID))
	}

	for _, tag := range NormalizeTags(f.Tags) {
		encoded, _ := json.Marshal(tag)
		db = db.Where(`queries.tags LIKE ? ESCAPE '\'`, "%"+search.EscapeLike(string(encoded))+"%")
	}

	term := search.Parse(f.Search)
	return db.Scopes(term.Scope("queries.id", "queries.name", "queries.description", "queries.query_text"))
}

// ListQueries returns one page of the queries visible through f and the
// total number of matches
func (s *Store) ListQueries(ctx context.Context, f QueryFilter) ([]Query, int64, error) {
	db := s.db.WithContext(ctx)

	var total int64
	if err := db.Model(&Query{}).Scopes(f.visibleQueries).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count queries: %w", err)
	}

	order, ok := queryOrders[f.Order]
	if !ok {
		order = queryOrders["-created_at"]
	}

	page, pageSize := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}

	stmt := db.Model(&Query{}).Scopes(f.visibleQueries).Order(order).Order("queries.id DESC")
	if pageSize > 0 {
		stmt = stmt.Offset((page - 1) * pageSize).Limit(pageSize)
	}

	var queries []Query
	if err := stmt.Find(&queries).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list queries: %w", err)
	}
	return queries, total, nil
}

// TagCount is the number of visible queries carrying a tag
type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// QueryTags counts tags over the queries visible through f, most used first
func (s *Store) QueryTags(ctx context.Context, f QueryFilter) ([]TagCount, error) {
	var queries []Query
	err := s.db.WithContext(ctx).Model(&Query{}).
		Scopes(f.visibleQueries).
		Select("queries.id", "queries.tags").
		Find(&queries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load query tags: %w", err)
	}

	counts := map[string]int{}
	for _, q := range queries {
		for _, tag := range q.Tags {
			counts[tag]++
		}
	}

	tags := make([]TagCount, 0, len(counts))
	for name, count := range counts {
		tags = append(tags, TagCount{Name: name, Count: count})
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Count != tags[j].Count {
			return tags[i].Count > tags[j].Count
		}
		return strings.ToLower(tags[i].Name) < strings.ToLower(tags[j].Name)
	})
	return tags, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"querydash/pkg/sqlutil"

	"gorm.io/gorm"
)

// Updatable query columns. Anything else in an update is ignored.
const (
	ColName              = "name"
	ColDescription       = "description"
	ColQueryText         = "query_text"
	ColDataSourceID      = "data_source_id"
	ColLatestQueryDataID = "latest_query_data_id"
	ColSchedule          = "schedule"
	ColOptions           = "options"
	ColIsDraft           = "is_draft"
	ColTags              = "tags"
)

var updatableColumns = []string{
	ColName, ColDescription, ColQueryText, ColDataSourceID, ColLatestQueryDataID,
	ColSchedule, ColOptions, ColIsDraft, ColTags,
}

// DefaultVisualization is attached to every new query
func DefaultVisualization() Visualization {
	return Visualization{Type: "TABLE", Name: "Table", Options: map[string]any{}}
}

// NormalizeTags trims tags and drops empty and repeated entries, keeping
// the first occurrence order
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag != "" && !slices.Contains(out, tag) {
			out = append(out, tag)
		}
	}
	return out
}

// CreateQuery inserts a new query together with its default visualization.
// The hash, API key and version are always set here.
func (s *Store) CreateQuery(ctx context.Context, q *Query) error {
	q.ID = 0
	q.Version = 1
	q.QueryHash = sqlutil.GenQueryHash(q.QueryText)
	q.APIKey = GenerateAPIKey()
	q.Tags = NormalizeTags(q.Tags)
	if q.Options == nil {
		q.Options = map[string]any{}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(q).Error; err != nil {
			return err
		}
		vis := DefaultVisualization()
		vis.QueryID = q.ID
		return tx.Create(&vis).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create query: %w", err)
	}
	return nil
}

// GetQuery retrieves a query of the organization. Queries of other
// organizations are reported as ErrNotFound.
func (s *Store) GetQuery(ctx context.Context, orgID, id int64) (*Query, error) {
	var q Query
	if err := s.db.WithContext(ctx).Where("org_id = ?", orgID).First(&q, id).Error; err != nil {
		return nil, notFound(err, "query")
	}
	return &q, nil
}

// GetQueryByAPIKey finds the query owning a query API key
func (s *Store) GetQueryByAPIKey(ctx context.Context, apiKey string) (*Query, error) {
	var q Query
	if err := s.db.WithContext(ctx).Where("api_key = ?", apiKey).First(&q).Error; err != nil {
		return nil, notFound(err, "query")
	}
	return &q, nil
}

// UpdateQuery writes the listed columns of q and bumps its version.
//
// When expectedVersion is non-nil the write only happens if the stored
// version still equals it; otherwise ErrVersionConflict is returned and
// nothing changes. A nil expectedVersion overrides unconditionally.
// On success q is reloaded from the database.
func (s *Store) UpdateQuery(ctx context.Context, q *Query, columns []string, modifiedBy int64, expectedVersion *int) error {
	cols := []string{"last_modified_by_id", "updated_at"}
	for _, c := range columns {
		if slices.Contains(updatableColumns, c) && !slices.Contains(cols, c) {
			cols = append(cols, c)
		}
	}
	if slices.Contains(cols, ColQueryText) {
		q.QueryHash = sqlutil.GenQueryHash(q.QueryText)
		cols = append(cols, "query_hash")
	}
	if slices.Contains(cols, ColTags) {
		q.Tags = NormalizeTags(q.Tags)
	}
	q.LastModifiedByID = &modifiedBy

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stmt := tx.Model(&Query{ID: q.ID}).Where("org_id = ?", q.OrgID)
		if expectedVersion != nil {
			stmt = stmt.Where("version = ?", *expectedVersion)
		}
		res := stmt.Select(cols).Updates(q)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&Query{}).Where("id = ? AND org_id = ?", q.ID, q.OrgID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrVersionConflict
		}
		return bumpVersion(tx, q.ID)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionConflict) {
			return fmt.Errorf("update query %d: %w", q.ID, err)
		}
		return fmt.Errorf("failed to update query %d: %w", q.ID, err)
	}

	updated, err := s.GetQuery(ctx, q.OrgID, q.ID)
	if err != nil {
		return err
	}
	*q = *updated
	return nil
}

// ArchiveQuery hides a query from every listing and stops its schedule
func (s *Store) ArchiveQuery(ctx context.Context, q *Query, archivedBy int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&Query{ID: q.ID}).
			Select("is_archived", "schedule", "last_modified_by_id", "updated_at").
			Updates(&Query{IsArchived: true, LastModifiedByID: &archivedBy}).Error
		if err != nil {
			return err
		}
		return bumpVersion(tx, q.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to archive query %d: %w", q.ID, err)
	}

	updated, err := s.GetQuery(ctx, q.OrgID, q.ID)
	if err != nil {
		return err
	}
	*q = *updated
	return nil
}

// ForkQuery copies q into a new draft owned by user, including its
// visualizations. The schedule is not copied.
func (s *Store) ForkQuery(ctx context.Context, q *Query, user *User) (*Query, error) {
	fork := &Query{
		Version:           1,
		OrgID:             q.OrgID,
		DataSourceID:      q.DataSourceID,
		LatestQueryDataID: q.LatestQueryDataID,
		Name:              fmt.Sprintf("Copy of (#%d) %s", q.ID, q.Name),
		Description:       q.Description,
		QueryText:         q.QueryText,
		QueryHash:         q.QueryHash,
		APIKey:            GenerateAPIKey(),
		UserID:            user.ID,
		LastModifiedByID:  &user.ID,
		IsDraft:           true,
		Options:           q.Options,
		Tags:              slices.Clone(q.Tags),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(fork).Error; err != nil {
			return err
		}
		var visualizations []Visualization
		if err := tx.Where("query_id = ?", q.ID).Order("id").Find(&visualizations).Error; err != nil {
			return err
		}
		for _, v := range visualizations {
			v.ID = 0
			v.QueryID = fork.ID
			if err := tx.Create(&v).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fork query %d: %w", q.ID, err)
	}
	return fork, nil
}

// ListVisualizations returns the visualizations of a query in creation order
func (s *Store) ListVisualizations(ctx context.Context, queryID int64) ([]Visualization, error) {
	var visualizations []Visualization
	if err := s.db.WithContext(ctx).Where("query_id = ?", queryID).Order("id").Find(&visualizations).Error; err != nil {
		return nil, fmt.Errorf("failed to list visualizations: %w", err)
	}
	return visualizations, nil
}

func bumpVersion(tx *gorm.DB, id int64) error {
	return tx.Model(&Query{}).Where("id = ?", id).
		UpdateColumn("version", gorm.Expr("version + 1")).Error
}

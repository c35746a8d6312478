package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GetQueryResult retrieves a stored result of the organization
func (s *Store) GetQueryResult(ctx context.Context, orgID, id int64) (*QueryResult, error) {
	var r QueryResult
	if err := s.db.WithContext(ctx).Where("org_id = ?", orgID).First(&r, id).Error; err != nil {
		return nil, notFound(err, "query result")
	}
	return &r, nil
}

// StoreResult saves a result and points every query of the organization
// with the same hash and data source at it. It returns the ids of the
// queries that were updated.
func (s *Store) StoreResult(ctx context.Context, r *QueryResult) ([]int64, error) {
	if r.RetrievedAt.IsZero() {
		r.RetrievedAt = time.Now().UTC()
	}

	var updated []int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(r).Error; err != nil {
			return err
		}

		err := tx.Model(&Query{}).
			Where("org_id = ? AND query_hash = ? AND data_source_id = ?", r.OrgID, r.QueryHash, r.DataSourceID).
			Pluck("id", &updated).Error
		if err != nil {
			return err
		}
		if len(updated) == 0 {
			return nil
		}
		return tx.Model(&Query{}).
			Where("id IN ?", updated).
			UpdateColumn("latest_query_data_id", r.ID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store query result: %w", err)
	}
	return updated, nil
}

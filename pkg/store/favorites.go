package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"
)

// AddFavorite marks an object as favorite for the user; repeating is a no-op
func (s *Store) AddFavorite(ctx context.Context, orgID int64, objectType string, objectID, userID int64) error {
	fav := Favorite{OrgID: orgID, ObjectType: objectType, ObjectID: objectID, UserID: userID}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&fav).Error
	if err != nil {
		return fmt.Errorf("failed to add favorite: %w", err)
	}
	return nil
}

// RemoveFavorite unmarks an object; removing a missing favorite is a no-op
func (s *Store) RemoveFavorite(ctx context.Context, objectType string, objectID, userID int64) error {
	err := s.db.WithContext(ctx).
		Where("object_type = ? AND object_id = ? AND user_id = ?", objectType, objectID, userID).
		Delete(&Favorite{}).Error
	if err != nil {
		return fmt.Errorf("failed to remove favorite: %w", err)
	}
	return nil
}

// IsFavorite reports whether the user marked the object as favorite
func (s *Store) IsFavorite(ctx context.Context, objectType string, objectID, userID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Favorite{}).
		Where("object_type = ? AND object_id = ? AND user_id = ?", objectType, objectID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check favorite: %w", err)
	}
	return count > 0, nil
}

package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Grant gives grantee access_type on an object. Granting an existing
// permission returns the existing row.
func (s *Store) Grant(ctx context.Context, objectType string, objectID int64, accessType string, grantorID, granteeID int64) (*AccessPermission, error) {
	db := s.db.WithContext(ctx)

	var existing AccessPermission
	err := db.Where("object_type = ? AND object_id = ? AND access_type = ? AND grantee_id = ?",
		objectType, objectID, accessType, granteeID).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up permission: %w", err)
	}

	perm := &AccessPermission{
		ObjectType: objectType,
		ObjectID:   objectID,
		AccessType: accessType,
		GrantorID:  grantorID,
		GranteeID:  granteeID,
	}
	if err := db.Create(perm).Error; err != nil {
		return nil, fmt.Errorf("failed to grant permission: %w", err)
	}
	return perm, nil
}

// Revoke removes grants of access_type on an object. A zero granteeID
// revokes the access type from everyone. It returns the number of removed
// grants.
func (s *Store) Revoke(ctx context.Context, objectType string, objectID int64, accessType string, granteeID int64) (int64, error) {
	stmt := s.db.WithContext(ctx).
		Where("object_type = ? AND object_id = ? AND access_type = ?", objectType, objectID, accessType)
	if granteeID != 0 {
		stmt = stmt.Where("grantee_id = ?", granteeID)
	}
	res := stmt.Delete(&AccessPermission{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to revoke permission: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// HasAccess reports whether grantee holds access_type on the object
func (s *Store) HasAccess(ctx context.Context, objectType string, objectID int64, accessType string, granteeID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&AccessPermission{}).
		Where("object_type = ? AND object_id = ? AND access_type = ? AND grantee_id = ?",
			objectType, objectID, accessType, granteeID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}
	return count > 0, nil
}

// ListGrants returns every grant on an object
func (s *Store) ListGrants(ctx context.Context, objectType string, objectID int64) ([]AccessPermission, error) {
	var perms []AccessPermission
	err := s.db.WithContext(ctx).
		Where("object_type = ? AND object_id = ?", objectType, objectID).
		Order("id").
		Find(&perms).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	return perms, nil
}

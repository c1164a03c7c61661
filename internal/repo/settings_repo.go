// Package repo implements the data persistence layer for the dose engine.
// This file provides repository functions for UserSettings.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-dose-engine/internal/domain"
)

// GetSettings returns the user's stored settings or ErrNotFound.
func GetSettings(ctx context.Context, db *gorm.DB, userID string) (*domain.UserSettings, error) {
	var s domain.UserSettings
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveQuietHours upserts the quiet-hours columns, leaving the permission
// columns untouched.
func SaveQuietHours(ctx context.Context, db *gorm.DB, userID string, enabled bool, start, end string) error {
	s := &domain.UserSettings{
		UserID:       userID,
		QuietEnabled: enabled,
		QuietStart:   start,
		QuietEnd:     end,
		Permission:   domain.PermissionUnknown,
		UpdatedAt:    time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"quiet_enabled", "quiet_start", "quiet_end", "updated_at"}),
		}).
		Create(s).Error
}

// SavePermission upserts the recorded permission answer. seed supplies the
// quiet-hours columns when the row does not exist yet; an existing row keeps
// its own.
func SavePermission(ctx context.Context, db *gorm.DB, userID string, p domain.Permission, at time.Time, seed domain.UserSettings) error {
	at = at.UTC()
	s := &domain.UserSettings{
		UserID:            userID,
		QuietEnabled:      seed.QuietEnabled,
		QuietStart:        seed.QuietStart,
		QuietEnd:          seed.QuietEnd,
		Permission:        p,
		PermissionAskedAt: &at,
		UpdatedAt:         at,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"permission", "permission_asked_at", "updated_at"}),
		}).
		Create(s).Error
}

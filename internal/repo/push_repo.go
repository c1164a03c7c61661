// Package repo implements the data persistence layer for the dose engine.
// This file provides repository functions for PushRegistration.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-dose-engine/internal/domain"
)

// GetPushRegistration returns the user's registration or ErrNotFound.
func GetPushRegistration(ctx context.Context, db *gorm.DB, userID string) (*domain.PushRegistration, error) {
	var r domain.PushRegistration
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertPushRegistration stores a new token for the user and resets the
// registration state so the registrar sends it again.
func UpsertPushRegistration(ctx context.Context, db *gorm.DB, userID, token string, enabled bool) (*domain.PushRegistration, error) {
	r := &domain.PushRegistration{
		UserID:    userID,
		Token:     token,
		Enabled:   enabled,
		UpdatedAt: time.Now().UTC(),
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"token", "enabled", "registered", "attempts", "last_error", "updated_at"}),
		}).
		Create(r).Error
	if err != nil {
		return nil, err
	}
	return r, nil
}

// MarkPushRegistered records a successful registration.
func MarkPushRegistered(ctx context.Context, db *gorm.DB, userID string) error {
	return db.WithContext(ctx).
		Model(&domain.PushRegistration{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"registered": true,
			"last_error": "",
			"updated_at": time.Now().UTC(),
		}).Error
}

// MarkPushFailed bumps the attempt counter and records the last error.
func MarkPushFailed(ctx context.Context, db *gorm.DB, userID, cause string) error {
	return db.WithContext(ctx).
		Model(&domain.PushRegistration{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": cause,
			"updated_at": time.Now().UTC(),
		}).Error
}

// ListUnregisteredPush returns enabled registrations the registry has not
// accepted yet.
func ListUnregisteredPush(ctx context.Context, db *gorm.DB) ([]domain.PushRegistration, error) {
	var out []domain.PushRegistration
	err := db.WithContext(ctx).
		Where("enabled = ? AND registered = ?", true, false).
		Order("updated_at ASC").
		Find(&out).Error
	return out, err
}

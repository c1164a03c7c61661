// Package repo implements the data persistence layer for the dose engine.
// This file provides repository helpers for ActionReceipt, the idempotency
// record of the remote dose-action handler.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dose-engine/internal/domain"
)

// GetReceipt returns a non-expired receipt for key or ErrNotFound.
func GetReceipt(ctx context.Context, db *gorm.DB, key string, now time.Time) (*domain.ActionReceipt, error) {
	var rec domain.ActionReceipt
	err := db.WithContext(ctx).
		Where("key = ? AND expires_at > ?", key, now.UTC()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateReceipt inserts a receipt for req, live from now for ttl. It returns
// ErrDuplicate on unique violation, which callers treat as "already applied".
func CreateReceipt(ctx context.Context, db *gorm.DB, req domain.ActionRequest, status string, now time.Time, ttl time.Duration) (*domain.ActionReceipt, error) {
	now = now.UTC()
	rec := &domain.ActionReceipt{
		ID:        uuid.NewString(),
		Key:       req.Key(),
		DoseID:    req.DoseID,
		Action:    req.Action,
		Timestamp: req.Timestamp.UTC(),
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// UpdateReceiptStatus records the outcome of the action a receipt guards.
func UpdateReceiptStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	return db.WithContext(ctx).
		Model(&domain.ActionReceipt{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// DeleteExpiredReceipts removes receipts that expired before now.
func DeleteExpiredReceipts(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&domain.ActionReceipt{})
	return res.RowsAffected, res.Error
}

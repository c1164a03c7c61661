// Package repo implements the data persistence layer for the dose engine.
// This file provides repository functions for the offline action queue.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dose-engine/internal/domain"
)

// EnqueueAction appends a record to the queue. Seq is assigned by the
// database and is strictly increasing in insertion order.
func EnqueueAction(ctx context.Context, db *gorm.DB, a *domain.OfflineAction) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Timestamp = a.Timestamp.UTC()
	a.Synced = false
	a.SyncedAt = nil
	a.Rejected = false
	a.RetryAfter = nil
	return db.WithContext(ctx).Create(a).Error
}

// ListPendingActions returns the user's records due for replay at now, in
// enqueue order: unsynced records that were never rejected, plus rejected
// ones whose RetryAfter has passed. limit <= 0 means no limit.
func ListPendingActions(ctx context.Context, db *gorm.DB, userID string, now time.Time, limit int) ([]domain.OfflineAction, error) {
	var out []domain.OfflineAction
	q := db.WithContext(ctx).
		Where("user_id = ? AND synced = ?", userID, false).
		Where("(rejected = ? OR retry_after <= ?)", false, now.UTC()).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListUnsyncedActions returns every unsynced record of the user, rejected
// ones included, in enqueue order.
func ListUnsyncedActions(ctx context.Context, db *gorm.DB, userID string) ([]domain.OfflineAction, error) {
	var out []domain.OfflineAction
	err := db.WithContext(ctx).
		Where("user_id = ? AND synced = ?", userID, false).
		Order("seq ASC").
		Find(&out).Error
	return out, err
}

// CountPendingActions returns the number of records that will still be
// replayed: unsynced and either never rejected or awaiting a retry.
func CountPendingActions(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.OfflineAction{}).
		Where("user_id = ? AND synced = ?", userID, false).
		Where("(rejected = ? OR retry_after IS NOT NULL)", false).
		Count(&n).Error
	return n, err
}

// MarkActionSynced flags a record as delivered.
func MarkActionSynced(ctx context.Context, db *gorm.DB, seq int64, at time.Time) error {
	at = at.UTC()
	return db.WithContext(ctx).
		Model(&domain.OfflineAction{}).
		Where("seq = ?", seq).
		Updates(map[string]any{
			"synced":      true,
			"synced_at":   at,
			"rejected":    false,
			"retry_after": nil,
			"last_error":  "",
		}).Error
}

// MarkActionFailed bumps the attempt counter and records the last error of a
// transient failure.
func MarkActionFailed(ctx context.Context, db *gorm.DB, seq int64, cause string) error {
	return db.WithContext(ctx).
		Model(&domain.OfflineAction{}).
		Where("seq = ?", seq).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": cause,
		}).Error
}

// MarkActionRejected records a refusal by the remote side. The record is
// replayed again at retryAfter; nil retires it.
func MarkActionRejected(ctx context.Context, db *gorm.DB, seq int64, cause string, retryAfter *time.Time) error {
	if retryAfter != nil {
		t := retryAfter.UTC()
		retryAfter = &t
	}
	return db.WithContext(ctx).
		Model(&domain.OfflineAction{}).
		Where("seq = ?", seq).
		Updates(map[string]any{
			"attempts":    gorm.Expr("attempts + 1"),
			"last_error":  cause,
			"rejected":    true,
			"retry_after": retryAfter,
		}).Error
}

// PurgeSyncedActions deletes synced records whose SyncedAt is before cutoff.
// Unsynced records are never purged.
func PurgeSyncedActions(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("synced = ? AND synced_at < ?", true, cutoff.UTC()).
		Delete(&domain.OfflineAction{})
	return res.RowsAffected, res.Error
}

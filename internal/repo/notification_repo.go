// Package repo implements the data persistence layer for the dose engine.
// This file provides repository functions for the durable local
// notification store backing the native and push channels.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dose-engine/internal/domain"
)

// CreateNotifications inserts pending notifications in one batch.
func CreateNotifications(ctx context.Context, db *gorm.DB, ns []domain.ScheduledNotification) error {
	if len(ns) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range ns {
		if ns[i].ID == "" {
			ns[i].ID = uuid.NewString()
		}
		if ns[i].State == "" {
			ns[i].State = domain.NotificationPending
		}
		ns[i].FireAt = ns[i].FireAt.UTC()
		if ns[i].CreatedAt.IsZero() {
			ns[i].CreatedAt = now
		}
	}
	return db.WithContext(ctx).Create(&ns).Error
}

// CancelPendingNotifications cancels the user's pending notifications on
// channel whose FireAt lies in [from, to]. Escalation re-fires are not
// stored here, so the escalation loop is unaffected.
func CancelPendingNotifications(ctx context.Context, db *gorm.DB, userID, channel string, from, to time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.ScheduledNotification{}).
		Where("user_id = ? AND channel = ? AND state = ? AND fire_at >= ? AND fire_at <= ?",
			userID, channel, domain.NotificationPending, from.UTC(), to.UTC()).
		Update("state", domain.NotificationCancelled)
	return res.RowsAffected, res.Error
}

// CancelDoseNotifications cancels every pending notification of one dose.
func CancelDoseNotifications(ctx context.Context, db *gorm.DB, doseID string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.ScheduledNotification{}).
		Where("dose_id = ? AND state = ?", doseID, domain.NotificationPending).
		Update("state", domain.NotificationCancelled)
	return res.RowsAffected, res.Error
}

// ListDueNotifications returns pending notifications of channel with
// FireAt <= now, oldest first.
func ListDueNotifications(ctx context.Context, db *gorm.DB, channel string, now time.Time, limit int) ([]domain.ScheduledNotification, error) {
	var out []domain.ScheduledNotification
	q := db.WithContext(ctx).
		Where("channel = ? AND state = ? AND fire_at <= ?", channel, domain.NotificationPending, now.UTC()).
		Order("fire_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListPendingNotifications returns the user's pending notifications, oldest first.
func ListPendingNotifications(ctx context.Context, db *gorm.DB, userID string) ([]domain.ScheduledNotification, error) {
	var out []domain.ScheduledNotification
	err := db.WithContext(ctx).
		Where("user_id = ? AND state = ?", userID, domain.NotificationPending).
		Order("fire_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ClaimNotification moves a pending notification to fired. It reports false
// when another dispatcher (or a cancel) got there first.
func ClaimNotification(ctx context.Context, db *gorm.DB, id string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.ScheduledNotification{}).
		Where("id = ? AND state = ?", id, domain.NotificationPending).
		Updates(map[string]any{
			"state":    domain.NotificationFired,
			"fired_at": at.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseNotification hands a claimed notification back after a failed
// delivery: attempts grows by one and the row returns to pending, or moves
// to failed once maxAttempts is reached (maxAttempts <= 0 never fails it).
// It returns the resulting state.
func ReleaseNotification(ctx context.Context, db *gorm.DB, id, cause string, maxAttempts int) (domain.NotificationState, error) {
	var next any = domain.NotificationPending
	if maxAttempts > 0 {
		next = gorm.Expr("CASE WHEN attempts + 1 >= ? THEN ? ELSE ? END",
			maxAttempts, domain.NotificationFailed, domain.NotificationPending)
	}
	err := db.WithContext(ctx).
		Model(&domain.ScheduledNotification{}).
		Where("id = ? AND state = ?", id, domain.NotificationFired).
		Updates(map[string]any{
			"state":      next,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": cause,
			"fired_at":   nil,
		}).Error
	if err != nil {
		return "", err
	}
	var row domain.ScheduledNotification
	if err := db.WithContext(ctx).Select("state").Where("id = ?", id).First(&row).Error; err != nil {
		return "", err
	}
	return row.State, nil
}

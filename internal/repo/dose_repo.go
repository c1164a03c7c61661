// Package repo implements the data persistence layer for the dose engine.
// This file provides repository functions for DoseInstance and DoseEvent.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no lifecycle rules here, only persistence and query composition.
// State changes are conditional updates (WHERE status = ?) so a concurrent
// writer that got there first is observed as zero affected rows rather than
// a lost update.
//
// Error semantics:
//   - Missing rows surface as ErrNotFound (gorm.ErrRecordNotFound).
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-dose-engine/internal/domain"
)

// InsertDoses inserts materialized instances, silently skipping any whose
// (schedule_id, original_due_at) already exists. It returns the number of
// rows actually inserted.
func InsertDoses(ctx context.Context, db *gorm.DB, doses []domain.DoseInstance) (int64, error) {
	if len(doses) == 0 {
		return 0, nil
	}
	for i := range doses {
		if doses[i].ID == "" {
			doses[i].ID = uuid.NewString()
		}
		if doses[i].Status == "" {
			doses[i].Status = domain.DoseScheduled
		}
		doses[i].DueAt = doses[i].DueAt.UTC()
		doses[i].OriginalDueAt = doses[i].OriginalDueAt.UTC()
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&doses)
	return res.RowsAffected, res.Error
}

// GetDose fetches a dose by ID with its item preloaded.
func GetDose(ctx context.Context, db *gorm.DB, id string) (*domain.DoseInstance, error) {
	var d domain.DoseInstance
	err := db.WithContext(ctx).
		Preload("Item").
		Where("id = ?", id).
		First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDoses returns the user's doses with OriginalDueAt in [from, to),
// ordered by current due time then ID, with items preloaded. A snooze never
// moves a dose out of the window it was scheduled in.
func ListDoses(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) ([]domain.DoseInstance, error) {
	var out []domain.DoseInstance
	err := db.WithContext(ctx).
		Preload("Item").
		Where("user_id = ? AND original_due_at >= ? AND original_due_at < ?", userID, from.UTC(), to.UTC()).
		Order("due_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListScheduledBetween returns the user's still-scheduled doses with DueAt in
// [from, to], items preloaded.
func ListScheduledBetween(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) ([]domain.DoseInstance, error) {
	var out []domain.DoseInstance
	err := db.WithContext(ctx).
		Preload("Item").
		Where("user_id = ? AND status = ? AND due_at >= ? AND due_at <= ?",
			userID, domain.DoseScheduled, from.UTC(), to.UTC()).
		Order("due_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListOverdue returns the user's scheduled doses due strictly before cutoff.
func ListOverdue(ctx context.Context, db *gorm.DB, userID string, cutoff time.Time) ([]domain.DoseInstance, error) {
	var out []domain.DoseInstance
	err := db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND due_at < ?", userID, domain.DoseScheduled, cutoff.UTC()).
		Order("due_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// TransitionDose applies updates to the dose only while it is still in
// state from. It reports whether the row changed.
func TransitionDose(ctx context.Context, db *gorm.DB, id string, from domain.DoseStatus, updates map[string]any) (bool, error) {
	updates["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.DoseInstance{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SnoozeDose pushes DueAt to dueAt and sets DelayMinutes, guarded by the
// previously observed delay so two concurrent snoozes cannot both apply on
// the same base.
func SnoozeDose(ctx context.Context, db *gorm.DB, id string, prevDelay, delay int, dueAt time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.DoseInstance{}).
		Where("id = ? AND status = ? AND delay_minutes = ?", id, domain.DoseScheduled, prevDelay).
		Updates(map[string]any{
			"due_at":        dueAt.UTC(),
			"delay_minutes": delay,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// LastTaken returns the most recent taken dose of itemID whose TakenAt is at
// or after since, ignoring excludeID. ErrNotFound when there is none.
func LastTaken(ctx context.Context, db *gorm.DB, itemID, excludeID string, since time.Time) (*domain.DoseInstance, error) {
	var d domain.DoseInstance
	err := db.WithContext(ctx).
		Where("item_id = ? AND id <> ? AND status = ? AND taken_at >= ?",
			itemID, excludeID, domain.DoseTaken, since.UTC()).
		Order("taken_at DESC").
		First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDoseEvent appends an audit row.
func CreateDoseEvent(ctx context.Context, db *gorm.DB, ev *domain.DoseEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	ev.At = ev.At.UTC()
	return db.WithContext(ctx).Create(ev).Error
}

// ListDoseEvents returns the audit trail of a dose, oldest first.
func ListDoseEvents(ctx context.Context, db *gorm.DB, doseID string) ([]domain.DoseEvent, error) {
	var out []domain.DoseEvent
	err := db.WithContext(ctx).
		Where("dose_id = ?", doseID).
		Order("at ASC, id ASC").
		Find(&out).Error
	return out, err
}

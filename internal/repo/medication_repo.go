// Package repo implements the data persistence layer for the dose engine.
// This file provides read and seed functions for medication items and their
// schedules. The item/schedule CRUD surface lives outside the engine; the
// engine only reads these tables.
package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dose-engine/internal/domain"
)

// CreateItem inserts a medication item, assigning a UUID when ID is empty.
func CreateItem(ctx context.Context, db *gorm.DB, it *domain.MedicationItem) error {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(it).Error
}

// GetItem fetches an item by ID, or ErrNotFound.
func GetItem(ctx context.Context, db *gorm.DB, id string) (*domain.MedicationItem, error) {
	var it domain.MedicationItem
	if err := db.WithContext(ctx).Where("id = ?", id).First(&it).Error; err != nil {
		return nil, err
	}
	return &it, nil
}

// GetItems loads the items with the given IDs keyed by ID.
func GetItems(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.MedicationItem, error) {
	out := make(map[string]domain.MedicationItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []domain.MedicationItem
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, it := range rows {
		out[it.ID] = it
	}
	return out, nil
}

// CreateSchedule inserts a schedule, assigning a UUID when ID is empty.
func CreateSchedule(ctx context.Context, db *gorm.DB, s *domain.Schedule) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(s).Error
}

// ListActiveSchedules returns the active schedules of the user's active items,
// with Item preloaded, ordered by item then schedule ID for deterministic
// materialization.
func ListActiveSchedules(ctx context.Context, db *gorm.DB, userID string) ([]domain.Schedule, error) {
	var out []domain.Schedule
	items := db.WithContext(ctx).Model(&domain.MedicationItem{}).
		Select("id").
		Where("user_id = ? AND active = ?", userID, true)
	err := db.WithContext(ctx).
		Preload("Item").
		Where("active = ? AND item_id IN (?)", true, items).
		Order("item_id ASC, id ASC").
		Find(&out).Error
	return out, err
}

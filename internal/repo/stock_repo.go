// Package repo implements the data persistence layer for the dose engine.
// This file provides repository functions for StockRecord.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dose-engine/internal/domain"
)

// GetStock returns the stock record of an item, or ErrNotFound when the item
// is untracked.
func GetStock(ctx context.Context, db *gorm.DB, itemID string) (*domain.StockRecord, error) {
	var s domain.StockRecord
	if err := db.WithContext(ctx).Where("item_id = ?", itemID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStocks loads the stock records of the given items keyed by item ID.
// Untracked items are absent from the map.
func GetStocks(ctx context.Context, db *gorm.DB, itemIDs []string) (map[string]domain.StockRecord, error) {
	out := make(map[string]domain.StockRecord, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	var rows []domain.StockRecord
	if err := db.WithContext(ctx).Where("item_id IN ?", itemIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, s := range rows {
		out[s.ItemID] = s
	}
	return out, nil
}

// DecrementStock removes one unit when at least one is left. It reports
// whether a unit was taken; false means the record is missing or empty.
func DecrementStock(ctx context.Context, db *gorm.DB, itemID string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.StockRecord{}).
		Where("item_id = ? AND units_left > 0", itemID).
		Updates(map[string]any{
			"units_left": gorm.Expr("units_left - 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AddStock adds units to an item, creating the record if needed, and raises
// UnitsTotal to at least the new UnitsLeft. Callers that need atomicity with
// other writes pass a transaction handle.
func AddStock(ctx context.Context, db *gorm.DB, itemID string, units int, at time.Time) (*domain.StockRecord, error) {
	at = at.UTC()
	var out *domain.StockRecord
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := GetStock(ctx, tx, itemID)
		if errors.Is(err, ErrNotFound) {
			out = &domain.StockRecord{
				ItemID:       itemID,
				UnitsLeft:    units,
				UnitsTotal:   units,
				LastRefillAt: &at,
				UpdatedAt:    at,
			}
			return tx.Create(out).Error
		}
		if err != nil {
			return err
		}
		cur.UnitsLeft += units
		if cur.UnitsTotal < cur.UnitsLeft {
			cur.UnitsTotal = cur.UnitsLeft
		}
		cur.LastRefillAt = &at
		cur.UpdatedAt = at
		out = cur
		return tx.Model(&domain.StockRecord{}).
			Where("item_id = ?", itemID).
			Updates(map[string]any{
				"units_left":     gorm.Expr("units_left + ?", units),
				"units_total":    cur.UnitsTotal,
				"last_refill_at": at,
				"updated_at":     at,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetStock overwrites an item's counters.
func SetStock(ctx context.Context, db *gorm.DB, rec *domain.StockRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Save(rec).Error
}

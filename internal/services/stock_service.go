// Package services – StockLedger
//
// The ledger is the read and refill side of stock tracking. Decrements only
// happen inside DoseService.Confirm so the intake and the unit it consumes
// commit together.
package services

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-dose-engine/internal/clock"
	"github.com/tbourn/go-dose-engine/internal/domain"
	"github.com/tbourn/go-dose-engine/internal/repo"
)

// StockLedger reads and refills per-item stock.
type StockLedger struct {
	DB    *gorm.DB
	Clock clock.Clock
}

// Get returns the stock record of itemID. ErrItemNotFound when the item does
// not exist, ErrNotTracked when it exists without a record.
func (s *StockLedger) Get(ctx context.Context, itemID string) (*domain.StockRecord, error) {
	rec, err := repo.GetStock(ctx, s.DB, itemID)
	if err == nil {
		return rec, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	if _, err := repo.GetItem(ctx, s.DB, itemID); err != nil {
		if isNotFound(err) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return nil, ErrNotTracked
}

// Refill adds units (> 0) to itemID and starts tracking it if it was not.
func (s *StockLedger) Refill(ctx context.Context, itemID string, units int) (*domain.StockRecord, error) {
	tr := otel.Tracer("services/StockLedger")
	ctx, span := tr.Start(ctx, "Refill", trace.WithAttributes(
		attribute.String("item.id", itemID),
		attribute.Int("stock.units", units),
	))
	defer span.End()

	if units <= 0 {
		return nil, ErrInvalidUnits
	}
	if _, err := repo.GetItem(ctx, s.DB, itemID); err != nil {
		if isNotFound(err) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	rec, err := repo.AddStock(ctx, s.DB, itemID, units, s.Clock.Now())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("refill %s: %w", itemID, err)
	}
	return rec, nil
}

package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-dose-engine/internal/domain"
)

func TestDecrementStock_StopsAtZero(t *testing.T) {
	db := newTestDB(t, &domain.StockRecord{})
	ctx := context.Background()
	if err := SetStock(ctx, db, &domain.StockRecord{ItemID: "i1", UnitsLeft: 1, UnitsTotal: 30}); err != nil {
		t.Fatalf("SetStock: %v", err)
	}

	ok, err := DecrementStock(ctx, db, "i1")
	if err != nil || !ok {
		t.Fatalf("first decrement = (%v, %v)", ok, err)
	}
	ok, err = DecrementStock(ctx, db, "i1")
	if err != nil || ok {
		t.Fatalf("decrement at zero should not apply, got (%v, %v)", ok, err)
	}
	got, _ := GetStock(ctx, db, "i1")
	if got.UnitsLeft != 0 {
		t.Fatalf("UnitsLeft = %d; want 0", got.UnitsLeft)
	}

	ok, err = DecrementStock(ctx, db, "untracked")
	if err != nil || ok {
		t.Fatalf("untracked item = (%v, %v)", ok, err)
	}
}

func TestAddStock_CreatesThenIncrements(t *testing.T) {
	db := newTestDB(t, &domain.StockRecord{})
	ctx := context.Background()
	at := time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)

	if _, err := GetStock(ctx, db, "i1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before refill, got %v", err)
	}
	rec, err := AddStock(ctx, db, "i1", 10, at)
	if err != nil || rec.UnitsLeft != 10 || rec.UnitsTotal != 10 {
		t.Fatalf("first AddStock = (%+v, %v)", rec, err)
	}
	rec, err = AddStock(ctx, db, "i1", 30, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("second AddStock: %v", err)
	}
	if rec.UnitsLeft != 40 || rec.UnitsTotal != 40 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	got, _ := GetStock(ctx, db, "i1")
	if got.UnitsLeft != 40 || got.LastRefillAt == nil || !got.LastRefillAt.Equal(at.Add(time.Hour)) {
		t.Fatalf("persisted record: %+v", got)
	}
}

func TestGetStocks_OmitsUntracked(t *testing.T) {
	db := newTestDB(t, &domain.StockRecord{})
	ctx := context.Background()
	_ = SetStock(ctx, db, &domain.StockRecord{ItemID: "i1", UnitsLeft: 3, UnitsTotal: 3})

	got, err := GetStocks(ctx, db, []string{"i1", "i2"})
	if err != nil {
		t.Fatalf("GetStocks: %v", err)
	}
	if len(got) != 1 || got["i1"].UnitsLeft != 3 {
		t.Fatalf("unexpected map: %+v", got)
	}
}

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/tbourn/go-dose-engine/internal/domain"
	"github.com/tbourn/go-dose-engine/internal/notify"
	"github.com/tbourn/go-dose-engine/internal/repo"
)

// TodayDose is one row of the today read model.
type TodayDose struct {
	ID            string            `json:"id"`
	ItemID        string            `json:"item_id"`
	Name          string            `json:"name"`
	DoseText      string            `json:"dose_text,omitempty"`
	WithFood      bool              `json:"with_food"`
	DueAt         time.Time         `json:"due_at"`
	OriginalDueAt time.Time         `json:"original_due_at"`
	Status        domain.DoseStatus `json:"status"`
	Snoozed       bool              `json:"snoozed"`
	DelayMinutes  int               `json:"delay_minutes"`
	TakenAt       *time.Time        `json:"taken_at,omitempty"`
	Profile       notify.Type       `json:"profile"`
	UnitsLeft     *int              `json:"units_left,omitempty"`
	LowStock      bool              `json:"low_stock"`
}

// TodayView is the user's dose list for the current local day.
type TodayView struct {
	Date   string          `json:"date"`
	Doses  []TodayDose     `json:"doses"`
	Counts repo.DoseCounts `json:"counts"`
}

// Today returns the user's doses originally due today (local time), so a
// dose snoozed past midnight stays on the day it was scheduled for. It
// materializes the day and runs the missed sweep first so the view never
// shows an overdue dose as still scheduled.
func (s *DoseService) Today(ctx context.Context, userID string) (*TodayView, error) {
	loc := s.location()
	now := s.Clock.Now()
	from := startOfDay(now, loc)
	to := from.AddDate(0, 0, 1)

	if s.Materializer != nil {
		if _, err := s.Materializer.Materialize(ctx, userID, from, to.Add(-time.Nanosecond)); err != nil {
			return nil, err
		}
	}
	if _, err := s.SweepMissed(ctx, userID, now); err != nil {
		return nil, err
	}

	doses, err := repo.ListDoses(ctx, s.DB, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list doses: %w", err)
	}
	ids := make([]string, 0, len(doses))
	for _, d := range doses {
		ids = append(ids, d.ItemID)
	}
	stocks, err := repo.GetStocks(ctx, s.DB, ids)
	if err != nil {
		return nil, fmt.Errorf("load stock: %w", err)
	}
	counts, err := repo.DoseStats(ctx, s.DB, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("dose stats: %w", err)
	}

	view := &TodayView{
		Date:   from.Format("2006-01-02"),
		Doses:  make([]TodayDose, 0, len(doses)),
		Counts: counts,
	}
	for _, d := range doses {
		row := TodayDose{
			ID:            d.ID,
			ItemID:        d.ItemID,
			DueAt:         d.DueAt.In(loc),
			OriginalDueAt: d.OriginalDueAt.In(loc),
			Status:        d.Status,
			Snoozed:       d.Snoozed(),
			DelayMinutes:  d.DelayMinutes,
			TakenAt:       d.TakenAt,
			Profile:       Classify(d, loc).Type,
		}
		if d.Item != nil {
			row.Name = d.Item.Name
			row.DoseText = d.Item.DoseText
			row.WithFood = d.Item.WithFood
		}
		if st, ok := stocks[d.ItemID]; ok {
			left := st.UnitsLeft
			row.UnitsLeft = &left
			row.LowStock = left <= s.LowStockThreshold
		}
		view.Doses = append(view.Doses, row)
	}
	return view, nil
}

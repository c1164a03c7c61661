// Package repo implements the data persistence layer for the dose engine.
// This file provides small aggregate queries used by the today view and the
// queue depth gauge.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dose-engine/internal/domain"
)

// DoseCounts is the per-status tally of a user's doses in a window.
type DoseCounts struct {
	Scheduled int64 `json:"scheduled"`
	Taken     int64 `json:"taken"`
	Missed    int64 `json:"missed"`
	Skipped   int64 `json:"skipped"`
}

// Total returns the number of doses counted.
func (c DoseCounts) Total() int64 { return c.Scheduled + c.Taken + c.Missed + c.Skipped }

// DoseStats counts the user's doses with OriginalDueAt in [from, to) grouped
// by status.
func DoseStats(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) (DoseCounts, error) {
	var rows []struct {
		Status domain.DoseStatus
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.DoseInstance{}).
		Select("status, COUNT(*) AS n").
		Where("user_id = ? AND original_due_at >= ? AND original_due_at < ?", userID, from.UTC(), to.UTC()).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return DoseCounts{}, err
	}
	var out DoseCounts
	for _, r := range rows {
		switch r.Status {
		case domain.DoseScheduled:
			out.Scheduled = r.N
		case domain.DoseTaken:
			out.Taken = r.N
		case domain.DoseMissed:
			out.Missed = r.N
		case domain.DoseSkipped:
			out.Skipped = r.N
		}
	}
	return out, nil
}

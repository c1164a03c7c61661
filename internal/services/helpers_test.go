package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-dose-engine/internal/clock"
	"github.com/tbourn/go-dose-engine/internal/domain"
	"github.com/tbourn/go-dose-engine/internal/repo"
)

// monday is 2025-03-10 00:00 UTC.
var monday = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func at(day time.Time, hh, mm int) time.Time {
	return day.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
}

func newTestDB(t *testing.T, suffix ...string) *gorm.DB {
	t.Helper()
	name := t.Name()
	for _, s := range suffix {
		name += "_" + s
	}
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))
	return db
}

func newDoseService(db *gorm.DB, clk clock.Clock) *DoseService {
	s := NewDoseService(db, clk, zerolog.Nop())
	s.Location = time.UTC
	return s
}

func seedItem(t *testing.T, db *gorm.DB, it domain.MedicationItem) domain.MedicationItem {
	t.Helper()
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.UserID == "" {
		it.UserID = "u1"
	}
	if it.Name == "" {
		it.Name = "Vitamin D"
	}
	if it.Category == "" {
		it.Category = domain.CategoryMedication
	}
	it.Active = true
	require.NoError(t, repo.CreateItem(context.Background(), db, &it))
	return it
}

func seedSchedule(t *testing.T, db *gorm.DB, s domain.Schedule) domain.Schedule {
	t.Helper()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Frequency == "" {
		s.Frequency = domain.FrequencyDaily
	}
	s.Active = true
	require.NoError(t, repo.CreateSchedule(context.Background(), db, &s))
	return s
}

func seedDose(t *testing.T, db *gorm.DB, it domain.MedicationItem, due time.Time) domain.DoseInstance {
	t.Helper()
	d := domain.DoseInstance{
		ID:            uuid.NewString(),
		UserID:        it.UserID,
		ItemID:        it.ID,
		ScheduleID:    "sched-" + it.ID,
		OriginalDueAt: due,
		DueAt:         due,
		Status:        domain.DoseScheduled,
	}
	n, err := repo.InsertDoses(context.Background(), db, []domain.DoseInstance{d})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	return d
}

func seedStock(t *testing.T, db *gorm.DB, itemID string, left, total int) {
	t.Helper()
	require.NoError(t, repo.SetStock(context.Background(), db, &domain.StockRecord{
		ItemID:     itemID,
		UnitsLeft:  left,
		UnitsTotal: total,
	}))
}

func unitsLeft(t *testing.T, db *gorm.DB, itemID string) int {
	t.Helper()
	rec, err := repo.GetStock(context.Background(), db, itemID)
	require.NoError(t, err)
	return rec.UnitsLeft
}

func reload(t *testing.T, db *gorm.DB, id string) domain.DoseInstance {
	t.Helper()
	d, err := repo.GetDose(context.Background(), db, id)
	require.NoError(t, err)
	return *d
}

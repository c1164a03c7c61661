package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-dose-engine/internal/domain"
	"github.com/tbourn/go-dose-engine/internal/repo"
)

func TestExpand(t *testing.T) {
	week := monday.Add(7*24*time.Hour - time.Minute)

	tests := []struct {
		name string
		s    domain.Schedule
		from time.Time
		to   time.Time
		want []time.Time
	}{
		{
			name: "daily two times over one day",
			s:    domain.Schedule{Frequency: domain.FrequencyDaily, Times: []string{"20:00", "08:00"}},
			from: monday, to: monday.Add(24*time.Hour - time.Minute),
			want: []time.Time{at(monday, 8, 0), at(monday, 20, 0)},
		},
		{
			name: "window starts mid-day",
			s:    domain.Schedule{Frequency: domain.FrequencyDaily, Times: []string{"08:00", "20:00"}},
			from: at(monday, 9, 0), to: at(monday, 21, 0),
			want: []time.Time{at(monday, 20, 0)},
		},
		{
			name: "specific days monday and wednesday",
			s:    domain.Schedule{Frequency: domain.FrequencySpecificDays, Times: []string{"09:00"}, Weekdays: []int{1, 3}},
			from: monday, to: week,
			want: []time.Time{at(monday, 9, 0), at(monday.AddDate(0, 0, 2), 9, 0)},
		},
		{
			name: "weekly falls back to start weekday",
			s: domain.Schedule{Frequency: domain.FrequencyWeekly, Times: []string{"07:30"},
				StartsOn: monday.AddDate(0, 0, 4)},
			from: monday, to: week,
			want: []time.Time{at(monday.AddDate(0, 0, 4), 7, 30)},
		},
		{
			name: "nothing before starts_on",
			s: domain.Schedule{Frequency: domain.FrequencyDaily, Times: []string{"08:00"},
				StartsOn: monday.AddDate(0, 0, 5)},
			from: monday, to: week,
			want: []time.Time{at(monday.AddDate(0, 0, 5), 8, 0), at(monday.AddDate(0, 0, 6), 8, 0)},
		},
		{
			name: "malformed times skipped",
			s:    domain.Schedule{Frequency: domain.FrequencyDaily, Times: []string{"25:00", "12:00", "x"}},
			from: monday, to: at(monday, 23, 0),
			want: []time.Time{at(monday, 12, 0)},
		},
		{
			name: "inverted window",
			s:    domain.Schedule{Frequency: domain.FrequencyDaily, Times: []string{"08:00"}},
			from: at(monday, 10, 0), to: at(monday, 9, 0),
			want: nil,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Expand(tc.s, tc.from, tc.to, time.UTC)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("Expand mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExpand_UsesLocalWallClock(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, loc)
	s := domain.Schedule{Frequency: domain.FrequencyDaily, Times: []string{"08:00"}}

	got := Expand(s, day, day.Add(23*time.Hour), loc)
	require.Len(t, got, 1)
	assert.Equal(t, time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC), got[0].UTC())
}

func TestMaterialize_IdempotentAcrossOverlappingWindows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	m := &Materializer{DB: db, Log: zerolog.Nop(), Location: time.UTC}

	it := seedItem(t, db, domain.MedicationItem{})
	seedSchedule(t, db, domain.Schedule{ItemID: it.ID, Times: []string{"08:00", "20:00"}})

	first, err := m.Materialize(ctx, "u1", monday, monday.Add(36*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 3, first.Inserted)

	second, err := m.Materialize(ctx, "u1", monday, monday.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, second.Candidates)
	assert.EqualValues(t, 1, second.Inserted)

	all, err := repo.ListDoses(ctx, db, "u1", monday, monday.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestMaterialize_SkipsInactiveItems(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	m := &Materializer{DB: db, Log: zerolog.Nop(), Location: time.UTC}

	it := seedItem(t, db, domain.MedicationItem{})
	seedSchedule(t, db, domain.Schedule{ItemID: it.ID, Times: []string{"08:00"}})
	require.NoError(t, db.Model(&domain.MedicationItem{}).Where("id = ?", it.ID).Update("active", false).Error)

	res, err := m.Materialize(ctx, "u1", monday, monday.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, res.Candidates)
}

func TestMaterialize_ReportsConflictsAndKeepsBoth(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	m := &Materializer{DB: db, Log: zerolog.Nop(), Location: time.UTC}

	it := seedItem(t, db, domain.MedicationItem{})
	a := seedSchedule(t, db, domain.Schedule{ItemID: it.ID, Times: []string{"08:00"}})
	b := seedSchedule(t, db, domain.Schedule{ItemID: it.ID, Times: []string{"08:00", "14:00"}})

	res, err := m.Materialize(ctx, "u1", monday, at(monday, 23, 59))
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Inserted)
	require.Len(t, res.Conflicts, 1)

	c := res.Conflicts[0]
	assert.Equal(t, it.ID, c.ItemID)
	assert.True(t, c.At.Equal(at(monday, 8, 0)))
	assert.ElementsMatch(t, []string{a.ID, b.ID}, c.ScheduleIDs)
}

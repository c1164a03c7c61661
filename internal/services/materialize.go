package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-dose-engine/internal/domain"
	"github.com/tbourn/go-dose-engine/internal/quiethours"
	"github.com/tbourn/go-dose-engine/internal/repo"
)

// Materializer turns active schedules into concrete DoseInstances.
// Re-running it over an overlapping window never duplicates an obligation.
type Materializer struct {
	DB       *gorm.DB
	Log      zerolog.Logger
	Location *time.Location
}

// ScheduleConflict is two schedules of one item producing a dose at the
// same instant.
type ScheduleConflict struct {
	ItemID      string
	At          time.Time
	ScheduleIDs []string
}

// MaterializeResult summarizes one Materialize call.
type MaterializeResult struct {
	Candidates int
	Inserted   int64
	Conflicts  []ScheduleConflict
}

// Materialize creates the user's doses due in [from, to]. Conflicting
// schedules are reported and logged; both doses are kept.
func (m *Materializer) Materialize(ctx context.Context, userID string, from, to time.Time) (MaterializeResult, error) {
	tr := otel.Tracer("services/Materializer")
	ctx, span := tr.Start(ctx, "Materialize", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("window.from", from.UTC().Format(time.RFC3339)),
		attribute.String("window.to", to.UTC().Format(time.RFC3339)),
	))
	defer span.End()

	var res MaterializeResult
	schedules, err := repo.ListActiveSchedules(ctx, m.DB, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("list schedules: %w", err)
	}

	loc := m.Location
	if loc == nil {
		loc = time.Local
	}

	type slot struct {
		item string
		at   int64
	}
	seen := make(map[slot][]string)
	var doses []domain.DoseInstance
	for _, s := range schedules {
		for _, at := range Expand(s, from, to, loc) {
			k := slot{item: s.ItemID, at: at.Unix()}
			seen[k] = append(seen[k], s.ID)
			doses = append(doses, domain.DoseInstance{
				UserID:        userID,
				ItemID:        s.ItemID,
				ScheduleID:    s.ID,
				OriginalDueAt: at,
				DueAt:         at,
				Status:        domain.DoseScheduled,
			})
		}
	}
	res.Candidates = len(doses)

	for k, ids := range seen {
		if len(ids) < 2 {
			continue
		}
		c := ScheduleConflict{ItemID: k.item, At: time.Unix(k.at, 0).In(loc), ScheduleIDs: ids}
		res.Conflicts = append(res.Conflicts, c)
		scheduleConflicts.Inc()
		m.Log.Warn().
			Err(ErrScheduleConflict).
			Str("item_id", c.ItemID).
			Time("due_at", c.At).
			Strs("schedule_ids", c.ScheduleIDs).
			Msg("two schedules produce the same dose")
	}
	sort.Slice(res.Conflicts, func(i, j int) bool {
		if res.Conflicts[i].At.Equal(res.Conflicts[j].At) {
			return res.Conflicts[i].ItemID < res.Conflicts[j].ItemID
		}
		return res.Conflicts[i].At.Before(res.Conflicts[j].At)
	})

	n, err := repo.InsertDoses(ctx, m.DB, doses)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("insert doses: %w", err)
	}
	res.Inserted = n
	span.SetAttributes(
		attribute.Int("dose.candidates", res.Candidates),
		attribute.Int64("dose.inserted", n),
		attribute.Int("dose.conflicts", len(res.Conflicts)),
	)
	return res, nil
}

// Expand returns the instants in [from, to] at which schedule s is due,
// evaluated in loc, in ascending order. Malformed times are skipped.
func Expand(s domain.Schedule, from, to time.Time, loc *time.Location) []time.Time {
	if loc == nil {
		loc = time.Local
	}
	var times []quiethours.ClockTime
	for _, raw := range s.Times {
		c, err := quiethours.ParseClock(raw)
		if err != nil {
			continue
		}
		times = append(times, c)
	}
	if len(times) == 0 || to.Before(from) {
		return nil
	}

	var first time.Time
	if !s.StartsOn.IsZero() {
		first = startOfDay(s.StartsOn, loc)
	}

	days := make(map[time.Weekday]bool, len(s.Weekdays))
	for _, wd := range s.Weekdays {
		days[time.Weekday(((wd%7)+7)%7)] = true
	}
	if s.Frequency == domain.FrequencyWeekly && len(days) == 0 {
		anchor := s.StartsOn
		if anchor.IsZero() {
			anchor = s.CreatedAt
		}
		days[anchor.In(loc).Weekday()] = true
	}

	var out []time.Time
	seen := make(map[int64]bool)
	for day := startOfDay(from, loc); !day.After(to); day = day.AddDate(0, 0, 1) {
		if !first.IsZero() && day.Before(first) {
			continue
		}
		if s.Frequency != domain.FrequencyDaily && !days[day.Weekday()] {
			continue
		}
		y, mo, d := day.Date()
		for _, c := range times {
			at := time.Date(y, mo, d, c.Hour, c.Minute, 0, 0, loc)
			if at.Before(from) || at.After(to) || seen[at.Unix()] {
				continue
			}
			seen[at.Unix()] = true
			out = append(out, at)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

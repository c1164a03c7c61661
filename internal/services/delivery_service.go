// Package services – DeliveryScheduler
//
// ScheduleWindow keeps the active channel in step with the dose store. Each
// pass materializes ahead, sweeps missed doses, then cancels and re-adds
// every pending notification in [now, now+horizon] so the channel always
// reflects the latest snoozes, confirmations and quiet-hours settings. A
// pass never blocks materialization on delivery problems.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-dose-engine/internal/channel"
	"github.com/tbourn/go-dose-engine/internal/clock"
	"github.com/tbourn/go-dose-engine/internal/quiethours"
	"github.com/tbourn/go-dose-engine/internal/repo"
)

// TriggerReschedule is the permission trigger point of the periodic pass.
const TriggerReschedule = "reschedule"

// PermissionChecker reports whether delivery is allowed.
type PermissionChecker interface {
	Ensure(ctx context.Context, trigger string) error
}

// WindowResult summarizes one ScheduleWindow pass.
type WindowResult struct {
	From             time.Time `json:"from"`
	To               time.Time `json:"to"`
	Materialized     int64     `json:"materialized"`
	Missed           int       `json:"missed"`
	Scheduled        int       `json:"scheduled"`
	Suppressed       int       `json:"suppressed"`
	PermissionDenied bool      `json:"permission_denied"`
}

// DeliveryScheduler hands the user's upcoming doses to the active channel.
type DeliveryScheduler struct {
	DB       *gorm.DB
	Clock    clock.Clock
	Log      zerolog.Logger
	Location *time.Location
	UserID   string

	Channel channel.Channel
	// Horizon is the default look-ahead; zero picks the channel default.
	Horizon time.Duration

	Materializer *Materializer
	Doses        *DoseService
	Settings     SettingsSource
	// Gate is optional; nil means permission is already granted.
	Gate PermissionChecker

	mu sync.Mutex
}

// ScheduleWindow runs one pass with look-ahead horizon (zero picks the
// scheduler default). ErrPermissionDenied is returned after materialization
// when delivery is not allowed; the result is still filled in.
func (s *DeliveryScheduler) ScheduleWindow(ctx context.Context, horizon time.Duration) (WindowResult, error) {
	if horizon <= 0 {
		horizon = s.Horizon
	}
	if horizon <= 0 {
		horizon = channel.DefaultHorizon(s.Channel.Kind())
	}
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	now := s.Clock.Now()
	res := WindowResult{From: now, To: now.Add(horizon)}

	tr := otel.Tracer("services/DeliveryScheduler")
	ctx, span := tr.Start(ctx, "ScheduleWindow", trace.WithAttributes(
		attribute.String("user.id", s.UserID),
		attribute.String("channel", string(s.Channel.Kind())),
		attribute.String("horizon", horizon.String()),
	))
	defer span.End()
	fail := func(err error) (WindowResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	if s.Materializer != nil {
		m, err := s.Materializer.Materialize(ctx, s.UserID, startOfDay(now, loc), res.To)
		if err != nil {
			return fail(err)
		}
		res.Materialized = m.Inserted
	}
	missed, err := s.Doses.SweepMissed(ctx, s.UserID, now)
	if err != nil {
		return fail(err)
	}
	res.Missed = len(missed)

	if s.Channel.Kind() == channel.KindNone {
		return res, nil
	}
	if s.Gate != nil {
		if err := s.Gate.Ensure(ctx, TriggerReschedule); err != nil {
			if errors.Is(err, ErrPermissionDenied) {
				res.PermissionDenied = true
			}
			return fail(err)
		}
	}

	q, err := s.Settings.QuietHours(ctx, s.UserID)
	if err != nil {
		return fail(fmt.Errorf("quiet hours: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.Channel.CancelWindow(ctx, res.From, res.To); err != nil {
		return fail(err)
	}
	doses, err := repo.ListScheduledBetween(ctx, s.DB, s.UserID, res.From, res.To)
	if err != nil {
		return fail(fmt.Errorf("list scheduled: %w", err))
	}

	payloads := make([]channel.Payload, 0, len(doses))
	for _, d := range doses {
		if quiethours.IsQuiet(d.DueAt.In(loc), q) {
			res.Suppressed++
			notificationsSuppressed.WithLabelValues("quiet_hours").Inc()
			s.Log.Debug().Str("dose_id", d.ID).Time("due_at", d.DueAt).Msg("delivery suppressed by quiet hours")
			continue
		}
		p := Classify(d, loc)
		payloads = append(payloads, BuildPayload(d, p))
		notificationsScheduled.WithLabelValues(string(s.Channel.Kind()), p.Type.String()).Inc()
	}
	if err := s.Channel.Schedule(ctx, payloads); err != nil {
		return fail(err)
	}
	res.Scheduled = len(payloads)

	span.SetAttributes(
		attribute.Int("notifications.scheduled", res.Scheduled),
		attribute.Int("notifications.suppressed", res.Suppressed),
	)
	s.Log.Debug().
		Int("scheduled", res.Scheduled).
		Int("suppressed", res.Suppressed).
		Int("missed", res.Missed).
		Int64("materialized", res.Materialized).
		Msg("delivery window scheduled")
	return res, nil
}

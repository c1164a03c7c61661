// Package services – DoseService
//
// This file implements the dose lifecycle state machine. A dose starts in
// scheduled and ends in exactly one of taken, missed or skipped; snoozing
// keeps it scheduled while moving DueAt. Every mutation runs in a single
// transaction together with its side effects (stock decrement, audit event),
// and observers are told after commit so escalation and pending
// notifications for the dose can be cancelled.
//
// Re-applying a transition whose target already holds is a no-op that
// returns the current instance; this is what makes offline replays safe.
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

	"github.com/tbourn/go-dose-engine/internal/clock"
	"github.com/tbourn/go-dose-engine/internal/domain"
	"github.com/tbourn/go-dose-engine/internal/repo"
)

// Transition sources recorded on audit events and metrics.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
	SourceSweep  = "sweep"
)

// ConfirmOptions tunes Confirm.
type ConfirmOptions struct {
	// Force bypasses the duplicate-intake guard.
	Force bool
	// At is the intake time; zero means now.
	At time.Time
}

// TransitionFunc observes a committed transition.
type TransitionFunc func(ctx context.Context, d domain.DoseInstance)

// DoseService owns every DoseInstance mutation.
type DoseService struct {
	DB    *gorm.DB
	Clock clock.Clock
	Log   zerolog.Logger

	// DuplicateWindow is how far back a previous intake of the same item
	// triggers the duplicate warning. Zero disables the guard.
	DuplicateWindow time.Duration
	// MissedGrace is how long past DueAt a scheduled dose stays open before
	// the sweep marks it missed.
	MissedGrace time.Duration
	// LowStockThreshold flags items at or below this many units in Today.
	LowStockThreshold int
	// Location is the user's zone; "today" is computed in it.
	Location *time.Location
	// Materializer, when set, makes Today materialize the current day first.
	Materializer *Materializer
	// ReceiptTTL, when positive, stores an action receipt with every local
	// transition made through LocalActions. A queued copy replayed against a
	// handler sharing this store then finds it and has no second effect.
	ReceiptTTL time.Duration

	mu        sync.RWMutex
	observers []TransitionFunc
}

// NewDoseService returns a DoseService with the default 4h duplicate
// window and 60m missed grace.
func NewDoseService(db *gorm.DB, clk clock.Clock, log zerolog.Logger) *DoseService {
	return &DoseService{
		DB:                db,
		Clock:             clk,
		Log:               log,
		DuplicateWindow:   4 * time.Hour,
		MissedGrace:       time.Hour,
		LowStockThreshold: 5,
		Location:          time.Local,
	}
}

// OnTransition registers fn to run after every committed transition.
func (s *DoseService) OnTransition(fn TransitionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Get returns a dose by ID.
func (s *DoseService) Get(ctx context.Context, doseID string) (*domain.DoseInstance, error) {
	return s.load(ctx, s.DB, doseID)
}

// Events returns the audit trail of a dose, oldest first.
func (s *DoseService) Events(ctx context.Context, doseID string) ([]domain.DoseEvent, error) {
	if _, err := s.load(ctx, s.DB, doseID); err != nil {
		return nil, err
	}
	return repo.ListDoseEvents(ctx, s.DB, doseID)
}

// Status returns the current status of a dose.
func (s *DoseService) Status(ctx context.Context, doseID string) (domain.DoseStatus, error) {
	var d domain.DoseInstance
	err := s.DB.WithContext(ctx).Select("status").Where("id = ?", doseID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrDoseNotFound
	}
	if err != nil {
		return "", err
	}
	return d.Status, nil
}

// Confirm marks a dose taken, decrementing tracked stock by one.
//
// Errors:
//   - ErrDoseNotFound when the dose does not exist.
//   - ErrInvalidTransition when the dose is missed or skipped.
//   - ErrOutOfStock when the item's stock is tracked and empty.
//   - *DuplicateDoseWarning when another dose of the item was taken within
//     DuplicateWindow and opts.Force is false.
//
// Confirming an already-taken dose returns it unchanged.
func (s *DoseService) Confirm(ctx context.Context, doseID string, opts ConfirmOptions) (*domain.DoseInstance, error) {
	ctx, span := s.span(ctx, "Confirm", doseID)
	defer span.End()
	span.SetAttributes(attribute.Bool("dose.force", opts.Force))

	return s.run(ctx, span, SourceLocal, func(tx *gorm.DB) (*domain.DoseInstance, bool, error) {
		return s.confirmTx(ctx, tx, doseID, opts, SourceLocal)
	})
}

func (s *DoseService) confirmReceipted(ctx context.Context, doseID string, opts ConfirmOptions) (*domain.DoseInstance, error) {
	ctx, span := s.span(ctx, "Confirm", doseID)
	defer span.End()
	span.SetAttributes(attribute.Bool("dose.force", opts.Force))

	return s.run(ctx, span, SourceLocal, func(tx *gorm.DB) (*domain.DoseInstance, bool, error) {
		d, changed, err := s.confirmTx(ctx, tx, doseID, opts, SourceLocal)
		if err != nil {
			return nil, false, err
		}
		at := opts.At
		if d.TakenAt != nil {
			at = *d.TakenAt
		}
		req := domain.ActionRequest{DoseID: doseID, Action: domain.ActionTaken, Timestamp: at}
		return d, changed, s.receipt(ctx, tx, req, d.Status)
	})
}

// Snooze pushes a scheduled dose back by minutes (1..1440). Status stays
// scheduled; DelayMinutes accumulates.
func (s *DoseService) Snooze(ctx context.Context, doseID string, minutes int) (*domain.DoseInstance, error) {
	ctx, span := s.span(ctx, "Snooze", doseID)
	defer span.End()
	span.SetAttributes(attribute.Int("dose.snooze_minutes", minutes))

	return s.run(ctx, span, SourceLocal, func(tx *gorm.DB) (*domain.DoseInstance, bool, error) {
		return s.snoozeTx(ctx, tx, doseID, minutes, SourceLocal)
	})
}

func (s *DoseService) snoozeReceipted(ctx context.Context, doseID string, minutes int, at time.Time) (*domain.DoseInstance, error) {
	ctx, span := s.span(ctx, "Snooze", doseID)
	defer span.End()
	span.SetAttributes(attribute.Int("dose.snooze_minutes", minutes))

	return s.run(ctx, span, SourceLocal, func(tx *gorm.DB) (*domain.DoseInstance, bool, error) {
		d, changed, err := s.snoozeTx(ctx, tx, doseID, minutes, SourceLocal)
		if err != nil {
			return nil, false, err
		}
		req := domain.ActionRequest{DoseID: doseID, Action: domain.ActionSnooze, Minutes: minutes, Timestamp: at}
		return d, changed, s.receipt(ctx, tx, req, d.Status)
	})
}

// Skip marks a dose skipped. Skipping an already-skipped dose is a no-op.
func (s *DoseService) Skip(ctx context.Context, doseID string) (*domain.DoseInstance, error) {
	ctx, span := s.span(ctx, "Skip", doseID)
	defer span.End()

	return s.run(ctx, span, SourceLocal, func(tx *gorm.DB) (*domain.DoseInstance, bool, error) {
		return s.skipTx(ctx, tx, doseID, SourceLocal)
	})
}

func (s *DoseService) skipReceipted(ctx context.Context, doseID string, at time.Time) (*domain.DoseInstance, error) {
	ctx, span := s.span(ctx, "Skip", doseID)
	defer span.End()

	return s.run(ctx, span, SourceLocal, func(tx *gorm.DB) (*domain.DoseInstance, bool, error) {
		d, changed, err := s.skipTx(ctx, tx, doseID, SourceLocal)
		if err != nil {
			return nil, false, err
		}
		req := domain.ActionRequest{DoseID: doseID, Action: domain.ActionSkip, Timestamp: at}
		return d, changed, s.receipt(ctx, tx, req, d.Status)
	})
}

// receipt stores the action receipt for req inside tx unless ReceiptTTL is
// zero or a live receipt already holds the key.
func (s *DoseService) receipt(ctx context.Context, tx *gorm.DB, req domain.ActionRequest, status domain.DoseStatus) error {
	if s.ReceiptTTL <= 0 {
		return nil
	}
	now := s.Clock.Now()
	if _, err := repo.GetReceipt(ctx, tx, req.Key(), now); err == nil {
		return nil
	} else if !isNotFound(err) {
		return err
	}
	_, err := repo.CreateReceipt(ctx, tx, req, string(status), now, s.ReceiptTTL)
	return err
}

// SweepMissed marks the user's scheduled doses missed once DueAt is more
// than MissedGrace before now. It returns the doses it transitioned. A
// missed dose never returns to any other state.
func (s *DoseService) SweepMissed(ctx context.Context, userID string, now time.Time) ([]domain.DoseInstance, error) {
	tr := otel.Tracer("services/DoseService")
	ctx, span := tr.Start(ctx, "SweepMissed", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	cutoff := now.Add(-s.MissedGrace)
	var missed []domain.DoseInstance
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		missed = missed[:0]
		overdue, err := repo.ListOverdue(ctx, tx, userID, cutoff)
		if err != nil {
			return err
		}
		for _, d := range overdue {
			ok, err := repo.TransitionDose(ctx, tx, d.ID, domain.DoseScheduled, map[string]any{
				"status": domain.DoseMissed,
			})
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := s.event(ctx, tx, d, domain.DoseMissed, "sweep", SourceSweep); err != nil {
				return err
			}
			d.Status = domain.DoseMissed
			missed = append(missed, d)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("sweep missed: %w", err)
	}
	span.SetAttributes(attribute.Int("dose.missed", len(missed)))
	for _, d := range missed {
		s.transitioned(ctx, d, SourceSweep)
	}
	return missed, nil
}

// applyTx applies a wire action inside tx. Replayed confirmations bypass the
// duplicate guard: the user already acknowledged the intake on the device.
func (s *DoseService) applyTx(ctx context.Context, tx *gorm.DB, req domain.ActionRequest, source string) (*domain.DoseInstance, bool, error) {
	switch req.Action {
	case domain.ActionTaken:
		return s.confirmTx(ctx, tx, req.DoseID, ConfirmOptions{Force: true, At: req.Timestamp}, source)
	case domain.ActionSnooze:
		return s.snoozeTx(ctx, tx, req.DoseID, req.Minutes, source)
	case domain.ActionSkip:
		return s.skipTx(ctx, tx, req.DoseID, source)
	}
	return nil, false, fmt.Errorf("%w: %q", ErrInvalidAction, req.Action)
}

func (s *DoseService) confirmTx(ctx context.Context, tx *gorm.DB, doseID string, opts ConfirmOptions, source string) (*domain.DoseInstance, bool, error) {
	at := opts.At
	if at.IsZero() {
		at = s.Clock.Now()
	}
	d, err := s.load(ctx, tx, doseID)
	if err != nil {
		return nil, false, err
	}
	switch d.Status {
	case domain.DoseTaken:
		return d, false, nil
	case domain.DoseScheduled:
	default:
		return nil, false, fmt.Errorf("%w: dose is %s", ErrInvalidTransition, d.Status)
	}

	stock, err := repo.GetStock(ctx, tx, d.ItemID)
	tracked := err == nil
	if err != nil && !isNotFound(err) {
		return nil, false, err
	}
	if tracked && stock.UnitsLeft <= 0 {
		return nil, false, ErrOutOfStock
	}

	if !opts.Force && s.DuplicateWindow > 0 {
		prev, err := repo.LastTaken(ctx, tx, d.ItemID, d.ID, at.Add(-s.DuplicateWindow))
		switch {
		case err == nil && prev.TakenAt != nil:
			return nil, false, &DuplicateDoseWarning{
				DoseID:          d.ID,
				PreviousDoseID:  prev.ID,
				PreviousTakenAt: *prev.TakenAt,
			}
		case err != nil && !isNotFound(err):
			return nil, false, err
		}
	}

	ok, err := repo.TransitionDose(ctx, tx, d.ID, domain.DoseScheduled, map[string]any{
		"status":   domain.DoseTaken,
		"taken_at": at.UTC(),
	})
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return s.settled(ctx, tx, doseID, domain.DoseTaken)
	}
	if tracked {
		took, err := repo.DecrementStock(ctx, tx, d.ItemID)
		if err != nil {
			return nil, false, err
		}
		if !took {
			return nil, false, ErrOutOfStock
		}
	}
	if err := s.event(ctx, tx, *d, domain.DoseTaken, string(domain.ActionTaken), source); err != nil {
		return nil, false, err
	}
	d.Status = domain.DoseTaken
	d.TakenAt = &at
	return d, true, nil
}

func (s *DoseService) snoozeTx(ctx context.Context, tx *gorm.DB, doseID string, minutes int, source string) (*domain.DoseInstance, bool, error) {
	if minutes < 1 || minutes > 24*60 {
		return nil, false, ErrInvalidSnooze
	}
	for attempt := 0; attempt < 3; attempt++ {
		d, err := s.load(ctx, tx, doseID)
		if err != nil {
			return nil, false, err
		}
		if d.Status != domain.DoseScheduled {
			return nil, false, fmt.Errorf("%w: dose is %s", ErrInvalidTransition, d.Status)
		}
		due := d.DueAt.Add(time.Duration(minutes) * time.Minute)
		delay := d.DelayMinutes + minutes
		ok, err := repo.SnoozeDose(ctx, tx, d.ID, d.DelayMinutes, delay, due)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		d.DueAt = due
		d.DelayMinutes = delay
		if err := s.event(ctx, tx, *d, domain.DoseScheduled, string(domain.ActionSnooze), source); err != nil {
			return nil, false, err
		}
		return d, true, nil
	}
	return nil, false, fmt.Errorf("snooze %s: concurrent update", doseID)
}

func (s *DoseService) skipTx(ctx context.Context, tx *gorm.DB, doseID, source string) (*domain.DoseInstance, bool, error) {
	d, err := s.load(ctx, tx, doseID)
	if err != nil {
		return nil, false, err
	}
	switch d.Status {
	case domain.DoseSkipped:
		return d, false, nil
	case domain.DoseScheduled:
	default:
		return nil, false, fmt.Errorf("%w: dose is %s", ErrInvalidTransition, d.Status)
	}
	ok, err := repo.TransitionDose(ctx, tx, d.ID, domain.DoseScheduled, map[string]any{
		"status": domain.DoseSkipped,
	})
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return s.settled(ctx, tx, doseID, domain.DoseSkipped)
	}
	if err := s.event(ctx, tx, *d, domain.DoseSkipped, string(domain.ActionSkip), source); err != nil {
		return nil, false, err
	}
	d.Status = domain.DoseSkipped
	return d, true, nil
}

// settled resolves a lost conditional update: if another writer already
// reached want, the call is an idempotent success.
func (s *DoseService) settled(ctx context.Context, tx *gorm.DB, doseID string, want domain.DoseStatus) (*domain.DoseInstance, bool, error) {
	d, err := s.load(ctx, tx, doseID)
	if err != nil {
		return nil, false, err
	}
	if d.Status == want {
		return d, false, nil
	}
	return nil, false, fmt.Errorf("%w: dose is %s", ErrInvalidTransition, d.Status)
}

func (s *DoseService) run(ctx context.Context, span trace.Span, source string, fn func(tx *gorm.DB) (*domain.DoseInstance, bool, error)) (*domain.DoseInstance, error) {
	var (
		out     *domain.DoseInstance
		changed bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, changed, err = fn(tx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("dose.changed", changed), attribute.String("dose.status", string(out.Status)))
	if changed {
		s.transitioned(ctx, *out, source)
	}
	return out, nil
}

func (s *DoseService) transitioned(ctx context.Context, d domain.DoseInstance, source string) {
	doseTransitions.WithLabelValues(string(d.Status), source).Inc()
	s.Log.Info().
		Str("dose_id", d.ID).
		Str("item_id", d.ItemID).
		Str("status", string(d.Status)).
		Int("delay_minutes", d.DelayMinutes).
		Str("source", source).
		Msg("dose transitioned")

	s.mu.RLock()
	obs := append([]TransitionFunc(nil), s.observers...)
	s.mu.RUnlock()
	for _, fn := range obs {
		fn(ctx, d)
	}
}

func (s *DoseService) event(ctx context.Context, tx *gorm.DB, d domain.DoseInstance, to domain.DoseStatus, action, source string) error {
	return repo.CreateDoseEvent(ctx, tx, &domain.DoseEvent{
		DoseID:       d.ID,
		ItemID:       d.ItemID,
		From:         d.Status,
		To:           to,
		Action:       action,
		Source:       source,
		DelayMinutes: d.DelayMinutes,
		At:           s.Clock.Now(),
	})
}

func (s *DoseService) load(ctx context.Context, db *gorm.DB, doseID string) (*domain.DoseInstance, error) {
	d, err := repo.GetDose(ctx, db, doseID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrDoseNotFound
		}
		return nil, err
	}
	return d, nil
}

func (s *DoseService) span(ctx context.Context, name, doseID string) (context.Context, trace.Span) {
	tr := otel.Tracer("services/DoseService")
	return tr.Start(ctx, name, trace.WithAttributes(attribute.String("dose.id", doseID)))
}

func (s *DoseService) location() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}

// isNotFound treats repo-level not found sentinels as "not found".
func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

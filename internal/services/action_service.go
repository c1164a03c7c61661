// Package services – ActionService
//
// ActionService is the remote dose-action handler: it applies replayed
// device actions exactly once per (dose, action, timestamp). A receipt row is
// written in the same transaction as the transition, so a retried request
// either finds the receipt and returns the current dose, or applies the
// action together with its receipt.
package services

import (
	"context"
	"errors"
	"fmt"
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

// errReplayed aborts the apply transaction when a concurrent request already
// stored the receipt.
var errReplayed = errors.New("action already applied")

// ActionResult is the outcome of Apply.
type ActionResult struct {
	Dose     *domain.DoseInstance `json:"dose"`
	Replayed bool                 `json:"replayed"`
}

// ActionService applies idempotent dose actions.
type ActionService struct {
	DB    *gorm.DB
	Clock clock.Clock
	Log   zerolog.Logger
	Doses *DoseService
	// ReceiptTTL is how long a receipt answers replays.
	ReceiptTTL time.Duration
}

// Apply validates and applies req once. Replays return the current dose with
// Replayed set.
func (s *ActionService) Apply(ctx context.Context, req domain.ActionRequest) (ActionResult, error) {
	tr := otel.Tracer("services/ActionService")
	ctx, span := tr.Start(ctx, "Apply", trace.WithAttributes(
		attribute.String("dose.id", req.DoseID),
		attribute.String("dose.action", string(req.Action)),
	))
	defer span.End()

	req, err := normalizeAction(req)
	if err != nil {
		return ActionResult{}, err
	}

	if _, err := repo.GetReceipt(ctx, s.DB, req.Key(), s.Clock.Now()); err == nil {
		span.SetAttributes(attribute.Bool("dose.replayed", true))
		return s.replayed(ctx, req)
	} else if !isNotFound(err) {
		return ActionResult{}, err
	}

	var (
		out     *domain.DoseInstance
		changed bool
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := repo.CreateReceipt(ctx, tx, req, "pending", s.Clock.Now(), s.ReceiptTTL)
		if err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return errReplayed
			}
			return err
		}
		out, changed, err = s.Doses.applyTx(ctx, tx, req, SourceRemote)
		if err != nil {
			return err
		}
		return repo.UpdateReceiptStatus(ctx, tx, rec.ID, string(out.Status))
	})
	if errors.Is(err, errReplayed) {
		span.SetAttributes(attribute.Bool("dose.replayed", true))
		return s.replayed(ctx, req)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ActionResult{}, err
	}
	if changed {
		s.Doses.transitioned(ctx, *out, SourceRemote)
	}
	return ActionResult{Dose: out}, nil
}

// Send applies req in-process. It lets the offline queue replay against a
// co-located handler; rule violations come back as *RejectedError. An
// unknown dose stays a plain error: it may not be materialized here yet.
func (s *ActionService) Send(ctx context.Context, req domain.ActionRequest) error {
	_, err := s.Apply(ctx, req)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrOutOfStock),
		errors.Is(err, ErrInvalidAction),
		errors.Is(err, ErrInvalidSnooze):
		return &RejectedError{Err: err}
	}
	return err
}

// PurgeReceipts deletes expired receipts.
func (s *ActionService) PurgeReceipts(ctx context.Context) (int64, error) {
	return repo.DeleteExpiredReceipts(ctx, s.DB, s.Clock.Now())
}

func (s *ActionService) replayed(ctx context.Context, req domain.ActionRequest) (ActionResult, error) {
	d, err := s.Doses.Get(ctx, req.DoseID)
	if err != nil {
		return ActionResult{}, err
	}
	s.Log.Debug().Str("dose_id", req.DoseID).Str("action", string(req.Action)).Msg("dose action replayed")
	return ActionResult{Dose: d, Replayed: true}, nil
}

func normalizeAction(req domain.ActionRequest) (domain.ActionRequest, error) {
	if req.DoseID == "" {
		return req, fmt.Errorf("%w: dose id is required", ErrInvalidAction)
	}
	k, ok := domain.ParseActionKind(string(req.Action))
	if !ok {
		return req, fmt.Errorf("%w: %q", ErrInvalidAction, req.Action)
	}
	req.Action = k
	if req.Timestamp.IsZero() {
		return req, fmt.Errorf("%w: timestamp is required", ErrInvalidAction)
	}
	if k == domain.ActionSnooze && (req.Minutes < 1 || req.Minutes > 24*60) {
		return req, ErrInvalidSnooze
	}
	if k != domain.ActionSnooze {
		req.Minutes = 0
	}
	return req, nil
}

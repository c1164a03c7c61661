// Package services – ActionQueue
//
// Local dose actions are applied to the device store first and then queued
// for the remote handler (outbox). Sync replays the queue in enqueue order.
// A failing record stays queued and holds back later records of the same
// dose for the rest of the pass, so the remote side never sees a snooze
// before the confirmation it followed. Other doses keep flowing. A refused
// record is set aside and tried again after RejectedRetry until it has been
// attempted MaxAttempts times.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-dose-engine/internal/clock"
	"github.com/tbourn/go-dose-engine/internal/domain"
	"github.com/tbourn/go-dose-engine/internal/repo"
)

// ActionSender delivers one action to the remote handler.
type ActionSender interface {
	Send(ctx context.Context, req domain.ActionRequest) error
}

// RejectedError is a refusal by the remote handler that an immediate retry
// cannot fix.
type RejectedError struct {
	Err error
}

func (e *RejectedError) Error() string { return "rejected: " + e.Err.Error() }
func (e *RejectedError) Unwrap() error { return e.Err }
func (e *RejectedError) Permanent() bool { return true }

// IsPermanent reports whether err (or anything it wraps) says retrying is
// pointless.
func IsPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}

// SyncReport summarizes one Sync pass.
type SyncReport struct {
	Attempted int `json:"attempted"`
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Rejected  int `json:"rejected"`
	Blocked   int `json:"blocked"`
}

// ActionQueue is the durable offline action queue.
type ActionQueue struct {
	DB     *gorm.DB
	Clock  clock.Clock
	Log    zerolog.Logger
	UserID string
	Remote ActionSender

	// Retention is how long synced records are kept.
	Retention time.Duration
	// RequestTimeout bounds each remote call.
	RequestTimeout time.Duration
	// BatchSize caps the records replayed per pass.
	BatchSize int
	// RejectedRetry is how long a refused record waits before its next
	// replay. Zero retires refused records at once.
	RejectedRetry time.Duration
	// MaxAttempts retires a refused record once it has been tried this many
	// times. Zero means no cap.
	MaxAttempts int

	syncMu sync.Mutex
}

// NewActionQueue returns a queue with 7 day retention that retries refused
// records every 6h, five attempts at most.
func NewActionQueue(db *gorm.DB, clk clock.Clock, userID string, remote ActionSender, log zerolog.Logger) *ActionQueue {
	return &ActionQueue{
		DB:             db,
		Clock:          clk,
		Log:            log.With().Str("component", "offline_queue").Logger(),
		UserID:         userID,
		Remote:         remote,
		Retention:      7 * 24 * time.Hour,
		RequestTimeout: 10 * time.Second,
		BatchSize:      200,
		RejectedRetry:  6 * time.Hour,
		MaxAttempts:    5,
	}
}

// Enqueue records an action for replay, stamped with the current time.
func (q *ActionQueue) Enqueue(ctx context.Context, doseID string, action domain.ActionKind, minutes int) (*domain.OfflineAction, error) {
	return q.enqueueAt(ctx, doseID, action, minutes, q.Clock.Now())
}

func (q *ActionQueue) enqueueAt(ctx context.Context, doseID string, action domain.ActionKind, minutes int, at time.Time) (*domain.OfflineAction, error) {
	if doseID == "" {
		return nil, fmt.Errorf("%w: dose id is required", ErrInvalidAction)
	}
	if _, ok := domain.ParseActionKind(string(action)); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	if action == domain.ActionSnooze && (minutes < 1 || minutes > 24*60) {
		return nil, ErrInvalidSnooze
	}
	if action != domain.ActionSnooze {
		minutes = 0
	}
	a := &domain.OfflineAction{
		ID:        uuid.NewString(),
		UserID:    q.UserID,
		DoseID:    doseID,
		Action:    action,
		Minutes:   minutes,
		Timestamp: at.UTC(),
	}
	if err := repo.EnqueueAction(ctx, q.DB, a); err != nil {
		return nil, fmt.Errorf("enqueue action: %w", err)
	}
	q.refreshGauge(ctx)
	return a, nil
}

// Pending returns every unsynced record in replay order. Refused records are
// included with Rejected set; RetryAfter tells when they are tried again.
func (q *ActionQueue) Pending(ctx context.Context) ([]domain.OfflineAction, error) {
	return repo.ListUnsyncedActions(ctx, q.DB, q.UserID)
}

// Sync replays pending records. Only one pass runs at a time; a concurrent
// call returns an empty report. When any record failed the error wraps
// ErrSyncFailure and the last cause.
func (q *ActionQueue) Sync(ctx context.Context) (SyncReport, error) {
	var rep SyncReport
	if !q.syncMu.TryLock() {
		return rep, nil
	}
	defer q.syncMu.Unlock()

	tr := otel.Tracer("services/ActionQueue")
	ctx, span := tr.Start(ctx, "Sync", trace.WithAttributes(attribute.String("user.id", q.UserID)))
	defer span.End()
	defer q.refreshGauge(ctx)

	pending, err := repo.ListPendingActions(ctx, q.DB, q.UserID, q.Clock.Now(), q.BatchSize)
	if err != nil {
		return rep, fmt.Errorf("%w: list pending: %w", ErrSyncFailure, err)
	}

	blocked := make(map[string]bool)
	var lastErr error
	for _, a := range pending {
		if ctx.Err() != nil {
			break
		}
		if blocked[a.DoseID] {
			rep.Blocked++
			continue
		}
		rep.Attempted++
		log := q.Log.With().Int64("seq", a.Seq).Str("dose_id", a.DoseID).Str("action", string(a.Action)).Logger()

		err := q.send(ctx, a.Request())
		switch {
		case err == nil:
			if err := repo.MarkActionSynced(ctx, q.DB, a.Seq, q.Clock.Now()); err != nil {
				return rep, fmt.Errorf("%w: mark synced: %w", ErrSyncFailure, err)
			}
			rep.Synced++
			offlineReplays.WithLabelValues("synced").Inc()
		case IsPermanent(err):
			retry := q.retryAfter(a)
			if merr := repo.MarkActionRejected(ctx, q.DB, a.Seq, err.Error(), retry); merr != nil {
				return rep, fmt.Errorf("%w: mark rejected: %w", ErrSyncFailure, merr)
			}
			rep.Rejected++
			offlineReplays.WithLabelValues("rejected").Inc()
			ev := log.Warn().Err(err).Int("attempts", a.Attempts+1)
			if retry != nil {
				ev = ev.Time("retry_after", *retry)
			}
			ev.Msg("offline action rejected by remote")
		default:
			if merr := repo.MarkActionFailed(ctx, q.DB, a.Seq, err.Error()); merr != nil {
				return rep, fmt.Errorf("%w: mark failed: %w", ErrSyncFailure, merr)
			}
			rep.Failed++
			blocked[a.DoseID] = true
			lastErr = err
			offlineReplays.WithLabelValues("failed").Inc()
			log.Debug().Err(err).Msg("offline action replay failed")
		}
	}

	span.SetAttributes(
		attribute.Int("queue.synced", rep.Synced),
		attribute.Int("queue.failed", rep.Failed),
		attribute.Int("queue.rejected", rep.Rejected),
	)
	if lastErr != nil {
		span.RecordError(lastErr)
		return rep, fmt.Errorf("%w: %d of %d records left queued: %w", ErrSyncFailure, rep.Failed+rep.Blocked, len(pending), lastErr)
	}
	return rep, nil
}

// Purge deletes synced records older than Retention.
func (q *ActionQueue) Purge(ctx context.Context, now time.Time) (int64, error) {
	n, err := repo.PurgeSyncedActions(ctx, q.DB, now.Add(-q.Retention))
	if err != nil {
		return 0, fmt.Errorf("purge synced actions: %w", err)
	}
	if n > 0 {
		q.Log.Info().Int64("purged", n).Msg("synced offline actions purged")
	}
	return n, nil
}

// retryAfter returns when a refused record is replayed again, or nil once
// it is retired.
func (q *ActionQueue) retryAfter(a domain.OfflineAction) *time.Time {
	if q.RejectedRetry <= 0 || (q.MaxAttempts > 0 && a.Attempts+1 >= q.MaxAttempts) {
		return nil
	}
	t := q.Clock.Now().Add(q.RejectedRetry)
	return &t
}

func (q *ActionQueue) send(ctx context.Context, req domain.ActionRequest) error {
	if q.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.RequestTimeout)
		defer cancel()
	}
	return q.Remote.Send(ctx, req)
}

func (q *ActionQueue) refreshGauge(ctx context.Context) {
	n, err := repo.CountPendingActions(ctx, q.DB, q.UserID)
	if err != nil {
		return
	}
	offlinePending.Set(float64(n))
}

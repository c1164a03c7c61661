package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-dose-engine/internal/domain"
)

// LocalActions applies user actions to the device store and queues them for
// the remote handler. The local result is authoritative for the UI; a queue
// failure is logged and does not undo it. The queued record carries the same
// timestamp as the receipt Doses stores when its ReceiptTTL is set.
type LocalActions struct {
	Doses *DoseService
	Queue *ActionQueue
	Log   zerolog.Logger
	// Kick, when set, asks the sync loop for an early pass.
	Kick func()
}

// Confirm marks the dose taken locally and queues the action with the
// intake time as its timestamp.
func (l *LocalActions) Confirm(ctx context.Context, doseID string, opts ConfirmOptions) (*domain.DoseInstance, error) {
	if opts.At.IsZero() {
		opts.At = l.Doses.Clock.Now()
	}
	d, err := l.Doses.confirmReceipted(ctx, doseID, opts)
	if err != nil {
		return nil, err
	}
	at := opts.At
	if d.TakenAt != nil {
		at = *d.TakenAt
	}
	l.enqueue(ctx, doseID, domain.ActionTaken, 0, at)
	return d, nil
}

// Snooze snoozes locally and queues the action.
func (l *LocalActions) Snooze(ctx context.Context, doseID string, minutes int) (*domain.DoseInstance, error) {
	at := l.Doses.Clock.Now()
	d, err := l.Doses.snoozeReceipted(ctx, doseID, minutes, at)
	if err != nil {
		return nil, err
	}
	l.enqueue(ctx, doseID, domain.ActionSnooze, minutes, at)
	return d, nil
}

// Skip skips locally and queues the action.
func (l *LocalActions) Skip(ctx context.Context, doseID string) (*domain.DoseInstance, error) {
	at := l.Doses.Clock.Now()
	d, err := l.Doses.skipReceipted(ctx, doseID, at)
	if err != nil {
		return nil, err
	}
	l.enqueue(ctx, doseID, domain.ActionSkip, 0, at)
	return d, nil
}

func (l *LocalActions) enqueue(ctx context.Context, doseID string, action domain.ActionKind, minutes int, at time.Time) {
	if l.Queue == nil {
		return
	}
	if _, err := l.Queue.enqueueAt(ctx, doseID, action, minutes, at); err != nil {
		l.Log.Error().Err(err).Str("dose_id", doseID).Str("action", string(action)).Msg("queue dose action")
		return
	}
	if l.Kick != nil {
		l.Kick()
	}
}

// Package services defines the dose engine's business logic: the dose
// lifecycle, stock ledger, delivery scheduling, escalation and the offline
// action queue. This file centralizes the service-level error values so they
// can be returned consistently and mapped to HTTP results by the handlers.
package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDoseNotFound indicates that the dose instance does not exist.
	ErrDoseNotFound = errors.New("dose not found")

	// ErrItemNotFound indicates that the medication item does not exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrInvalidTransition is returned when an action targets a dose in a
	// state that does not allow it (every terminal state).
	ErrInvalidTransition = errors.New("invalid dose transition")

	// ErrOutOfStock is returned when confirming a dose whose tracked stock
	// has no units left. Nothing is changed.
	ErrOutOfStock = errors.New("out of stock")

	// ErrDuplicateDose flags a confirmation while another dose of the same
	// item was taken within the duplicate window. It is always wrapped in a
	// *DuplicateDoseWarning.
	ErrDuplicateDose = errors.New("dose of this item already taken recently")

	// ErrInvalidSnooze is returned for snooze durations outside 1..1440 minutes.
	ErrInvalidSnooze = errors.New("snooze minutes must be between 1 and 1440")

	// ErrInvalidAction is returned for unknown action kinds or malformed
	// action requests.
	ErrInvalidAction = errors.New("invalid dose action")

	// ErrInvalidUnits is returned when a refill amount is not positive.
	ErrInvalidUnits = errors.New("units must be positive")

	// ErrNotTracked is returned when reading stock of an item without a
	// stock record.
	ErrNotTracked = errors.New("stock not tracked for item")

	// ErrInvalidQuietHours is returned for malformed quiet-hours settings.
	ErrInvalidQuietHours = errors.New("invalid quiet hours")

	// ErrPermissionDenied is returned when notification permission was
	// refused. Materialization continues; only delivery is skipped.
	ErrPermissionDenied = errors.New("notification permission denied")

	// ErrSyncFailure wraps the cause of an offline queue replay that left
	// records behind. It is logged, never shown to the user.
	ErrSyncFailure = errors.New("offline sync failed")

	// ErrScheduleConflict marks two schedules of one item producing a dose
	// at the same minute. Both doses are kept.
	ErrScheduleConflict = errors.New("schedule conflict")
)

// DuplicateDoseWarning carries the previous intake that triggered the
// duplicate guard. errors.Is(err, ErrDuplicateDose) holds for it.
type DuplicateDoseWarning struct {
	DoseID          string
	PreviousDoseID  string
	PreviousTakenAt time.Time
}

func (w *DuplicateDoseWarning) Error() string {
	return fmt.Sprintf("%s: previous dose %s taken at %s",
		ErrDuplicateDose, w.PreviousDoseID, w.PreviousTakenAt.UTC().Format(time.RFC3339))
}

// Unwrap exposes ErrDuplicateDose.
func (w *DuplicateDoseWarning) Unwrap() error { return ErrDuplicateDose }

package domain

import (
	"fmt"
	"strings"
	"time"
)

// ActionKind is a user action on a dose that must reach the remote handler.
type ActionKind string

const (
	ActionTaken  ActionKind = "taken"
	ActionSnooze ActionKind = "snooze"
	ActionSkip   ActionKind = "skip"
)

// ParseActionKind validates an action name.
func ParseActionKind(s string) (ActionKind, bool) {
	switch ActionKind(strings.ToLower(strings.TrimSpace(s))) {
	case ActionTaken:
		return ActionTaken, true
	case ActionSnooze:
		return ActionSnooze, true
	case ActionSkip:
		return ActionSkip, true
	}
	return "", false
}

// ActionRequest is the payload accepted by the remote dose-action handler.
// (DoseID, Action, Timestamp) is the idempotency key.
type ActionRequest struct {
	DoseID    string     `json:"dose_id"           binding:"required,max=64"`
	Action    ActionKind `json:"action"            binding:"required,oneof=taken snooze skip"`
	Minutes   int        `json:"minutes,omitempty" binding:"omitempty,min=1,max=1440"`
	Timestamp time.Time  `json:"timestamp"         binding:"required"`
}

// Key derives the idempotency key for the request.
func (r ActionRequest) Key() string {
	return fmt.Sprintf("%s:%s:%d", r.DoseID, r.Action, r.Timestamp.UTC().UnixMilli())
}

// OfflineAction is a queued ActionRequest awaiting replay against the remote
// handler. Seq is the enqueue order; replay always follows it.
//
// A record stays in the table until it is synced and older than the
// retention window. Rejected marks a refusal by the remote side. A rejected
// record is replayed again at RetryAfter; once RetryAfter is nil it is kept
// for inspection only.
type OfflineAction struct {
	Seq       int64      `json:"seq"                  gorm:"primaryKey;autoIncrement"`
	ID        string     `json:"id"                   gorm:"type:char(36);not null;uniqueIndex"`
	UserID    string     `json:"user_id"              gorm:"type:varchar(64);not null;index:idx_queue_pending,priority:1"`
	DoseID    string     `json:"dose_id"              gorm:"type:char(36);not null;index"`
	Action    ActionKind `json:"action"               gorm:"type:varchar(16);not null;check:action IN ('taken','snooze','skip')"`
	Minutes   int        `json:"minutes"              gorm:"not null;default:0"`
	Timestamp time.Time  `json:"timestamp"            gorm:"not null"`
	Synced    bool       `json:"synced"               gorm:"not null;default:false;index:idx_queue_pending,priority:2"`
	SyncedAt  *time.Time `json:"synced_at,omitempty"`
	Rejected   bool       `json:"rejected"              gorm:"not null;default:false"`
	RetryAfter *time.Time `json:"retry_after,omitempty"`
	Attempts   int        `json:"attempts"              gorm:"not null;default:0"`
	LastError  string     `json:"last_error,omitempty"  gorm:"type:text"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TableName returns the database table name for OfflineAction.
func (OfflineAction) TableName() string { return "offline_actions" }

// Request converts the queued record into the wire request.
func (a OfflineAction) Request() ActionRequest {
	return ActionRequest{DoseID: a.DoseID, Action: a.Action, Minutes: a.Minutes, Timestamp: a.Timestamp}
}

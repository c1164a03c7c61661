package domain

import "time"

// ActionReceipt records a dose action already applied by the remote handler,
// keyed by the request's idempotency key (dose id, action, timestamp). A
// replayed request that finds a live receipt is acknowledged without
// re-running side effects.
type ActionReceipt struct {
	ID        string     `gorm:"type:text;not null;primaryKey"`
	Key       string     `gorm:"type:text;not null;uniqueIndex:ux_receipt_key"`
	DoseID    string     `gorm:"type:text;not null;index"`
	Action    ActionKind `gorm:"type:text;not null"`
	Timestamp time.Time  `gorm:"not null"`
	Status    string     `gorm:"type:text;not null"`
	CreatedAt time.Time  `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time  `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (ActionReceipt) TableName() string { return "action_receipts" }

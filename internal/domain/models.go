// Package domain defines the persistence models for medications, schedules,
// dose instances and stock. These types are mapped with GORM and shared by the
// repository, service and HTTP layers.
package domain

import (
	"time"
)

// Category classifies a medication item.
type Category string

const (
	CategoryMedication Category = "medication"
	CategoryVitamin    Category = "vitamin"
	CategorySupplement Category = "supplement"
	CategoryOther      Category = "other"
)

// MedicationItem is something the user takes on a schedule. Items are owned
// by the medication CRUD surface; the dose engine only reads them.
//
// Fields:
//   - Category: free-form classification; the classifier also looks for
//     importance markers here ("antibiotic", "essential", ...).
//   - NotificationType: optional explicit profile override
//     (gentle|normal|urgent|critical).
//   - DoseText: human dose description used in notification bodies ("50 mg").
type MedicationItem struct {
	ID               string    `json:"id"                          gorm:"type:char(36);primaryKey"`
	UserID           string    `json:"user_id"                     gorm:"type:varchar(64);not null;index:idx_user_items"`
	Name             string    `json:"name"                        gorm:"type:varchar(255);not null"`
	Category         Category  `json:"category"                    gorm:"type:varchar(64);not null;default:'medication'"`
	Active           bool      `json:"active"                      gorm:"not null"`
	WithFood         bool      `json:"with_food"                   gorm:"not null;default:false"`
	Notes            string    `json:"notes"                       gorm:"type:text"`
	DoseText         string    `json:"dose_text"                   gorm:"type:varchar(128)"`
	NotificationType *string   `json:"notification_type,omitempty" gorm:"type:varchar(16)"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name for MedicationItem.
func (MedicationItem) TableName() string { return "medication_items" }

// Frequency is the recurrence kind of a Schedule.
type Frequency string

const (
	FrequencyDaily        Frequency = "daily"
	FrequencySpecificDays Frequency = "specific_days"
	FrequencyWeekly       Frequency = "weekly"
)

// Schedule is the recurring rule that generates dose instances for one item.
//
// Times holds ordered "HH:MM" values in the user's local zone. Weekdays uses
// 0=Sunday and is consulted for specific_days and weekly frequencies; a weekly
// schedule without weekdays recurs on the weekday of StartsOn.
type Schedule struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	ItemID    string    `json:"item_id"    gorm:"type:char(36);not null;index"`
	Frequency Frequency `json:"frequency"  gorm:"type:varchar(16);not null;check:frequency IN ('daily','specific_days','weekly')"`
	Times     []string  `json:"times"      gorm:"serializer:json;not null"`
	Weekdays  []int     `json:"weekdays"   gorm:"serializer:json"`
	Active    bool      `json:"active"     gorm:"not null"`
	StartsOn  time.Time `json:"starts_on"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Item *MedicationItem `json:"-" gorm:"foreignKey:ItemID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Schedule.
func (Schedule) TableName() string { return "schedules" }

// DoseStatus is the lifecycle state of a DoseInstance.
type DoseStatus string

const (
	DoseScheduled DoseStatus = "scheduled"
	DoseTaken     DoseStatus = "taken"
	DoseMissed    DoseStatus = "missed"
	DoseSkipped   DoseStatus = "skipped"
)

// Terminal reports whether no further transition is allowed from s.
func (s DoseStatus) Terminal() bool {
	return s == DoseTaken || s == DoseMissed || s == DoseSkipped
}

// DoseInstance is one concrete obligation to take an item at DueAt.
//
// Instances are materialized from a Schedule; (ScheduleID, OriginalDueAt) is
// unique so re-materializing a window never duplicates an obligation. Rows are
// never deleted. Snoozing moves DueAt and accumulates DelayMinutes while the
// status stays scheduled; "snoozed" is derived via Snoozed().
type DoseInstance struct {
	ID            string     `json:"id"              gorm:"type:char(36);primaryKey"`
	UserID        string     `json:"user_id"         gorm:"type:varchar(64);not null;index:idx_user_due,priority:1"`
	ItemID        string     `json:"item_id"         gorm:"type:char(36);not null;index:idx_item_status,priority:1"`
	ScheduleID    string     `json:"schedule_id"     gorm:"type:char(36);not null;uniqueIndex:ux_dose_obligation,priority:1"`
	OriginalDueAt time.Time  `json:"original_due_at" gorm:"not null;uniqueIndex:ux_dose_obligation,priority:2"`
	DueAt         time.Time  `json:"due_at"          gorm:"not null;index:idx_user_due,priority:2"`
	Status        DoseStatus `json:"status"          gorm:"type:varchar(16);not null;default:'scheduled';index:idx_item_status,priority:2;check:status IN ('scheduled','taken','missed','skipped')"`
	TakenAt       *time.Time `json:"taken_at,omitempty"`
	DelayMinutes  int        `json:"delay_minutes"   gorm:"not null;default:0"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Item *MedicationItem `json:"item,omitempty" gorm:"foreignKey:ItemID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for DoseInstance.
func (DoseInstance) TableName() string { return "dose_instances" }

// Snoozed reports whether the dose has been pushed back at least once.
func (d DoseInstance) Snoozed() bool { return d.DelayMinutes > 0 }

// StockRecord tracks remaining units of one item. Items without a record are
// untracked and never block confirmation.
type StockRecord struct {
	ItemID       string     `json:"item_id"        gorm:"type:char(36);primaryKey"`
	UnitsLeft    int        `json:"units_left"     gorm:"not null;default:0;check:units_left >= 0"`
	UnitsTotal   int        `json:"units_total"    gorm:"not null;default:0"`
	LastRefillAt *time.Time `json:"last_refill_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName returns the database table name for StockRecord.
func (StockRecord) TableName() string { return "stock_records" }

// DoseEvent is the audit trail of dose transitions.
type DoseEvent struct {
	ID           string     `json:"id"            gorm:"type:char(36);primaryKey"`
	DoseID       string     `json:"dose_id"       gorm:"type:char(36);not null;index"`
	ItemID       string     `json:"item_id"       gorm:"type:char(36);not null"`
	From         DoseStatus `json:"from"          gorm:"type:varchar(16);not null"`
	To           DoseStatus `json:"to"            gorm:"type:varchar(16);not null"`
	Action       string     `json:"action"        gorm:"type:varchar(16);not null"`
	Source       string     `json:"source"        gorm:"type:varchar(16);not null"`
	DelayMinutes int        `json:"delay_minutes" gorm:"not null;default:0"`
	At           time.Time  `json:"at"            gorm:"not null"`
}

// TableName returns the database table name for DoseEvent.
func (DoseEvent) TableName() string { return "dose_events" }

package domain

import "time"

// NotificationState is the lifecycle of a durable scheduled notification.
type NotificationState string

const (
	NotificationPending   NotificationState = "pending"
	NotificationFired     NotificationState = "fired"
	NotificationCancelled NotificationState = "cancelled"
	// NotificationFailed is terminal: delivery kept failing past the
	// channel's attempt cap.
	NotificationFailed NotificationState = "failed"
)

// ScheduledNotification is a row of the durable local notification store.
// Pending rows survive process restarts; the dispatcher fires them once
// FireAt has passed.
type ScheduledNotification struct {
	ID            string            `json:"id"             gorm:"type:char(36);primaryKey"`
	UserID        string            `json:"user_id"        gorm:"type:varchar(64);not null;index:idx_notif_window,priority:1"`
	DoseID        string            `json:"dose_id"        gorm:"type:char(36);not null;index"`
	ItemID        string            `json:"item_id"        gorm:"type:char(36);not null"`
	ItemName      string            `json:"item_name"      gorm:"type:varchar(255);not null;default:''"`
	Channel       string            `json:"channel"        gorm:"type:varchar(16);not null"`
	State         NotificationState `json:"state"          gorm:"type:varchar(16);not null;default:'pending';index:idx_notif_window,priority:2"`
	FireAt        time.Time         `json:"fire_at"        gorm:"not null;index:idx_notif_window,priority:3"`
	Profile       string            `json:"profile"        gorm:"type:varchar(16);not null"`
	Title         string            `json:"title"          gorm:"type:varchar(255);not null"`
	Body          string            `json:"body"           gorm:"type:text;not null"`
	Icon          string            `json:"icon"           gorm:"type:varchar(64)"`
	Sound         string            `json:"sound"          gorm:"type:varchar(64)"`
	Vibration     []int             `json:"vibration"      gorm:"serializer:json"`
	Priority      int               `json:"priority"       gorm:"not null;default:0"`
	RepeatSeconds int               `json:"repeat_seconds" gorm:"not null;default:0"`
	Escalation    bool              `json:"escalation"     gorm:"not null;default:false"`
	Attempts      int               `json:"attempts"       gorm:"not null;default:0"`
	LastError     string            `json:"last_error,omitempty" gorm:"type:text"`
	FiredAt       *time.Time        `json:"fired_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// TableName returns the database table name for ScheduledNotification.
func (ScheduledNotification) TableName() string { return "scheduled_notifications" }

// PushRegistration is the device's delivery address for server-initiated
// push. Registered is false until the remote registry has accepted it.
type PushRegistration struct {
	UserID     string    `json:"user_id"              gorm:"type:varchar(64);primaryKey"`
	Token      string    `json:"token"                gorm:"type:text;not null"`
	Enabled    bool      `json:"enabled"              gorm:"not null"`
	Registered bool      `json:"registered"           gorm:"not null;default:false"`
	Attempts   int       `json:"attempts"             gorm:"not null;default:0"`
	LastError  string    `json:"last_error,omitempty" gorm:"type:text"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for PushRegistration.
func (PushRegistration) TableName() string { return "push_registrations" }

// Permission is the recorded answer of the notification permission prompt.
type Permission string

const (
	PermissionUnknown Permission = "unknown"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// UserSettings holds locally persisted preferences: quiet hours and the last
// notification permission answer.
type UserSettings struct {
	UserID            string     `json:"user_id"             gorm:"type:varchar(64);primaryKey"`
	QuietEnabled      bool       `json:"quiet_enabled"       gorm:"not null;default:false"`
	QuietStart        string     `json:"quiet_start"         gorm:"type:varchar(5);not null;default:'22:00'"`
	QuietEnd          string     `json:"quiet_end"           gorm:"type:varchar(5);not null;default:'07:00'"`
	Permission        Permission `json:"permission"          gorm:"type:varchar(16);not null;default:'unknown'"`
	PermissionAskedAt *time.Time `json:"permission_asked_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName returns the database table name for UserSettings.
func (UserSettings) TableName() string { return "user_settings" }

package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dose-engine/internal/channel"
	"github.com/tbourn/go-dose-engine/internal/domain"
	"github.com/tbourn/go-dose-engine/internal/quiethours"
	"github.com/tbourn/go-dose-engine/internal/services"
)

// DoseReader builds the today view.
type DoseReader interface {
	Today(ctx context.Context, userID string) (*services.TodayView, error)
}

// DoseActions applies user actions to a dose. The daemon backs it with
// services.LocalActions so each action is also queued for the remote side.
type DoseActions interface {
	Confirm(ctx context.Context, doseID string, opts services.ConfirmOptions) (*domain.DoseInstance, error)
	Snooze(ctx context.Context, doseID string, minutes int) (*domain.DoseInstance, error)
	Skip(ctx context.Context, doseID string) (*domain.DoseInstance, error)
}

// DoseHistory reads the audit trail of a dose.
type DoseHistory interface {
	Events(ctx context.Context, doseID string) ([]domain.DoseEvent, error)
}

// SettingsService reads and writes per-user quiet hours.
type SettingsService interface {
	QuietHours(ctx context.Context, userID string) (quiethours.QuietHours, error)
	SetQuietHours(ctx context.Context, userID string, enabled bool, start, end string) (quiethours.QuietHours, error)
}

// StockService is the stock ledger.
type StockService interface {
	Get(ctx context.Context, itemID string) (*domain.StockRecord, error)
	Refill(ctx context.Context, itemID string, units int) (*domain.StockRecord, error)
}

// PushService registers the device push token.
type PushService interface {
	Register(ctx context.Context, userID, token string, enabled bool) (*domain.PushRegistration, error)
}

// ActionApplier is the remote dose-action handler.
type ActionApplier interface {
	Apply(ctx context.Context, req domain.ActionRequest) (services.ActionResult, error)
}

// SyncService is the offline action queue.
type SyncService interface {
	Sync(ctx context.Context) (services.SyncReport, error)
	Pending(ctx context.Context) ([]domain.OfflineAction, error)
}

// Scheduler runs a delivery pass on demand.
type Scheduler interface {
	ScheduleWindow(ctx context.Context, horizon time.Duration) (services.WindowResult, error)
}

// NotificationLister lists notifications the channel has yet to fire.
type NotificationLister interface {
	Pending(ctx context.Context) ([]channel.Payload, error)
}

// Services groups the dependencies of Handlers. A nil member leaves its
// routes unregistered.
type Services struct {
	Doses    DoseReader
	History  DoseHistory
	Actions  DoseActions
	Settings SettingsService
	Stock    StockService
	Push     PushService
	Remote   ActionApplier
	Sync     SyncService
	Delivery Scheduler
	Outbox   NotificationLister
	// Location renders profile previews; nil means UTC.
	Location *time.Location
}

// Handlers groups the HTTP endpoints of the dose engine.
type Handlers struct {
	svc         Services
	defaultUser string
}

// New constructs Handlers. defaultUser is used when a request carries no
// user identity.
func New(svc Services, defaultUser string) *Handlers {
	if svc.Location == nil {
		svc.Location = time.UTC
	}
	return &Handlers{svc: svc, defaultUser: defaultUser}
}

// Has reports which optional services are wired, for route registration.
func (h *Handlers) Has() Services { return h.svc }

// userID extracts the user id from the Gin context (set by upstream
// middleware), then the X-User-ID header, then the configured default.
func (h *Handlers) userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c.Request != nil {
		if v := strings.TrimSpace(c.GetHeader("X-User-ID")); v != "" {
			return v
		}
	}
	return h.defaultUser
}

package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-dose-engine/internal/domain"
)

// Prompter asks the platform for notification permission.
type Prompter interface {
	Request(ctx context.Context) (granted bool, err error)
}

// StaticPrompter always answers Granted. Headless daemons use it with the
// answer taken from configuration.
type StaticPrompter struct {
	Granted bool
}

// Request returns p.Granted.
func (p StaticPrompter) Request(context.Context) (bool, error) { return p.Granted, nil }

// PermissionGate asks for notification permission at most once per trigger
// point per session. A stored grant short-circuits the prompt entirely; a
// denial is recorded and surfaced as ErrPermissionDenied without blocking
// anything but delivery.
type PermissionGate struct {
	Settings *SettingsService
	Prompter Prompter
	UserID   string
	Log      zerolog.Logger

	mu      sync.Mutex
	session *cache.Cache
}

// NewPermissionGate returns a gate whose session lasts sessionTTL.
func NewPermissionGate(settings *SettingsService, prompter Prompter, userID string, sessionTTL time.Duration, log zerolog.Logger) *PermissionGate {
	return &PermissionGate{
		Settings: settings,
		Prompter: prompter,
		UserID:   userID,
		Log:      log,
		session:  cache.New(sessionTTL, sessionTTL),
	}
}

// Ensure returns nil when notifications may be delivered.
func (g *PermissionGate) Ensure(ctx context.Context, trigger string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	stored, err := g.Settings.Permission(ctx, g.UserID)
	if err != nil {
		return fmt.Errorf("read permission: %w", err)
	}
	if stored == domain.PermissionGranted {
		return nil
	}
	if v, ok := g.session.Get(trigger); ok {
		if v.(bool) {
			return nil
		}
		return ErrPermissionDenied
	}

	granted, err := g.Prompter.Request(ctx)
	if err != nil {
		return fmt.Errorf("request permission: %w", err)
	}
	g.session.SetDefault(trigger, granted)
	if err := g.Settings.RecordPermission(ctx, g.UserID, granted); err != nil {
		return fmt.Errorf("record permission: %w", err)
	}
	g.Log.Info().Str("trigger", trigger).Bool("granted", granted).Msg("notification permission answered")
	if !granted {
		notificationsSuppressed.WithLabelValues("permission").Inc()
		return ErrPermissionDenied
	}
	return nil
}

// Reset starts a new session; every trigger may prompt again.
func (g *PermissionGate) Reset() {
	g.session.Flush()
}

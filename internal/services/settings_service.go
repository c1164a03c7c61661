package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/tbourn/go-dose-engine/internal/clock"
	"github.com/tbourn/go-dose-engine/internal/domain"
	"github.com/tbourn/go-dose-engine/internal/quiethours"
	"github.com/tbourn/go-dose-engine/internal/repo"
)

// SettingsSource resolves a user's quiet hours at evaluation time.
type SettingsSource interface {
	QuietHours(ctx context.Context, userID string) (quiethours.QuietHours, error)
}

// SettingsService persists per-user quiet hours and the permission answer.
// Users without a stored row get Defaults.
type SettingsService struct {
	DB       *gorm.DB
	Clock    clock.Clock
	Defaults quiethours.QuietHours
}

// QuietHours returns the user's stored window or Defaults.
func (s *SettingsService) QuietHours(ctx context.Context, userID string) (quiethours.QuietHours, error) {
	st, err := repo.GetSettings(ctx, s.DB, userID)
	if err != nil {
		if isNotFound(err) {
			return s.Defaults, nil
		}
		return quiethours.QuietHours{}, err
	}
	q, err := quiethours.Parse(st.QuietEnabled, st.QuietStart, st.QuietEnd)
	if err != nil {
		return quiethours.QuietHours{}, fmt.Errorf("%w: stored window: %v", ErrInvalidQuietHours, err)
	}
	return q, nil
}

// SetQuietHours validates and stores the window.
func (s *SettingsService) SetQuietHours(ctx context.Context, userID string, enabled bool, start, end string) (quiethours.QuietHours, error) {
	q, err := quiethours.Parse(enabled, start, end)
	if err != nil {
		return quiethours.QuietHours{}, fmt.Errorf("%w: %v", ErrInvalidQuietHours, err)
	}
	if err := repo.SaveQuietHours(ctx, s.DB, userID, q.Enabled, q.Start.String(), q.End.String()); err != nil {
		return quiethours.QuietHours{}, err
	}
	return q, nil
}

// Permission returns the recorded permission answer, unknown if never asked.
func (s *SettingsService) Permission(ctx context.Context, userID string) (domain.Permission, error) {
	st, err := repo.GetSettings(ctx, s.DB, userID)
	if err != nil {
		if isNotFound(err) {
			return domain.PermissionUnknown, nil
		}
		return "", err
	}
	return st.Permission, nil
}

// RecordPermission stores the prompt answer.
func (s *SettingsService) RecordPermission(ctx context.Context, userID string, granted bool) error {
	p := domain.PermissionDenied
	if granted {
		p = domain.PermissionGranted
	}
	return repo.SavePermission(ctx, s.DB, userID, p, s.Clock.Now(), domain.UserSettings{
		QuietEnabled: s.Defaults.Enabled,
		QuietStart:   s.Defaults.Start.String(),
		QuietEnd:     s.Defaults.End.String(),
	})
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-dose-engine/internal/domain"
	"github.com/tbourn/go-dose-engine/internal/repo"
)

// ErrInvalidPushToken is returned for an empty registration token.
var ErrInvalidPushToken = errors.New("push token is required")

// Registry is the remote push registration endpoint.
type Registry interface {
	Register(ctx context.Context, userID, token string, enabled bool) error
}

// PushRegistrar stores the device's push registration and delivers it to the
// remote registry, retrying with exponential backoff. A registration that
// still fails is kept and retried by RetryPending.
type PushRegistrar struct {
	DB       *gorm.DB
	Registry Registry
	Log      zerolog.Logger

	// MaxRetries bounds the attempts after the first one.
	MaxRetries uint64
	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration
}

// Register upserts the registration and pushes it to the registry.
func (p *PushRegistrar) Register(ctx context.Context, userID, token string, enabled bool) (*domain.PushRegistration, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidPushToken
	}
	reg, err := repo.UpsertPushRegistration(ctx, p.DB, userID, token, enabled)
	if err != nil {
		return nil, fmt.Errorf("store push registration: %w", err)
	}
	if err := p.deliver(ctx, reg); err != nil {
		return reg, err
	}
	return repo.GetPushRegistration(ctx, p.DB, userID)
}

// RetryPending re-sends every registration the registry has not accepted.
func (p *PushRegistrar) RetryPending(ctx context.Context) error {
	regs, err := repo.ListUnregisteredPush(ctx, p.DB)
	if err != nil {
		return err
	}
	var errs []error
	for i := range regs {
		if err := p.deliver(ctx, &regs[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *PushRegistrar) deliver(ctx context.Context, reg *domain.PushRegistration) error {
	if p.Registry == nil {
		return nil
	}
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)

	op := func() error {
		err := p.Registry.Register(ctx, reg.UserID, reg.Token, reg.Enabled)
		if err != nil && IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		p.Log.Debug().Err(err).Dur("retry_in", wait).Str("user_id", reg.UserID).Msg("push registration retry")
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if merr := repo.MarkPushFailed(ctx, p.DB, reg.UserID, err.Error()); merr != nil {
			return errors.Join(err, merr)
		}
		p.Log.Warn().Err(err).Str("user_id", reg.UserID).Msg("push registration failed")
		return fmt.Errorf("register push: %w", err)
	}
	return repo.MarkPushRegistered(ctx, p.DB, reg.UserID)
}

// Package worker runs the daemon's periodic passes: delivery window
// rescheduling, offline queue sync, missed-dose sweeps, durable notification
// dispatch and connectivity probing.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Loop calls Pass once right away and then on every tick, or earlier when
// Kick is called, until the context is cancelled. Pass errors are logged and
// never stop the loop.
type Loop struct {
	Name     string
	Interval time.Duration
	Pass     func(ctx context.Context) error
	Log      zerolog.Logger

	// Quiet, when set, reports errors that are expected outcomes (e.g. the
	// remote being offline) and logs them at debug instead of warn.
	Quiet func(error) bool

	kick chan struct{}
}

// NewLoop builds a Loop with a kick channel ready.
func NewLoop(name string, interval time.Duration, log zerolog.Logger, pass func(ctx context.Context) error) *Loop {
	return &Loop{
		Name:     name,
		Interval: interval,
		Pass:     pass,
		Log:      log.With().Str("loop", name).Logger(),
		kick:     make(chan struct{}, 1),
	}
}

// Kick asks for an extra pass as soon as possible. Kicks coalesce.
func (l *Loop) Kick() {
	if l == nil || l.kick == nil {
		return
	}
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done and returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	l.Log.Info().Dur("interval", l.Interval).Msg("loop started")

	// Pass once right away; the ticker doesn't fire until a full period elapsed.
	l.runPass(ctx)

	for {
		select {
		case <-ctx.Done():
			l.Log.Info().Msg("loop stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-l.kick:
		}
		l.runPass(ctx)
	}
}

func (l *Loop) runPass(ctx context.Context) {
	start := time.Now()
	err := l.Pass(ctx)
	passDuration.WithLabelValues(l.Name).Observe(time.Since(start).Seconds())
	if err == nil {
		passTotal.WithLabelValues(l.Name, "ok").Inc()
		return
	}
	if ctx.Err() != nil {
		return
	}
	passTotal.WithLabelValues(l.Name, "error").Inc()
	if l.Quiet != nil && l.Quiet(err) {
		l.Log.Debug().Err(err).Msg("pass finished with expected error")
		return
	}
	l.Log.Warn().Err(err).Msg("pass failed")
}

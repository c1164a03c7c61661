package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-dose-engine/internal/channel"
	"github.com/tbourn/go-dose-engine/internal/clock"
	"github.com/tbourn/go-dose-engine/internal/domain"
	"github.com/tbourn/go-dose-engine/internal/notify"
	"github.com/tbourn/go-dose-engine/internal/quiethours"
)

// StatusReader is the lifecycle lookup the escalation loop re-checks.
type StatusReader interface {
	Status(ctx context.Context, doseID string) (domain.DoseStatus, error)
}

// Escalator re-fires a "still pending" notification every RepeatInterval
// while a high-importance dose stays scheduled. There is at most one task per
// dose; arming again replaces it, and every task carries a token so a stale
// timer never acts after Cancel or a newer Arm.
type Escalator struct {
	Clock    clock.Clock
	Log      zerolog.Logger
	Channel  channel.Channel
	Doses    StatusReader
	Settings SettingsSource
	UserID   string
	Location *time.Location

	// CheckTimeout bounds each status re-read.
	CheckTimeout time.Duration

	mu    sync.Mutex
	seq   uint64
	tasks map[string]*escalation
}

type escalation struct {
	token uint64
	timer clock.Timer
	p     channel.Payload
}

// NewEscalator returns an idle escalator.
func NewEscalator(clk clock.Clock, ch channel.Channel, doses StatusReader, settings SettingsSource, userID string, log zerolog.Logger) *Escalator {
	return &Escalator{
		Clock:        clk,
		Log:          log.With().Str("component", "escalation").Logger(),
		Channel:      ch,
		Doses:        doses,
		Settings:     settings,
		UserID:       userID,
		CheckTimeout: 5 * time.Second,
		tasks:        make(map[string]*escalation),
	}
}

// Arm starts the re-check loop for a fired payload. It reports false when the
// profile does not repeat or the channel cannot deliver in the background.
func (e *Escalator) Arm(p channel.Payload) bool {
	if p.Repeat <= 0 || !e.Channel.Background() {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if old, ok := e.tasks[p.DoseID]; ok {
		old.timer.Stop()
	}
	e.seq++
	e.schedule(p, e.seq)
	return true
}

// Cancel drops the task of doseID, if any.
func (e *Escalator) Cancel(doseID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tasks[doseID]; ok {
		t.timer.Stop()
		delete(e.tasks, doseID)
	}
}

// Armed reports whether doseID has a live task.
func (e *Escalator) Armed(doseID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tasks[doseID]
	return ok
}

// Stop cancels every task.
func (e *Escalator) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.tasks {
		t.timer.Stop()
		delete(e.tasks, id)
	}
}

// schedule must be called with e.mu held.
func (e *Escalator) schedule(p channel.Payload, token uint64) {
	t := &escalation{token: token, p: p}
	t.timer = e.Clock.AfterFunc(p.Repeat, func() { e.recheck(p.DoseID, token) })
	e.tasks[p.DoseID] = t
}

func (e *Escalator) current(doseID string, token uint64) (channel.Payload, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[doseID]
	if !ok || t.token != token {
		return channel.Payload{}, false
	}
	return t.p, true
}

// rearm re-schedules with the same token unless the task was cancelled or
// replaced meanwhile.
func (e *Escalator) rearm(p channel.Payload, token uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tasks[p.DoseID]; !ok || t.token != token {
		return
	}
	e.schedule(p, token)
}

func (e *Escalator) drop(doseID string, token uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tasks[doseID]; ok && t.token == token {
		delete(e.tasks, doseID)
	}
}

func (e *Escalator) recheck(doseID string, token uint64) {
	p, ok := e.current(doseID, token)
	if !ok {
		return
	}
	log := e.Log.With().Str("dose_id", doseID).Str("profile", p.Profile.String()).Logger()

	ctx, cancel := context.WithTimeout(context.Background(), e.CheckTimeout)
	defer cancel()

	st, err := e.Doses.Status(ctx, doseID)
	switch {
	case errors.Is(err, ErrDoseNotFound):
		e.drop(doseID, token)
		return
	case err != nil:
		log.Warn().Err(err).Msg("escalation status check failed")
		e.rearm(p, token)
		return
	case st != domain.DoseScheduled:
		log.Debug().Str("status", string(st)).Msg("escalation stopped")
		e.drop(doseID, token)
		return
	}

	now := e.Clock.Now()
	if e.quiet(ctx, now) {
		notificationsSuppressed.WithLabelValues("quiet_hours").Inc()
		log.Debug().Msg("escalation re-fire suppressed by quiet hours")
		e.rearm(p, token)
		return
	}

	again := p
	again.Attempt++
	again.Escalation = true
	again.FireAt = now
	again.Title = notify.Lookup(p.Profile).PendingTitle(p.ItemName)
	if err := e.Channel.Fire(ctx, again); err != nil {
		log.Warn().Err(err).Msg("escalation re-fire failed")
	} else {
		escalationRefires.WithLabelValues(p.Profile.String()).Inc()
		log.Info().Int("attempt", again.Attempt).Msg("still pending, re-fired")
	}
	e.rearm(again, token)
}

func (e *Escalator) quiet(ctx context.Context, now time.Time) bool {
	if e.Settings == nil {
		return false
	}
	q, err := e.Settings.QuietHours(ctx, e.UserID)
	if err != nil {
		e.Log.Warn().Err(err).Msg("quiet hours lookup failed")
		return false
	}
	loc := e.Location
	if loc == nil {
		loc = time.Local
	}
	return quiethours.IsQuiet(now.In(loc), q)
}

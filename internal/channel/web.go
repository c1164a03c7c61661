package channel

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-dose-engine/internal/clock"
)

// Web keeps one in-process timer per dose. Timers die with the process,
// which is why escalation is never armed on this channel and the delivery
// horizon is shorter.
type Web struct {
	Clock  clock.Clock
	Sink   Sink
	Log    zerolog.Logger
	OnFire func(p Payload)

	mu     sync.Mutex
	timers map[string]*webTimer
}

type webTimer struct {
	p Payload
	t clock.Timer
}

// NewWeb returns an empty web channel.
func NewWeb(clk clock.Clock, sink Sink, log zerolog.Logger) *Web {
	return &Web{
		Clock:  clk,
		Sink:   sink,
		Log:    log.With().Str("channel", string(KindWeb)).Logger(),
		timers: make(map[string]*webTimer),
	}
}

func (w *Web) Kind() Kind       { return KindWeb }
func (w *Web) Background() bool { return false }

// Schedule arms a timer per payload, replacing any timer already armed for
// the same dose (same tag).
func (w *Web) Schedule(_ context.Context, ps []Payload) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.Clock.Now()
	for _, p := range ps {
		if old, ok := w.timers[p.Tag()]; ok {
			old.t.Stop()
		}
		delay := p.FireAt.Sub(now)
		if delay < 0 {
			delay = 0
		}
		wt := &webTimer{p: p}
		wt.t = w.Clock.AfterFunc(delay, func() { w.fire(wt) })
		w.timers[p.Tag()] = wt
	}
	return nil
}

// CancelWindow stops timers whose FireAt is in [from, to].
func (w *Web) CancelWindow(_ context.Context, from, to time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for tag, wt := range w.timers {
		if !wt.p.FireAt.Before(from) && !wt.p.FireAt.After(to) {
			wt.t.Stop()
			delete(w.timers, tag)
		}
	}
	return nil
}

// CancelDose stops the timer of one dose.
func (w *Web) CancelDose(_ context.Context, doseID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if wt, ok := w.timers[doseID]; ok {
		wt.t.Stop()
		delete(w.timers, doseID)
	}
	return nil
}

// Fire delivers p right away.
func (w *Web) Fire(ctx context.Context, p Payload) error {
	return w.Sink.Deliver(ctx, p)
}

// Pending returns the armed payloads ordered by FireAt.
func (w *Web) Pending(context.Context) ([]Payload, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Payload, 0, len(w.timers))
	for _, wt := range w.timers {
		out = append(out, wt.p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

func (w *Web) fire(wt *webTimer) {
	w.mu.Lock()
	cur, ok := w.timers[wt.p.Tag()]
	if !ok || cur != wt {
		w.mu.Unlock()
		return
	}
	delete(w.timers, wt.p.Tag())
	w.mu.Unlock()

	if err := w.Sink.Deliver(context.Background(), wt.p); err != nil {
		w.Log.Warn().Err(err).Str("dose_id", wt.p.DoseID).Msg("notification delivery failed")
		return
	}
	if w.OnFire != nil {
		w.OnFire(wt.p)
	}
}

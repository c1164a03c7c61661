// Package channel delivers dose notifications through whichever platform
// mechanism is available: a durable local store (native), in-process timers
// that only live while the process runs (web), server-initiated push, or
// nothing at all when permission was denied.
//
// A Channel receives fully built Payloads; it never classifies or decides
// suppression. Escalation re-fires go through Fire and are not stored.
package channel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tbourn/go-dose-engine/internal/notify"
)

// Kind names a delivery mechanism.
type Kind string

const (
	KindNative Kind = "native"
	KindWeb    Kind = "web"
	KindPush   Kind = "push"
	KindNone   Kind = "none"
)

// ParseKind validates a channel name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindNative, KindWeb, KindPush, KindNone:
		return k, nil
	}
	return "", fmt.Errorf("unknown delivery channel %q", s)
}

// DefaultHorizon is how far ahead a channel of kind k is scheduled.
func DefaultHorizon(k Kind) time.Duration {
	switch k {
	case KindWeb:
		return 24 * time.Hour
	default:
		return 48 * time.Hour
	}
}

// Payload is one notification ready for delivery. Tag (the dose id) lets the
// platform replace an earlier notification for the same dose.
type Payload struct {
	DoseID     string          `json:"dose_id"`
	UserID     string          `json:"user_id"`
	ItemID     string          `json:"item_id"`
	ItemName   string          `json:"item_name"`
	FireAt     time.Time       `json:"fire_at"`
	Title      string          `json:"title"`
	Body       string          `json:"body"`
	Icon       string          `json:"icon"`
	Sound      string          `json:"sound"`
	Vibration  []int           `json:"vibration_ms,omitempty"`
	Priority   notify.Priority `json:"priority"`
	Profile    notify.Type     `json:"profile"`
	Repeat     time.Duration   `json:"repeat_interval"`
	Escalation bool            `json:"escalation,omitempty"`
	Attempt    int             `json:"attempt,omitempty"`
}

// Tag is the platform replacement key.
func (p Payload) Tag() string { return p.DoseID }

// Channel is the platform notification mechanism.
type Channel interface {
	Kind() Kind
	// Background reports whether notifications survive the process being
	// closed. Escalation is only armed on background channels.
	Background() bool
	// Schedule registers payloads for delivery at their FireAt.
	Schedule(ctx context.Context, ps []Payload) error
	// CancelWindow drops every pending notification whose FireAt is in [from, to].
	CancelWindow(ctx context.Context, from, to time.Time) error
	// CancelDose drops pending notifications of one dose.
	CancelDose(ctx context.Context, doseID string) error
	// Fire delivers a payload immediately.
	Fire(ctx context.Context, p Payload) error
	// Pending lists the notifications still to fire, ordered by FireAt.
	Pending(ctx context.Context) ([]Payload, error)
}

// Sink is where a firing notification ends up: the OS notification API, a
// push gateway, or a log line.
type Sink interface {
	Deliver(ctx context.Context, p Payload) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, p Payload) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, p Payload) error { return f(ctx, p) }

// None is the channel used when notification permission is denied: doses
// are still materialized but nothing is delivered.
type None struct{}

func (None) Kind() Kind { return KindNone }
func (None) Background() bool { return false }
func (None) Schedule(context.Context, []Payload) error { return nil }
func (None) CancelWindow(context.Context, time.Time, time.Time) error { return nil }
func (None) CancelDose(context.Context, string) error { return nil }
func (None) Fire(context.Context, Payload) error { return nil }
func (None) Pending(context.Context) ([]Payload, error) { return nil, nil }

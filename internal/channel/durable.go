package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-dose-engine/internal/clock"
	"github.com/tbourn/go-dose-engine/internal/domain"
	"github.com/tbourn/go-dose-engine/internal/notify"
	"github.com/tbourn/go-dose-engine/internal/repo"
)

// Durable stores scheduled notifications in the device database so they
// survive restarts, and fires them from DispatchDue. It backs both the
// native and the push channel; only the Sink differs.
type Durable struct {
	DB     *gorm.DB
	Clock  clock.Clock
	Sink   Sink
	Log    zerolog.Logger
	UserID string
	Of     Kind

	// OnFire is called after a stored notification was delivered. The
	// escalation loop hooks in here.
	OnFire func(p Payload)

	BatchSize int
	// MaxAttempts caps delivery attempts per row; a row that keeps failing
	// ends up failed instead of pending. Zero retries forever.
	MaxAttempts int
}

// NewDurable returns a durable channel of kind k.
func NewDurable(db *gorm.DB, clk clock.Clock, k Kind, userID string, sink Sink, log zerolog.Logger) *Durable {
	return &Durable{
		DB:          db,
		Clock:       clk,
		Sink:        sink,
		Log:         log.With().Str("channel", string(k)).Logger(),
		UserID:      userID,
		Of:          k,
		BatchSize:   100,
		MaxAttempts: 5,
	}
}

func (d *Durable) Kind() Kind       { return d.Of }
func (d *Durable) Background() bool { return true }

// Schedule stores the payloads as pending rows.
func (d *Durable) Schedule(ctx context.Context, ps []Payload) error {
	rows := make([]domain.ScheduledNotification, 0, len(ps))
	for _, p := range ps {
		rows = append(rows, toRow(p, d.Of))
	}
	if err := repo.CreateNotifications(ctx, d.DB, rows); err != nil {
		return fmt.Errorf("store notifications: %w", err)
	}
	return nil
}

// CancelWindow cancels the user's pending rows in [from, to].
func (d *Durable) CancelWindow(ctx context.Context, from, to time.Time) error {
	n, err := repo.CancelPendingNotifications(ctx, d.DB, d.UserID, string(d.Of), from, to)
	if err != nil {
		return fmt.Errorf("cancel window: %w", err)
	}
	d.Log.Debug().Int64("cancelled", n).Msg("pending notifications cancelled")
	return nil
}

// CancelDose cancels pending rows of one dose.
func (d *Durable) CancelDose(ctx context.Context, doseID string) error {
	_, err := repo.CancelDoseNotifications(ctx, d.DB, doseID)
	return err
}

// Pending returns the user's stored rows that have not fired yet.
func (d *Durable) Pending(ctx context.Context) ([]Payload, error) {
	rows, err := repo.ListPendingNotifications(ctx, d.DB, d.UserID)
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	out := make([]Payload, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// Fire delivers p right away without storing it.
func (d *Durable) Fire(ctx context.Context, p Payload) error {
	return d.Sink.Deliver(ctx, p)
}

// DispatchDue delivers every pending row whose FireAt has passed and returns
// how many were delivered. A row is claimed before delivery so two
// dispatchers never deliver the same notification; a failed delivery
// releases the claim so the next pass tries again.
func (d *Durable) DispatchDue(ctx context.Context) (int, error) {
	now := d.Clock.Now()
	due, err := repo.ListDueNotifications(ctx, d.DB, string(d.Of), now, d.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due notifications: %w", err)
	}
	fired := 0
	for _, row := range due {
		ok, err := repo.ClaimNotification(ctx, d.DB, row.ID, now)
		if err != nil {
			return fired, fmt.Errorf("claim notification %s: %w", row.ID, err)
		}
		if !ok {
			continue
		}
		p := fromRow(row)
		if err := d.Sink.Deliver(ctx, p); err != nil {
			state, rerr := repo.ReleaseNotification(ctx, d.DB, row.ID, err.Error(), d.MaxAttempts)
			if rerr != nil {
				return fired, fmt.Errorf("release notification %s: %w", row.ID, rerr)
			}
			d.Log.Warn().Err(err).
				Str("dose_id", p.DoseID).
				Int("attempt", row.Attempts+1).
				Str("state", string(state)).
				Msg("notification delivery failed")
			continue
		}
		fired++
		if d.OnFire != nil {
			d.OnFire(p)
		}
	}
	return fired, nil
}

func toRow(p Payload, k Kind) domain.ScheduledNotification {
	return domain.ScheduledNotification{
		UserID:        p.UserID,
		DoseID:        p.DoseID,
		ItemID:        p.ItemID,
		ItemName:      p.ItemName,
		Channel:       string(k),
		State:         domain.NotificationPending,
		FireAt:        p.FireAt,
		Profile:       p.Profile.String(),
		Title:         p.Title,
		Body:          p.Body,
		Icon:          p.Icon,
		Sound:         p.Sound,
		Vibration:     p.Vibration,
		Priority:      int(p.Priority),
		RepeatSeconds: int(p.Repeat / time.Second),
		Escalation:    p.Escalation,
	}
}

func fromRow(r domain.ScheduledNotification) Payload {
	typ, ok := notify.ParseType(r.Profile)
	if !ok {
		typ = notify.Normal
	}
	return Payload{
		DoseID:     r.DoseID,
		UserID:     r.UserID,
		ItemID:     r.ItemID,
		ItemName:   r.ItemName,
		FireAt:     r.FireAt,
		Title:      r.Title,
		Body:       r.Body,
		Icon:       r.Icon,
		Sound:      r.Sound,
		Vibration:  r.Vibration,
		Priority:   notify.Priority(r.Priority),
		Profile:    typ,
		Repeat:     time.Duration(r.RepeatSeconds) * time.Second,
		Escalation: r.Escalation,
	}
}

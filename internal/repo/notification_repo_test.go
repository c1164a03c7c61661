package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-dose-engine/internal/domain"
)

func notif(dose, channel string, at time.Time) domain.ScheduledNotification {
	return domain.ScheduledNotification{UserID: "u1", DoseID: dose, ItemID: "i1", Channel: channel, FireAt: at, Profile: "normal", Title: "t", Body: "b"}
}

func TestCancelPendingNotifications_WindowAndChannel(t *testing.T) {
	db := newTestDB(t, &domain.ScheduledNotification{})
	ctx := context.Background()
	now := time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)

	err := CreateNotifications(ctx, db, []domain.ScheduledNotification{
		notif("d1", "native", now.Add(time.Hour)),
		notif("d2", "native", now.Add(50*time.Hour)),
		notif("d3", "push", now.Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("CreateNotifications: %v", err)
	}

	n, err := CancelPendingNotifications(ctx, db, "u1", "native", now, now.Add(48*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("Cancel = (%d, %v); want (1, nil)", n, err)
	}
	left, _ := ListPendingNotifications(ctx, db, "u1")
	if len(left) != 2 {
		t.Fatalf("pending = %d; want 2", len(left))
	}
}

func TestListDueAndClaim_FiresOnce(t *testing.T) {
	db := newTestDB(t, &domain.ScheduledNotification{})
	ctx := context.Background()
	now := time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)

	_ = CreateNotifications(ctx, db, []domain.ScheduledNotification{
		notif("d1", "native", now.Add(-time.Minute)),
		notif("d2", "native", now.Add(time.Minute)),
	})
	due, err := ListDueNotifications(ctx, db, "native", now, 10)
	if err != nil || len(due) != 1 || due[0].DoseID != "d1" {
		t.Fatalf("ListDue = (%+v, %v)", due, err)
	}

	ok, err := ClaimNotification(ctx, db, due[0].ID, now)
	if err != nil || !ok {
		t.Fatalf("first claim = (%v, %v)", ok, err)
	}
	ok, _ = ClaimNotification(ctx, db, due[0].ID, now)
	if ok {
		t.Fatalf("second claim should fail")
	}

	n, _ := CancelDoseNotifications(ctx, db, "d2")
	if n != 1 {
		t.Fatalf("CancelDoseNotifications = %d; want 1", n)
	}
}

func TestReleaseNotification_BackToPendingThenFailed(t *testing.T) {
	db := newTestDB(t, &domain.ScheduledNotification{})
	ctx := context.Background()
	now := time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)

	ns := []domain.ScheduledNotification{notif("d1", "push", now.Add(-time.Minute))}
	if err := CreateNotifications(ctx, db, ns); err != nil {
		t.Fatalf("CreateNotifications: %v", err)
	}
	id := ns[0].ID

	for i, want := range []domain.NotificationState{domain.NotificationPending, domain.NotificationFailed} {
		if ok, err := ClaimNotification(ctx, db, id, now); err != nil || !ok {
			t.Fatalf("claim %d = (%v, %v)", i, ok, err)
		}
		got, err := ReleaseNotification(ctx, db, id, "publish failed", 2)
		if err != nil || got != want {
			t.Fatalf("release %d = (%q, %v); want %q", i, got, err, want)
		}
	}

	var row domain.ScheduledNotification
	if err := db.First(&row, "id = ?", id).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if row.Attempts != 2 || row.LastError != "publish failed" || row.FiredAt != nil {
		t.Fatalf("row = %+v", row)
	}
	if ok, _ := ClaimNotification(ctx, db, id, now); ok {
		t.Fatalf("failed row must not be claimable")
	}
}

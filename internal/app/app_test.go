package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-dose-engine/internal/channel"
	"github.com/tbourn/go-dose-engine/internal/clock"
	"github.com/tbourn/go-dose-engine/internal/config"
	"github.com/tbourn/go-dose-engine/internal/domain"
	"github.com/tbourn/go-dose-engine/internal/notify"
	"github.com/tbourn/go-dose-engine/internal/repo"
	"github.com/tbourn/go-dose-engine/internal/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))
	return db
}

func baseConfig() config.Config {
	return config.Config{
		UserID:               "u1",
		Timezone:             "UTC",
		DeliveryChannel:      "native",
		NativeHorizon:        48 * time.Hour,
		WebHorizon:           24 * time.Hour,
		DuplicateWindow:      4 * time.Hour,
		LowStockThreshold:    5,
		OfflineRetention:     7 * 24 * time.Hour,
		RejectedRetry:        6 * time.Hour,
		OfflineAttempts:      5,
		NotifyPermission:     "granted",
		PermissionTTL:        time.Hour,
		RescheduleInterval:   time.Minute,
		SyncInterval:         time.Minute,
		MissedSweepInterval:  time.Minute,
		NativePollInterval:   time.Second,
		ConnectivityInterval: time.Minute,
		PurgeInterval:        time.Hour,
		ServeActions:         true,
		RemoteTimeout:        time.Second,
		RemoteBasePath:       "/api/v1",
		PushMaxRetries:       5,
		PushRetryInterval:    time.Millisecond,
		PushResendInterval:   time.Minute,
		IdempotencyTTL:       time.Hour,
		QuietHoursStart:      "22:00",
		QuietHoursEnd:        "07:00",
	}
}

func TestBuild_NativeChannel(t *testing.T) {
	a, err := Build(baseConfig(), newTestDB(t), clock.Real{}, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, channel.KindNative, a.Channel.Kind())
	assert.True(t, a.Channel.Background())
	for _, name := range []string{"reschedule", "sync", "missed-sweep", "purge", "dispatch"} {
		assert.NotNil(t, a.Loop(name), name)
	}
	assert.Nil(t, a.Loop("connectivity"))
	assert.Nil(t, a.Loop("push-resend"))
	assert.Nil(t, a.Connectivity)
	assert.Equal(t, time.Hour, a.Doses.ReceiptTTL)

	svc := a.Handlers.Has()
	assert.NotNil(t, svc.Remote)
	assert.Same(t, a.Local, svc.Actions)
	assert.Equal(t, time.UTC, svc.Location)
}

func TestBuild_ChannelsAndRemote(t *testing.T) {
	cfg := baseConfig()
	cfg.DeliveryChannel = "web"
	cfg.ServeActions = false
	cfg.RemoteBaseURL = "http://remote.invalid"
	cfg.PushRegistryURL = "http://registry.invalid"

	a, err := Build(cfg, newTestDB(t), clock.Real{}, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, channel.KindWeb, a.Channel.Kind())
	assert.Nil(t, a.Loop("dispatch"))
	assert.NotNil(t, a.Loop("connectivity"))
	require.NotNil(t, a.Connectivity)
	assert.NotNil(t, a.Connectivity.OnRegain)
	assert.NotNil(t, a.Push.Registry)
	assert.NotNil(t, a.Loop("push-resend"))
	assert.EqualValues(t, 5, a.Push.MaxRetries)
	assert.Equal(t, time.Millisecond, a.Push.InitialInterval)
	assert.Equal(t, 5, a.Queue.MaxAttempts)
	assert.Equal(t, 6*time.Hour, a.Queue.RejectedRetry)
	assert.Zero(t, a.Doses.ReceiptTTL)
	assert.Nil(t, a.Handlers.Has().Remote)

	cfg.DeliveryChannel = "none"
	a, err = Build(cfg, newTestDB(t), clock.Real{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, channel.KindNone, a.Channel.Kind())
}

func TestBuild_InvalidConfig(t *testing.T) {
	tests := map[string]func(*config.Config){
		"channel":  func(c *config.Config) { c.DeliveryChannel = "pigeon" },
		"timezone": func(c *config.Config) { c.Timezone = "Mars/Olympus" },
		"quiet":    func(c *config.Config) { c.QuietHoursStart = "25:00" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := baseConfig()
			mutate(&cfg)
			_, err := Build(cfg, newTestDB(t), clock.Real{}, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}

func TestBuild_TransitionCancelsEscalation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	clk := clock.NewManual(now)

	a, err := Build(baseConfig(), db, clk, zerolog.Nop())
	require.NoError(t, err)

	item := domain.MedicationItem{ID: uuid.NewString(), UserID: "u1", Name: "Insulin", Active: true}
	require.NoError(t, repo.CreateItem(ctx, db, &item))
	dose := domain.DoseInstance{
		ID:            uuid.NewString(),
		UserID:        "u1",
		ItemID:        item.ID,
		ScheduleID:    uuid.NewString(),
		OriginalDueAt: now,
		DueAt:         now,
		Status:        domain.DoseScheduled,
	}
	_, err = repo.InsertDoses(ctx, db, []domain.DoseInstance{dose})
	require.NoError(t, err)

	p := channel.Payload{DoseID: dose.ID, FireAt: now, Profile: notify.Critical, Repeat: 5 * time.Minute}
	require.True(t, a.Escalator.Arm(p))
	require.True(t, a.Escalator.Armed(dose.ID))

	_, err = a.Local.Skip(ctx, dose.ID)
	require.NoError(t, err)

	assert.False(t, a.Escalator.Armed(dose.ID))
	pending, err := a.Queue.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestBuild_InProcessSyncDoesNotReapply(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	clk := clock.NewManual(now)

	a, err := Build(baseConfig(), db, clk, zerolog.Nop())
	require.NoError(t, err)

	item := domain.MedicationItem{ID: uuid.NewString(), UserID: "u1", Name: "Metformin", Active: true}
	require.NoError(t, repo.CreateItem(ctx, db, &item))
	require.NoError(t, repo.SetStock(ctx, db, &domain.StockRecord{ItemID: item.ID, UnitsLeft: 10, UnitsTotal: 10}))
	snoozed := domain.DoseInstance{
		ID: uuid.NewString(), UserID: "u1", ItemID: item.ID, ScheduleID: uuid.NewString(),
		OriginalDueAt: now, DueAt: now, Status: domain.DoseScheduled,
	}
	taken := snoozed
	taken.ID = uuid.NewString()
	taken.OriginalDueAt = now.Add(time.Hour)
	taken.DueAt = taken.OriginalDueAt
	_, err = repo.InsertDoses(ctx, db, []domain.DoseInstance{snoozed, taken})
	require.NoError(t, err)

	_, err = a.Local.Snooze(ctx, snoozed.ID, 15)
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = a.Local.Confirm(ctx, taken.ID, services.ConfirmOptions{})
	require.NoError(t, err)

	rep, err := a.Queue.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Synced)

	d, err := repo.GetDose(ctx, db, snoozed.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, d.DelayMinutes)
	assert.True(t, d.DueAt.Equal(now.Add(15*time.Minute)), d.DueAt)

	st, err := repo.GetStock(ctx, db, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, st.UnitsLeft)

	pending, err := a.Queue.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := baseConfig()
	cfg.NotifyPermission = "denied"
	a, err := Build(cfg, newTestDB(t), clock.Real{}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

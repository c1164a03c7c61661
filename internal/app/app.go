// Package app assembles the dose engine from configuration: services, the
// delivery channel, background loops and HTTP handlers.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-dose-engine/internal/channel"
	"github.com/tbourn/go-dose-engine/internal/clock"
	"github.com/tbourn/go-dose-engine/internal/config"
	"github.com/tbourn/go-dose-engine/internal/domain"
	"github.com/tbourn/go-dose-engine/internal/http/handlers"
	"github.com/tbourn/go-dose-engine/internal/remote"
	"github.com/tbourn/go-dose-engine/internal/services"
	"github.com/tbourn/go-dose-engine/internal/worker"
)

// App is a wired engine. Run drives its loops; Close releases the channel
// backends.
type App struct {
	Config config.Config
	Clock  clock.Clock
	Log    zerolog.Logger

	Doses     *services.DoseService
	Settings  *services.SettingsService
	Gate      *services.PermissionGate
	Stock     *services.StockLedger
	Channel   channel.Channel
	Escalator *services.Escalator
	Delivery  *services.DeliveryScheduler
	Actions   *services.ActionService
	Queue     *services.ActionQueue
	Local     *services.LocalActions
	Push      *services.PushRegistrar
	// Connectivity is nil when actions are replayed in-process.
	Connectivity *worker.Connectivity

	Handlers *handlers.Handlers

	loops   map[string]*worker.Loop
	closers []func() error
}

// Build wires every component against db. It does not start anything.
func Build(cfg config.Config, db *gorm.DB, clk clock.Clock, log zerolog.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	quiet, err := cfg.QuietHours()
	if err != nil {
		return nil, err
	}
	kind, err := channel.ParseKind(cfg.DeliveryChannel)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Clock: clk, Log: log, loops: map[string]*worker.Loop{}}

	mat := &services.Materializer{DB: db, Log: log, Location: loc}
	a.Doses = services.NewDoseService(db, clk, log)
	a.Doses.DuplicateWindow = cfg.DuplicateWindow
	a.Doses.MissedGrace = cfg.MissedGrace
	a.Doses.LowStockThreshold = cfg.LowStockThreshold
	a.Doses.Location = loc
	a.Doses.Materializer = mat

	a.Settings = &services.SettingsService{DB: db, Clock: clk, Defaults: quiet}
	a.Gate = services.NewPermissionGate(a.Settings,
		services.StaticPrompter{Granted: cfg.NotifyPermission == "granted"},
		cfg.UserID, cfg.PermissionTTL, log)
	a.Stock = &services.StockLedger{DB: db, Clock: clk}

	sink := channel.LogSink{Log: log.With().Str("component", "sink").Logger()}
	var durable *channel.Durable
	switch kind {
	case channel.KindNative:
		durable = channel.NewDurable(db, clk, kind, cfg.UserID, sink, log)
		a.Channel = durable
	case channel.KindPush:
		rs, rdb, err := channel.NewRedisSink(cfg.RedisURL, cfg.RedisChannel)
		if err != nil {
			return nil, fmt.Errorf("push channel: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		durable = channel.NewDurable(db, clk, kind, cfg.UserID, rs, log)
		a.Channel = durable
	case channel.KindWeb:
		a.Channel = channel.NewWeb(clk, sink, log)
	default:
		a.Channel = channel.None{}
	}

	a.Escalator = services.NewEscalator(clk, a.Channel, a.Doses, a.Settings, cfg.UserID, log)
	a.Escalator.Location = loc
	if durable != nil {
		durable.OnFire = func(p channel.Payload) { a.Escalator.Arm(p) }
	}

	a.Delivery = &services.DeliveryScheduler{
		DB:           db,
		Clock:        clk,
		Log:          log.With().Str("component", "delivery").Logger(),
		Location:     loc,
		UserID:       cfg.UserID,
		Channel:      a.Channel,
		Horizon:      cfg.Horizon(),
		Materializer: mat,
		Doses:        a.Doses,
		Settings:     a.Settings,
		Gate:         a.Gate,
	}

	a.Actions = &services.ActionService{
		DB:         db,
		Clock:      clk,
		Log:        log.With().Str("component", "actions").Logger(),
		Doses:      a.Doses,
		ReceiptTTL: cfg.IdempotencyTTL,
	}

	// In-process replays hit the store the local transition already wrote;
	// the receipt stored with it turns the replay into an acknowledgement.
	var sender services.ActionSender = a.Actions
	if cfg.RemoteBaseURL == "" {
		a.Doses.ReceiptTTL = cfg.IdempotencyTTL
	} else {
		client := remote.New(cfg.RemoteBaseURL, cfg.RemoteTimeout)
		client.BasePath = cfg.RemoteBasePath
		sender = client
		a.Connectivity = &worker.Connectivity{
			Pinger:  client,
			Timeout: cfg.RemoteTimeout,
			Log:     log.With().Str("component", "connectivity").Logger(),
		}
	}
	a.Queue = services.NewActionQueue(db, clk, cfg.UserID, sender, log)
	a.Queue.Retention = cfg.OfflineRetention
	a.Queue.RequestTimeout = cfg.RemoteTimeout
	a.Queue.RejectedRetry = cfg.RejectedRetry
	a.Queue.MaxAttempts = cfg.OfflineAttempts

	a.Push = &services.PushRegistrar{
		DB:              db,
		Log:             log.With().Str("component", "push").Logger(),
		MaxRetries:      cfg.PushMaxRetries,
		InitialInterval: cfg.PushRetryInterval,
	}
	if cfg.PushRegistryURL != "" {
		reg := remote.NewRegistry(cfg.PushRegistryURL, cfg.RemoteTimeout)
		reg.BasePath = cfg.RemoteBasePath
		a.Push.Registry = reg
	}

	a.buildLoops(durable)

	a.Local = &services.LocalActions{
		Doses: a.Doses,
		Queue: a.Queue,
		Log:   log,
		Kick:  a.loops["sync"].Kick,
	}
	if a.Connectivity != nil {
		a.Connectivity.OnRegain = a.loops["sync"].Kick
	}
	a.loops["sync"].Quiet = func(err error) bool { return errors.Is(err, services.ErrSyncFailure) }

	// Settled or moved doses lose their pending notification and escalation;
	// the next delivery pass re-plans what is still scheduled.
	a.Doses.OnTransition(func(ctx context.Context, d domain.DoseInstance) {
		a.Escalator.Cancel(d.ID)
		if err := a.Channel.CancelDose(ctx, d.ID); err != nil {
			log.Warn().Err(err).Str("dose_id", d.ID).Msg("cancel notification")
		}
		a.loops["reschedule"].Kick()
	})

	svc := handlers.Services{
		Doses:    a.Doses,
		History:  a.Doses,
		Actions:  a.Local,
		Settings: a.Settings,
		Stock:    a.Stock,
		Push:     a.Push,
		Sync:     a.Queue,
		Delivery: a.Delivery,
		Outbox:   a.Channel,
		Location: loc,
	}
	if cfg.ServeActions {
		svc.Remote = a.Actions
	}
	a.Handlers = handlers.New(svc, cfg.UserID)
	return a, nil
}

func (a *App) buildLoops(durable *channel.Durable) {
	cfg, log := a.Config, a.Log
	add := func(name string, every time.Duration, pass func(context.Context) error) {
		a.loops[name] = worker.NewLoop(name, every, log, pass)
	}

	add("reschedule", cfg.RescheduleInterval, func(ctx context.Context) error {
		_, err := a.Delivery.ScheduleWindow(ctx, 0)
		if errors.Is(err, services.ErrPermissionDenied) {
			log.Info().Msg("notifications not permitted; delivery skipped")
			return nil
		}
		return err
	})
	add("sync", cfg.SyncInterval, func(ctx context.Context) error {
		_, err := a.Queue.Sync(ctx)
		return err
	})
	add("missed-sweep", cfg.MissedSweepInterval, func(ctx context.Context) error {
		_, err := a.Doses.SweepMissed(ctx, cfg.UserID, a.Clock.Now())
		return err
	})
	add("purge", cfg.PurgeInterval, func(ctx context.Context) error {
		var errs []error
		if _, err := a.Queue.Purge(ctx, a.Clock.Now()); err != nil {
			errs = append(errs, err)
		}
		if _, err := a.Actions.PurgeReceipts(ctx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
	if a.Push.Registry != nil {
		add("push-resend", cfg.PushResendInterval, a.Push.RetryPending)
	}
	if durable != nil {
		add("dispatch", cfg.NativePollInterval, func(ctx context.Context) error {
			_, err := durable.DispatchDue(ctx)
			return err
		})
	}
	if a.Connectivity != nil {
		add("connectivity", cfg.ConnectivityInterval, func(ctx context.Context) error {
			// offline is a state, not a failure
			_ = a.Connectivity.Check(ctx)
			return nil
		})
	}
}

// Loop returns the named background loop, or nil.
func (a *App) Loop(name string) *worker.Loop { return a.loops[name] }

// Run drives every loop until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, l := range a.loops {
		l := l
		g.Go(func() error { return l.Run(ctx) })
	}
	err := g.Wait()
	a.Escalator.Stop()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases channel backends.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

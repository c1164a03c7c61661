// Command dosed runs the dose engine: the HTTP API plus the delivery,
// sync, sweep and escalation loops.
//
//	@title        dosed API
//	@version      1.0
//	@description  Dose lifecycle and notification delivery engine.
//	@BasePath     /api/v1
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	_ "github.com/tbourn/go-dose-engine/docs"
	"github.com/tbourn/go-dose-engine/internal/app"
	"github.com/tbourn/go-dose-engine/internal/clock"
	"github.com/tbourn/go-dose-engine/internal/config"
	httpapi "github.com/tbourn/go-dose-engine/internal/http"
	"github.com/tbourn/go-dose-engine/internal/observability"
	"github.com/tbourn/go-dose-engine/internal/repo"
	"github.com/tbourn/go-dose-engine/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetLogLevel(cfg.LogLevel)
	logger := sysutil.NewLogger(os.Stdout, cfg.LogPretty, cfg.OTEL.ServiceName, cfg.UserID)
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.Deployment{
		Version: sysutil.FirstNonEmpty(os.Getenv("DOSED_VERSION"), version),
		Channel: cfg.DeliveryChannel,
		UserID:  cfg.UserID,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup")
	}

	db, err := repo.Open(cfg.DBDriver, cfg.DBPath, cfg.DBDSN)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	if cfg.SeedFile != "" {
		if _, err := app.LoadSeed(ctx, db, cfg.SeedFile, cfg.UserID, time.Now(), logger); err != nil {
			logger.Fatal().Err(err).Str("file", cfg.SeedFile).Msg("seed")
		}
	}

	engine, err := app.Build(cfg, db, clock.Real{}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build engine")
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, cfg, engine.Handlers)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error {
		logger.Info().
			Str("addr", srv.Addr).
			Str("channel", cfg.DeliveryChannel).
			Str("version", version).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("stopped with error")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.Close(); err != nil {
		logger.Warn().Err(err).Msg("close channel")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownOTel(sctx); err != nil {
		logger.Warn().Err(err).Msg("otel shutdown")
	}
	logger.Info().Msg("bye")
}

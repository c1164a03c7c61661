// Package httpapi wires the Gin transport to the dose engine: middleware,
// observability endpoints, docs and the versioned API.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-dose-engine/internal/config"
	"github.com/tbourn/go-dose-engine/internal/http/handlers"
	"github.com/tbourn/go-dose-engine/internal/http/middleware"
	"github.com/tbourn/go-dose-engine/internal/repo"
)

const maxBodyBytes = 1 << 20

var (
	corsMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey}
	corsExpose  = []string{"X-Request-ID", handlers.HeaderReplayed, "Content-Length"}
)

// receiptLookup reports a replay when a live action receipt exists for key.
func receiptLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, key string, now time.Time) (bool, error) {
		_, err := repo.GetReceipt(ctx, db, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}
}

// RegisterRoutes installs middleware and mounts the API under
// cfg.APIBasePath. Route groups whose service is not wired in h are skipped.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. Logger (redacting)
//  4. Recovery
//  5. body limit, gzip
//  6. IdempotencyValidator, so Metrics and the limiter see replays
//  7. Metrics
//  8. RateLimiter
//  9. CORS and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config, h *handlers.Handlers) {
	r.HandleMethodNotAllowed = true
	handlers.RegisterValidators()

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(middleware.LogOptions{
		Redactor: middleware.NewRedactor("X-Push-Token"),
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	var lookup middleware.IdempotencyLookup
	if db != nil {
		lookup = receiptLookup(db)
	}
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, lookup))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, 0, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    corsMethods,
			AllowHeaders:    corsHeaders,
			ExposeHeaders:   corsExpose,
			MaxAge:          12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					c.Writer.Header().Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.CORS.AllowedOrigins,
			AllowMethods:  corsMethods,
			AllowHeaders:  corsHeaders,
			ExposeHeaders: corsExpose,
			MaxAge:        12 * time.Hour,
		}))
	}

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", health(db))

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	if h == nil {
		return
	}
	svc := h.Has()
	api := groupWithPrefix(r, cfg.APIBasePath)

	// profiles are static and always served
	api.GET("/notification-profiles", h.ListProfiles)
	api.GET("/notification-profiles/:type", h.GetProfile)
	api.GET("/classify", h.Classify)

	if svc.Doses != nil {
		api.GET("/doses/today", h.Today)
	}
	if svc.History != nil {
		api.GET("/doses/:id/events", h.DoseEvents)
	}
	if svc.Actions != nil {
		api.POST("/doses/:id/confirm", h.ConfirmDose)
		api.POST("/doses/:id/snooze", h.SnoozeDose)
		api.POST("/doses/:id/skip", h.SkipDose)
	}
	if svc.Settings != nil {
		api.GET("/settings/quiet-hours", h.GetQuietHours)
		api.PUT("/settings/quiet-hours", h.PutQuietHours)
	}
	if svc.Stock != nil {
		api.GET("/stock/:item_id", h.GetStock)
		api.POST("/stock/:item_id/refill", h.RefillStock)
	}
	if svc.Push != nil {
		api.POST("/push/registration", h.RegisterPush)
	}
	if svc.Remote != nil && cfg.ServeActions {
		api.POST("/dose-actions", h.ApplyAction)
	}
	if svc.Sync != nil {
		api.POST("/sync", h.SyncNow)
		api.GET("/sync/pending", h.PendingActions)
	}
	if svc.Delivery != nil {
		api.POST("/delivery/reschedule", h.Reschedule)
	}
	if svc.Outbox != nil {
		api.GET("/delivery/pending", h.PendingNotifications)
	}
}

// health answers 200 while the store responds and 503 otherwise.
func health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request.Context())
			}
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "db": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// limitBody caps request bodies at maxBytes; larger bodies fail on read.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// Recommended order: RequestID, Logger, Recovery. The request-scoped logger
// stored by Logger carries the request id and, on dose routes, the dose id,
// so handlers can log with LoggerFrom(c) and still correlate.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey      = "requestID"
	requestIDHeader   = "X-Request-ID"
	loggerKey         = "logger"
	maxQueryLogLength = 2048
)

// RequestID reuses X-Request-ID when present, otherwise generates a UUIDv4,
// and echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// LogOptions configures Logger.
type LogOptions struct {
	// Base is the parent logger; nil uses the global zerolog logger.
	Base *zerolog.Logger
	// Redactor scrubs the query string and headers; nil uses NewRedactor().
	Redactor *Redactor
	// Headers adds the scrubbed request headers to each access log line.
	Headers bool
}

// Logger writes one structured access log line per request. 5xx and requests
// with gin errors log at error, 4xx at warn, the rest at info.
func Logger(opts LogOptions) gin.HandlerFunc {
	red := opts.Redactor
	if red == nil {
		red = NewRedactor()
	}
	return func(c *gin.Context) {
		start := time.Now()
		base := log.Logger
		if opts.Base != nil {
			base = *opts.Base
		}

		rid, _ := c.Get(requestIDKey)
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		lc := base.With().
			Str("request_id", asString(rid)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP())
		if id := c.Param("id"); id != "" {
			lc = lc.Str("dose_id", id)
		}
		if id := c.Param("item_id"); id != "" {
			lc = lc.Str("item_id", id)
		}
		l := lc.Logger()
		c.Set(loggerKey, &l)

		c.Next()

		ev := l.Info()
		switch status := c.Writer.Status(); {
		case len(c.Errors) > 0 || status >= 500:
			ev = l.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= 400:
			ev = l.Warn()
		}
		if q := c.Request.URL.RawQuery; q != "" {
			ev = ev.Str("query", truncate(red.String(q), maxQueryLogLength))
		}
		if opts.Headers {
			ev = ev.Interface("headers", red.Headers(c.Request.Header))
		}
		ev.Str("user_agent", c.Request.UserAgent()).
			Int64("bytes_in", c.Request.ContentLength).
			Int("status", c.Writer.Status()).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// Recovery turns a panic into a JSON 500 carrying the request id.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := asString(c.Value(requestIDKey))
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// Logger did not run.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// truncate caps s at max bytes; max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

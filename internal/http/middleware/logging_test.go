package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

func serve(r http.Handler, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/rid", func(c *gin.Context) {
		v, ok := c.Get(requestIDKey)
		assert.True(t, ok)
		assert.NotEmpty(t, v)
		c.Status(http.StatusNoContent)
	})

	w := serve(r, http.MethodGet, "/rid", nil)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = serve(r, http.MethodGet, "/rid", map[string]string{"x-request-id": "abc-123"})
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestLogger_Levels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Logger(LogOptions{}))
	r.GET("/doses/today", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("store unavailable"))
		c.Status(http.StatusBadRequest)
	})

	require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/doses/today", nil).Code)
	require.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/missing", nil).Code)
	require.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/boom", nil).Code)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var ok, missing, boom map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ok))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &missing))
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &boom))

	assert.Equal(t, "info", ok["level"])
	assert.Equal(t, "/doses/today", ok["path"])
	assert.Equal(t, "warn", missing["level"])
	assert.Equal(t, "/missing", missing["path"])
	assert.Equal(t, "error", boom["level"])
	assert.Contains(t, boom["errors"], "store unavailable")
}

func TestLogger_DoseFieldsAndBaseLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	base := zerolog.New(&buf).With().Str("service", "dosed").Logger()

	r := gin.New()
	r.Use(RequestID(), Logger(LogOptions{Base: &base}))
	r.POST("/doses/:id/confirm", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("confirmed")
		c.Status(http.StatusOK)
	})

	serve(r, http.MethodPost, "/doses/d-42/confirm", map[string]string{requestIDHeader: "rid-1"})

	out := buf.String()
	assert.Contains(t, out, `"service":"dosed"`)
	assert.Contains(t, out, `"dose_id":"d-42"`)
	assert.Contains(t, out, `"request_id":"rid-1"`)
	assert.Contains(t, out, `"message":"confirmed"`)
	assert.Contains(t, out, `"path":"/doses/:id/confirm"`)
}

func TestLogger_RedactsQueryAndHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Logger(LogOptions{Headers: true}))
	r.GET("/classify", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, http.MethodGet, "/classify?notes=ask+ana@example.com&token=s3cret", map[string]string{
		"Authorization": "Bearer abc",
		"X-Push-Token":  "ExponentPushToken[xyz]",
	})

	out := buf.String()
	assert.NotContains(t, out, "ana@example.com")
	assert.NotContains(t, out, "s3cret")
	assert.NotContains(t, out, "Bearer abc")
	assert.NotContains(t, out, "ExponentPushToken[xyz]")
	assert.Contains(t, out, "[REDACTED:email]")
	assert.Contains(t, out, "token=[REDACTED]")
}

func TestRecovery_PanicsToJSON500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Logger(LogOptions{}), Recovery())
	r.GET("/panic", func(c *gin.Context) { panic("kaboom") })

	w := serve(r, http.MethodGet, "/panic", map[string]string{requestIDHeader: "rid-p"})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal_error", body["code"])
	assert.Equal(t, "rid-p", body["request_id"])
	assert.Contains(t, buf.String(), "panic recovered")
}

func TestRecovery_PanicAfterWrite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Logger(LogOptions{}), Recovery())
	r.GET("/late", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late kaboom")
	})

	w := serve(r, http.MethodGet, "/late", nil)
	assert.NotContains(t, strings.ToLower(w.Header().Get("Content-Type")), "application/json")
	assert.NotContains(t, w.Body.String(), "internal server error")
	assert.Contains(t, buf.String(), "panic recovered")
}

func TestLoggerFrom_Fallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.GET("/use", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("custom")
		c.Status(http.StatusOK)
	})
	serve(r, http.MethodGet, "/use", nil)

	assert.Contains(t, buf.String(), `"message":"custom"`)
	assert.NotContains(t, buf.String(), `"request_id"`)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "x", asString("x"))
	assert.Equal(t, "", asString(123))
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "abcde…", truncate("abcdefgh", 5))
	assert.Equal(t, "abc", truncate("abc", 0))
}

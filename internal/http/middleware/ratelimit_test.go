package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyByUserOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/doses/d1/confirm", nil)
	c.Request.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")

	key := KeyByUserOrIP()
	assert.Equal(t, "ip:203.0.113.9", key(c))

	c.Request.Header.Set("X-User-ID", " patient-7 ")
	assert.Equal(t, "user:patient-7", key(c))

	c.Set("userID", "u123")
	assert.Equal(t, "user:u123", key(c))
}

func TestNewRateLimiter_DefaultsAndReuse(t *testing.T) {
	rl := NewRateLimiter(2, 0, 0, nil)
	assert.Equal(t, 1, rl.burst)
	assert.NotNil(t, rl.keyFn)

	lim := rl.bucket("k1")
	require.NotNil(t, lim)
	assert.Same(t, lim, rl.bucket("k1"))
	assert.NotSame(t, lim, rl.bucket("k2"))
}

func TestRateLimiter_BucketExpires(t *testing.T) {
	rl := NewRateLimiter(1, 1, 20*time.Millisecond, nil)
	first := rl.bucket("idle")
	time.Sleep(40 * time.Millisecond)
	assert.NotSame(t, first, rl.bucket("idle"))
}

func TestIsRateBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.False(t, IsRateBypass(c))
	c.Set(ctxKeyRateBypass, "yes")
	assert.False(t, IsRateBypass(c))
	c.Set(ctxKeyRateBypass, true)
	assert.True(t, IsRateBypass(c))
}

func TestRateLimiter_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(0.0001, 1, time.Minute, func(*gin.Context) string { return "same" })

	r := gin.New()
	r.Use(RequestID())
	r.Use(func(c *gin.Context) {
		if c.GetHeader("X-Replay") == "1" {
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	})
	r.Use(rl.Handler())
	r.POST("/sync", func(c *gin.Context) { c.Status(http.StatusOK) })

	post := func(replay bool) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/sync", nil)
		if replay {
			req.Header.Set("X-Replay", "1")
		}
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, post(false).Code)

	w := post(false)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body["code"])
	assert.Equal(t, w.Header().Get(requestIDHeader), body["request_id"])

	assert.Equal(t, http.StatusOK, post(true).Code)
}

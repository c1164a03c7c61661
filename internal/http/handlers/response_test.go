package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-dose-engine/internal/services"
)

func Test_fail_500_LogsAndBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	// request id + request-scoped logger, as the middleware chain sets them
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-500")
		c.Set("logger", &logger)
		c.Next()
	})
	r.POST("/doses/:id/confirm", func(c *gin.Context) {
		serviceError(c, fmt.Errorf("load dose: %w", errors.New("database is locked")))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/doses/d1/confirm", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.RequestID != "rid-500" || resp.Code != ErrCodeInternal {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) || !strings.Contains(buf.String(), "database is locked") {
		t.Fatalf("expected error log, got: %s", buf.String())
	}
}

func Test_Fail_4xx_NotLogged(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-404")
		c.Set("logger", &logger)
		c.Next()
	})
	r.GET("/stock/:item_id", func(c *gin.Context) {
		Fail(c, http.StatusNotFound, ErrCodeNotFound, "item not found")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stock/x", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json 404: %v", err)
	}
	if er.RequestID != "rid-404" || er.Code != ErrCodeNotFound || er.PreviousTakenAt != nil {
		t.Fatalf("unexpected 404 body: %+v", er)
	}
	if buf.Len() != 0 {
		t.Fatalf("4xx should not log, got: %s", buf.String())
	}
}

func Test_serviceError_DuplicateCarriesPreviousTakenAt(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	prev := time.Date(2025, 3, 10, 8, 5, 0, 0, time.FixedZone("BRT", -3*3600))
	r.POST("/confirm", func(c *gin.Context) {
		serviceError(c, &services.DuplicateDoseWarning{DoseID: "d2", PreviousDoseID: "d1", PreviousTakenAt: prev})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/confirm", nil))
	if w.Code != http.StatusConflict {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"previous_taken_at":"2025-03-10T11:05:00Z"`) {
		t.Fatalf("previous_taken_at not normalized to UTC: %s", w.Body.String())
	}
}

func Test_ok_WritesJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ok", func(c *gin.Context) {
		ok(c, http.StatusAccepted, gin.H{"registered": false, "attempts": 1})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body["registered"] != false || int(body["attempts"].(float64)) != 1 {
		t.Fatalf("unexpected body: %#v", body)
	}
}

// Package handlers provides HTTP handler implementations for the dose engine.
//
// Every error leaves through fail(), which writes an ErrorResponse with a
// stable code and logs 5xx answers with the request-scoped logger. Service
// errors are translated in one place (serviceError) so each handler maps the
// same sentinel to the same status.
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "duplicate_dose",
//	  "message": "dose of this item already taken recently",
//	  "previous_taken_at": "2025-03-10T08:05:00Z"
//	}
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dose-engine/internal/http/middleware"
	"github.com/tbourn/go-dose-engine/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"dose not found"`
	// PreviousTakenAt is set on duplicate_dose answers.
	PreviousTakenAt *time.Time `json:"previous_taken_at,omitempty" example:"2025-03-10T08:05:00Z"`
}

func envelope(c *gin.Context, code, msg string) ErrorResponse {
	return ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}
}

// fail aborts the request with a structured error and logs server-side errors.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, envelope(c, code, msg))
}

// Fail is the exported variant of fail() for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// serviceError maps a services error to its HTTP answer.
func serviceError(c *gin.Context, err error) {
	var dup *services.DuplicateDoseWarning
	switch {
	case errors.As(err, &dup):
		resp := envelope(c, ErrCodeDuplicateDose, services.ErrDuplicateDose.Error())
		at := dup.PreviousTakenAt.UTC()
		resp.PreviousTakenAt = &at
		c.AbortWithStatusJSON(http.StatusConflict, resp)
	case errors.Is(err, services.ErrDoseNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "dose not found")
	case errors.Is(err, services.ErrItemNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "item not found")
	case errors.Is(err, services.ErrNotTracked):
		fail(c, http.StatusNotFound, ErrCodeNotTracked, err.Error())
	case errors.Is(err, services.ErrOutOfStock):
		fail(c, http.StatusConflict, ErrCodeOutOfStock, "no units left; refill before confirming")
	case errors.Is(err, services.ErrInvalidTransition):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, services.ErrPermissionDenied):
		fail(c, http.StatusForbidden, ErrCodePermissionDenied, err.Error())
	case errors.Is(err, services.ErrInvalidSnooze),
		errors.Is(err, services.ErrInvalidUnits),
		errors.Is(err, services.ErrInvalidQuietHours),
		errors.Is(err, services.ErrInvalidAction),
		errors.Is(err, services.ErrInvalidPushToken):
		fail(c, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

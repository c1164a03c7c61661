package handlers

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/tbourn/go-dose-engine/internal/http/middleware"
	"github.com/tbourn/go-dose-engine/internal/quiethours"
)

var registerOnce sync.Once

// RegisterValidators installs the custom binding tags used by the request
// types of this package ("hhmm" for 24h clock times). Safe to call more than
// once.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
			_, err := quiethours.ParseClock(fl.Field().String())
			return err == nil
		})
	})
}

// QuietHoursRequest is the body of PUT /settings/quiet-hours.
type QuietHoursRequest struct {
	Enabled *bool  `json:"enabled" binding:"required" example:"true"`
	Start   string `json:"start"   binding:"required,hhmm" example:"22:00"`
	End     string `json:"end"     binding:"required,hhmm" example:"07:00"`
}

// QuietHoursResponse describes the stored window.
type QuietHoursResponse struct {
	Enabled   bool   `json:"enabled"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Overnight bool   `json:"overnight"`
}

func quietResponse(q quiethours.QuietHours) QuietHoursResponse {
	return QuietHoursResponse{
		Enabled:   q.Enabled,
		Start:     q.Start.String(),
		End:       q.End.String(),
		Overnight: q.Overnight(),
	}
}

// GetQuietHours godoc
// @ID          getQuietHours
// @Summary     Read quiet hours
// @Tags        Settings
// @Produce     json
// @Param       X-User-ID header string false "User ID"
// @Success     200 {object} handlers.QuietHoursResponse
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /settings/quiet-hours [get]
func (h *Handlers) GetQuietHours(c *gin.Context) {
	q, err := h.svc.Settings.QuietHours(c.Request.Context(), h.userID(c))
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, quietResponse(q))
}

// PutQuietHours godoc
// @ID          putQuietHours
// @Summary     Replace quiet hours
// @Description Start after end is an overnight window. Bounds are inclusive. Pending notifications are re-evaluated on the next delivery pass.
// @Tags        Settings
// @Accept      json
// @Produce     json
// @Param       X-User-ID header string                     false "User ID"
// @Param       body      body   handlers.QuietHoursRequest true  "Quiet hours"
// @Success     200 {object} handlers.QuietHoursResponse
// @Failure     400 {object} handlers.ErrorResponse "Invalid payload"
// @Failure     422 {object} handlers.ErrorResponse "Invalid times"
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /settings/quiet-hours [put]
func (h *Handlers) PutQuietHours(c *gin.Context) {
	var req QuietHoursRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "enabled, start and end (HH:MM) are required")
		return
	}
	q, err := h.svc.Settings.SetQuietHours(c.Request.Context(), h.userID(c), *req.Enabled, req.Start, req.End)
	if err != nil {
		serviceError(c, err)
		return
	}
	if h.svc.Delivery != nil {
		if _, err := h.svc.Delivery.ScheduleWindow(c.Request.Context(), 0); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("reschedule after quiet-hours change failed")
		}
	}
	ok(c, http.StatusOK, quietResponse(q))
}

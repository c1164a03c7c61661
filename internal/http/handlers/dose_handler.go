// Dose HTTP handlers.
//
//   - GET  /doses/today          (today view)
//   - POST /doses/{id}/confirm   (mark taken)
//   - POST /doses/{id}/snooze    (push due time back)
//   - POST /doses/{id}/skip      (skip)
//   - GET  /doses/{id}/events    (audit trail)
//
// Actions go through DoseActions, which applies them to the local store and
// queues them for the remote handler.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dose-engine/internal/domain"
	"github.com/tbourn/go-dose-engine/internal/services"
)

// ConfirmDoseRequest is the optional body of a confirm call.
type ConfirmDoseRequest struct {
	// Force records the intake even when the same item was taken recently.
	Force bool `json:"force" example:"false"`
	// TakenAt backdates the intake; omitted means now.
	TakenAt *time.Time `json:"taken_at,omitempty" example:"2025-03-10T08:05:00Z"`
}

// SnoozeDoseRequest is the body of a snooze call.
type SnoozeDoseRequest struct {
	// Minutes to push the due time back (1..1440).
	Minutes int `json:"minutes" binding:"required" example:"15"`
}

// Today godoc
// @ID          getToday
// @Summary     Today's doses
// @Description Materializes today's doses, marks overdue ones missed and returns the day with stock and counts.
// @Tags        Doses
// @Produce     json
// @Param       X-User-ID header string false "User ID"
// @Success     200 {object} services.TodayView
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /doses/today [get]
func (h *Handlers) Today(c *gin.Context) {
	view, err := h.svc.Doses.Today(c.Request.Context(), h.userID(c))
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, view)
}

// ConfirmDose godoc
// @ID          confirmDose
// @Summary     Confirm a dose
// @Description Marks the dose taken and decrements tracked stock. A second intake of the same item within the duplicate window answers 409 duplicate_dose unless force is set.
// @Tags        Doses
// @Accept      json
// @Produce     json
// @Param       id   path string                      true  "Dose ID"
// @Param       body body handlers.ConfirmDoseRequest false "Confirm options"
// @Success     200 {object} domain.DoseInstance
// @Failure     400 {object} handlers.ErrorResponse "Invalid payload"
// @Failure     404 {object} handlers.ErrorResponse "Dose not found"
// @Failure     409 {object} handlers.ErrorResponse "Out of stock, duplicate dose or terminal state"
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /doses/{id}/confirm [post]
func (h *Handlers) ConfirmDose(c *gin.Context) {
	var req ConfirmDoseRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid confirm payload")
		return
	}
	opts := services.ConfirmOptions{Force: req.Force}
	if req.TakenAt != nil {
		opts.At = *req.TakenAt
	}
	d, err := h.svc.Actions.Confirm(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// SnoozeDose godoc
// @ID          snoozeDose
// @Summary     Snooze a dose
// @Description Pushes the due time back by minutes, measured from the current due time, so repeated snoozes add up.
// @Tags        Doses
// @Accept      json
// @Produce     json
// @Param       id   path string                     true "Dose ID"
// @Param       body body handlers.SnoozeDoseRequest true "Snooze payload"
// @Success     200 {object} domain.DoseInstance
// @Failure     400 {object} handlers.ErrorResponse "Invalid payload"
// @Failure     404 {object} handlers.ErrorResponse "Dose not found"
// @Failure     409 {object} handlers.ErrorResponse "Dose no longer scheduled"
// @Failure     422 {object} handlers.ErrorResponse "Minutes out of range"
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /doses/{id}/snooze [post]
func (h *Handlers) SnoozeDose(c *gin.Context) {
	var req SnoozeDoseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "minutes is required")
		return
	}
	d, err := h.svc.Actions.Snooze(c.Request.Context(), c.Param("id"), req.Minutes)
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// SkipDose godoc
// @ID          skipDose
// @Summary     Skip a dose
// @Tags        Doses
// @Produce     json
// @Param       id path string true "Dose ID"
// @Success     200 {object} domain.DoseInstance
// @Failure     404 {object} handlers.ErrorResponse "Dose not found"
// @Failure     409 {object} handlers.ErrorResponse "Dose already taken or missed"
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /doses/{id}/skip [post]
func (h *Handlers) SkipDose(c *gin.Context) {
	d, err := h.svc.Actions.Skip(c.Request.Context(), c.Param("id"))
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// DoseEventsResponse is the audit trail of one dose.
type DoseEventsResponse struct {
	DoseID string             `json:"dose_id"`
	Events []domain.DoseEvent `json:"events"`
}

// DoseEvents godoc
// @ID          doseEvents
// @Summary     Dose audit trail
// @Description Every transition of the dose with its action, source (local, remote or sweep) and delay.
// @Tags        Doses
// @Produce     json
// @Param       id path string true "Dose ID"
// @Success     200 {object} handlers.DoseEventsResponse
// @Failure     404 {object} handlers.ErrorResponse "Dose not found"
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /doses/{id}/events [get]
func (h *Handlers) DoseEvents(c *gin.Context) {
	id := c.Param("id")
	evs, err := h.svc.History.Events(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err)
		return
	}
	if evs == nil {
		evs = []domain.DoseEvent{}
	}
	ok(c, http.StatusOK, DoseEventsResponse{DoseID: id, Events: evs})
}

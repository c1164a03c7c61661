// Offline sync and remote action handlers.
//
//   - POST /dose-actions          (remote side: apply one idempotent action)
//   - POST /sync                  (replay the offline queue now)
//   - GET  /sync/pending          (unsynced actions, refused ones included)
//   - POST /delivery/reschedule   (run a delivery pass now)
//   - GET  /delivery/pending      (notifications yet to fire)
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dose-engine/internal/channel"
	"github.com/tbourn/go-dose-engine/internal/domain"
	"github.com/tbourn/go-dose-engine/internal/http/middleware"
	"github.com/tbourn/go-dose-engine/internal/services"
	"github.com/tbourn/go-dose-engine/internal/utils"
)

// HeaderReplayed marks an answer served from a stored receipt.
const HeaderReplayed = "Idempotent-Replayed"

// SyncResponse is the outcome of a manual sync.
type SyncResponse struct {
	Report services.SyncReport `json:"report"`
	// Error is set when records were left queued; they are retried later.
	Error string `json:"error,omitempty"`
}

// PendingActionsResponse lists unsynced actions in replay order. Rejected
// counts the refused ones among them.
type PendingActionsResponse struct {
	Actions  []domain.OfflineAction `json:"actions"`
	Total    int                    `json:"total"`
	Rejected int                    `json:"rejected"`
}

// PendingNotificationsResponse lists what the channel will still deliver.
type PendingNotificationsResponse struct {
	Notifications []channel.Payload `json:"notifications"`
	Total         int               `json:"total"`
}

// ApplyAction godoc
// @ID          applyDoseAction
// @Summary     Apply a dose action (remote handler)
// @Description Applies taken, snooze or skip exactly once per (dose_id, action, timestamp). Replays answer 200 with replayed=true and the Idempotent-Replayed header.
// @Tags        Sync
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key header string               false "Must equal dose_id:action:unix_ms when sent"
// @Param       body            body   domain.ActionRequest true  "Action"
// @Success     200 {object} services.ActionResult
// @Failure     400 {object} handlers.ErrorResponse "Invalid payload"
// @Failure     404 {object} handlers.ErrorResponse "Dose not found"
// @Failure     409 {object} handlers.ErrorResponse "Out of stock or terminal state"
// @Failure     422 {object} handlers.ErrorResponse "Key mismatch or invalid action"
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /dose-actions [post]
func (h *Handlers) ApplyAction(c *gin.Context) {
	var req domain.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "dose_id, action and timestamp are required")
		return
	}
	if key, present := middleware.GetIdempotencyKey(c); present && key != req.Key() {
		fail(c, http.StatusUnprocessableEntity, ErrCodeKeyMismatch, "Idempotency-Key does not match the action")
		return
	}
	res, err := h.svc.Remote.Apply(c.Request.Context(), req)
	if err != nil {
		serviceError(c, err)
		return
	}
	if res.Replayed {
		c.Header(HeaderReplayed, "true")
	}
	ok(c, http.StatusOK, res)
}

// SyncNow godoc
// @ID          syncNow
// @Summary     Replay the offline queue
// @Description Sends queued actions in order. Failures leave records queued and are reported, not raised.
// @Tags        Sync
// @Produce     json
// @Success     200 {object} handlers.SyncResponse
// @Router      /sync [post]
func (h *Handlers) SyncNow(c *gin.Context) {
	rep, err := h.svc.Sync.Sync(c.Request.Context())
	resp := SyncResponse{Report: rep}
	if err != nil {
		if !errors.Is(err, services.ErrSyncFailure) {
			serviceError(c, err)
			return
		}
		resp.Error = err.Error()
	}
	ok(c, http.StatusOK, resp)
}

// PendingActions godoc
// @ID          pendingActions
// @Summary     List unsynced actions
// @Description Records refused by the remote side are listed with rejected=true and retry_after, when they will be tried again.
// @Tags        Sync
// @Produce     json
// @Param       limit query int false "Max rows (1..500)" default(50)
// @Success     200 {object} handlers.PendingActionsResponse
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /sync/pending [get]
func (h *Handlers) PendingActions(c *gin.Context) {
	all, err := h.svc.Sync.Pending(c.Request.Context())
	if err != nil {
		serviceError(c, err)
		return
	}
	limit := utils.BoundedInt(c.Query("limit"), 50, 1, 500)
	resp := PendingActionsResponse{Actions: all, Total: len(all)}
	for _, a := range all {
		if a.Rejected {
			resp.Rejected++
		}
	}
	if len(all) > limit {
		resp.Actions = all[:limit]
	}
	if resp.Actions == nil {
		resp.Actions = []domain.OfflineAction{}
	}
	ok(c, http.StatusOK, resp)
}

// Reschedule godoc
// @ID          reschedule
// @Summary     Run a delivery pass
// @Description Materializes ahead, marks overdue doses missed and re-schedules notifications for the horizon.
// @Tags        Delivery
// @Produce     json
// @Param       horizon query string false "Go duration, e.g. 24h; defaults to the channel horizon"
// @Success     200 {object} services.WindowResult
// @Failure     400 {object} handlers.ErrorResponse "Bad horizon"
// @Failure     403 {object} handlers.ErrorResponse "Notification permission denied"
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /delivery/reschedule [post]
func (h *Handlers) Reschedule(c *gin.Context) {
	var horizon time.Duration
	if s := c.Query("horizon"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "horizon must be a positive duration")
			return
		}
		horizon = d
	}
	res, err := h.svc.Delivery.ScheduleWindow(c.Request.Context(), horizon)
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// PendingNotifications godoc
// @ID          pendingNotifications
// @Summary     Notifications yet to fire
// @Tags        Delivery
// @Produce     json
// @Success     200 {object} handlers.PendingNotificationsResponse
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /delivery/pending [get]
func (h *Handlers) PendingNotifications(c *gin.Context) {
	ps, err := h.svc.Outbox.Pending(c.Request.Context())
	if err != nil {
		serviceError(c, err)
		return
	}
	if ps == nil {
		ps = []channel.Payload{}
	}
	ok(c, http.StatusOK, PendingNotificationsResponse{Notifications: ps, Total: len(ps)})
}

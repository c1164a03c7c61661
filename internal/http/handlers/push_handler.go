package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dose-engine/internal/services"
)

// PushRegistrationRequest is the body of POST /push/registration.
type PushRegistrationRequest struct {
	Token string `json:"token" binding:"required,max=512" example:"ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]"`
	// Enabled defaults to true.
	Enabled *bool `json:"enabled,omitempty" example:"true"`
}

// RegisterPush godoc
// @ID          registerPush
// @Summary     Register the device push token
// @Description Stores the token and forwards it to the push registry with retries. A registry outage leaves the registration pending; it is retried in the background.
// @Tags        Push
// @Accept      json
// @Produce     json
// @Param       X-User-ID header string                           false "User ID"
// @Param       body      body   handlers.PushRegistrationRequest true  "Token"
// @Success     200 {object} domain.PushRegistration "Registered"
// @Success     202 {object} domain.PushRegistration "Stored, registry delivery pending"
// @Failure     400 {object} handlers.ErrorResponse "Invalid payload"
// @Failure     422 {object} handlers.ErrorResponse "Blank or rejected token"
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /push/registration [post]
func (h *Handlers) RegisterPush(c *gin.Context) {
	var req PushRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "token is required")
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	reg, err := h.svc.Push.Register(c.Request.Context(), h.userID(c), req.Token, enabled)
	if err != nil {
		switch {
		case reg == nil:
			serviceError(c, err)
			return
		case services.IsPermanent(err):
			fail(c, http.StatusUnprocessableEntity, ErrCodeValidation, "push registry rejected the token")
			return
		}
		ok(c, http.StatusAccepted, reg)
		return
	}
	ok(c, http.StatusOK, reg)
}

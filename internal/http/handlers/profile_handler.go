package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dose-engine/internal/notify"
)

// ClassifyResponse is the profile picked for a hypothetical dose.
type ClassifyResponse struct {
	DueAt   time.Time      `json:"due_at"`
	Profile notify.Profile `json:"profile"`
	Title   string         `json:"title,omitempty"`
}

// ListProfiles godoc
// @ID          listProfiles
// @Summary     List notification profiles
// @Tags        Profiles
// @Produce     json
// @Success     200 {array} notify.Profile
// @Router      /notification-profiles [get]
func (h *Handlers) ListProfiles(c *gin.Context) {
	out := make([]notify.Profile, 0, len(notify.Types))
	for _, t := range notify.Types {
		out = append(out, notify.Lookup(t))
	}
	ok(c, http.StatusOK, out)
}

// GetProfile godoc
// @ID          getProfile
// @Summary     Read one notification profile
// @Tags        Profiles
// @Produce     json
// @Param       type path string true "gentle, normal, urgent or critical"
// @Success     200 {object} notify.Profile
// @Failure     404 {object} handlers.ErrorResponse "Unknown profile"
// @Router      /notification-profiles/{type} [get]
func (h *Handlers) GetProfile(c *gin.Context) {
	t, found := notify.ParseType(c.Param("type"))
	if !found {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "unknown notification profile")
		return
	}
	ok(c, http.StatusOK, notify.Lookup(t))
}

// Classify godoc
// @ID          classify
// @Summary     Preview the profile of a dose
// @Description Runs the classifier for a due time and medication metadata without touching stored doses.
// @Tags        Profiles
// @Produce     json
// @Param       due_at   query string false "RFC3339 due time; defaults to now"
// @Param       category query string false "Medication category"
// @Param       notes    query string false "Medication notes"
// @Param       type     query string false "Explicit profile override"
// @Param       name     query string false "Medication name for the rendered title"
// @Success     200 {object} handlers.ClassifyResponse
// @Failure     400 {object} handlers.ErrorResponse "Bad due_at"
// @Router      /classify [get]
func (h *Handlers) Classify(c *gin.Context) {
	due := time.Now()
	if s := c.Query("due_at"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "due_at must be RFC3339")
			return
		}
		due = t
	}
	due = due.In(h.svc.Location)
	p := notify.Classify(due, notify.Medication{
		Category:     c.Query("category"),
		Notes:        c.Query("notes"),
		ExplicitType: c.Query("type"),
	})
	resp := ClassifyResponse{DueAt: due, Profile: p}
	if name := c.Query("name"); name != "" {
		resp.Title = p.Title(name)
	}
	ok(c, http.StatusOK, resp)
}

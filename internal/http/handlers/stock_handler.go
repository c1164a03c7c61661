package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RefillRequest is the body of a refill call.
type RefillRequest struct {
	Units int `json:"units" binding:"required" example:"30"`
}

// GetStock godoc
// @ID          getStock
// @Summary     Read an item's stock
// @Tags        Stock
// @Produce     json
// @Param       item_id path string true "Medication item ID"
// @Success     200 {object} domain.StockRecord
// @Failure     404 {object} handlers.ErrorResponse "Item unknown or stock not tracked"
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /stock/{item_id} [get]
func (h *Handlers) GetStock(c *gin.Context) {
	rec, err := h.svc.Stock.Get(c.Request.Context(), c.Param("item_id"))
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// RefillStock godoc
// @ID          refillStock
// @Summary     Refill an item
// @Description Adds units to the item's stock, starting tracking when the item had none.
// @Tags        Stock
// @Accept      json
// @Produce     json
// @Param       item_id path string                 true "Medication item ID"
// @Param       body    body handlers.RefillRequest true "Refill payload"
// @Success     200 {object} domain.StockRecord
// @Failure     400 {object} handlers.ErrorResponse "Invalid payload"
// @Failure     404 {object} handlers.ErrorResponse "Item not found"
// @Failure     422 {object} handlers.ErrorResponse "Units not positive"
// @Failure     500 {object} handlers.ErrorResponse
// @Router      /stock/{item_id}/refill [post]
func (h *Handlers) RefillStock(c *gin.Context) {
	var req RefillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "units is required")
		return
	}
	rec, err := h.svc.Stock.Refill(c.Request.Context(), c.Param("item_id"), req.Units)
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

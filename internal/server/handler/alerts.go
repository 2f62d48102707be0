package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	alertdomain "safecircle/internal/alert/domain"
	responsedomain "safecircle/internal/response/domain"
	"safecircle/internal/server/middleware"
)

type recordResponseRequest struct {
	Kind string `json:"kind" binding:"required"`
	Note string `json:"note"`
}

// getAlert returns the alert and its responses to the owner or any recipient.
func (h *Handler) getAlert(c *gin.Context) {
	ctx := c.Request.Context()
	alert, err := h.alerts.GetByID(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if alert == nil {
		h.respondError(c, alertdomain.ErrNotFound)
		return
	}
	caller := middleware.CurrentUser(c)
	if alert.OwnerID != caller && !alert.IsRecipient(caller) {
		h.respondError(c, errForbidden)
		return
	}
	responses, err := h.responses.ListByAlert(ctx, alert.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if responses == nil {
		responses = []*responsedomain.Response{}
	}
	c.JSON(http.StatusOK, gin.H{"alert": toAlertView(alert), "responses": responses})
}

// recordResponse answers 201 for a new response and 200 when an identical one was folded in.
func (h *Handler) recordResponse(c *gin.Context) {
	var req recordResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	resp, created, err := h.responses.RecordResponse(c.Request.Context(), c.Param("id"),
		middleware.CurrentUser(c), responsedomain.Kind(req.Kind), req.Note)
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, resp)
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"safecircle/internal/server/middleware"
)

type raiseAttentionRequest struct {
	Tag  string `json:"tag" binding:"required"`
	Note string `json:"note"`
}

func (h *Handler) raiseAttention(c *gin.Context) {
	var req raiseAttentionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	raised, err := h.attention.Raise(c.Request.Context(), middleware.CurrentUser(c), req.Tag, req.Note)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Set(middleware.AuditResourceKey, raised.ID)
	c.JSON(http.StatusCreated, raised)
}

func (h *Handler) activeAttention(c *gin.Context) {
	req, err := h.attention.Active(c.Request.Context(), middleware.CurrentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) clearAttention(c *gin.Context) {
	cleared, err := h.attention.Clear(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cleared)
}

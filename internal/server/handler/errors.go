package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	alertdomain "safecircle/internal/alert/domain"
	alertservice "safecircle/internal/alert/service"
	attentionservice "safecircle/internal/attention/service"
	checkindomain "safecircle/internal/checkin/domain"
	checkinservice "safecircle/internal/checkin/service"
	responseservice "safecircle/internal/response/service"
)

// errForbidden is returned when the caller does not own or take part in the resource.
var errForbidden = errors.New("forbidden")

// statusFor maps service errors to HTTP status codes and client-safe messages.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, checkinservice.ErrInvalidInput),
		errors.Is(err, responseservice.ErrInvalidInput),
		errors.Is(err, attentionservice.ErrInvalidInput),
		errors.Is(err, alertservice.ErrInvalidTrigger):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, checkindomain.ErrNotFound),
		errors.Is(err, alertdomain.ErrNotFound),
		errors.Is(err, attentionservice.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, errForbidden),
		errors.Is(err, attentionservice.ErrForbidden),
		errors.Is(err, responseservice.ErrNotRecipient):
		return http.StatusForbidden, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

// respondError writes the mapped error. Unexpected errors are logged and hidden from the client.
func (h *Handler) respondError(c *gin.Context, err error) {
	code, msg := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

// respondConflict writes 409 with the conflict reason and the current state when known.
func respondConflict(c *gin.Context, reason checkindomain.ConflictReason, current *checkindomain.CheckIn) {
	body := gin.H{"reason": string(reason)}
	if current != nil {
		body["checkin"] = toCheckInView(current)
	}
	c.AbortWithStatusJSON(http.StatusConflict, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

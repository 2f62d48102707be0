// Package handler implements the JSON HTTP API over the check-in, alert, response and attention
// services.
package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	alertdomain "safecircle/internal/alert/domain"
	alertservice "safecircle/internal/alert/service"
	attentiondomain "safecircle/internal/attention/domain"
	checkindomain "safecircle/internal/checkin/domain"
	checkinservice "safecircle/internal/checkin/service"
	"safecircle/internal/profile"
	responsedomain "safecircle/internal/response/domain"
)

// CheckInService is implemented by *checkinservice.Service.
type CheckInService interface {
	Create(ctx context.Context, in checkinservice.CreateInput) (*checkindomain.CheckIn, error)
	Get(ctx context.Context, id string) (*checkindomain.CheckIn, error)
	ConfirmSafe(ctx context.Context, id string, expectedVersion int64) (checkindomain.Transition, error)
}

// Escalator is implemented by *alertservice.Escalator.
type Escalator interface {
	Escalate(ctx context.Context, checkInID string, expectedVersion int64, trigger alertdomain.Trigger) (alertservice.Result, error)
}

// AlertReader returns an alert event or nil, nil when it does not exist.
type AlertReader interface {
	GetByID(ctx context.Context, id string) (*alertdomain.AlertEvent, error)
}

// ResponseService is implemented by *responseservice.Ledger.
type ResponseService interface {
	RecordResponse(ctx context.Context, alertID, responderID string, kind responsedomain.Kind, note string) (*responsedomain.Response, bool, error)
	ListByAlert(ctx context.Context, alertID string) ([]*responsedomain.Response, error)
}

// AttentionService is implemented by *attentionservice.Monitor.
type AttentionService interface {
	Raise(ctx context.Context, ownerID, tag, note string) (*attentiondomain.Request, error)
	Clear(ctx context.Context, ownerID, requestID string) (*attentiondomain.Request, error)
	Active(ctx context.Context, ownerID string) (*attentiondomain.Request, error)
}

// Deps holds the services behind the API. Circle may be nil; then POST /checkins requires
// contact_ids.
type Deps struct {
	CheckIns  CheckInService
	Escalator Escalator
	Alerts    AlertReader
	Responses ResponseService
	Attention AttentionService
	Circle    profile.Circle
	Logger    *zap.Logger
}

// Handler serves the /v1 API.
type Handler struct {
	checkins  CheckInService
	escalator Escalator
	alerts    AlertReader
	responses ResponseService
	attention AttentionService
	circle    profile.Circle
	logger    *zap.Logger
}

// New returns a Handler over deps.
func New(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		checkins:  deps.CheckIns,
		escalator: deps.Escalator,
		alerts:    deps.Alerts,
		responses: deps.Responses,
		attention: deps.Attention,
		circle:    deps.Circle,
		logger:    logger,
	}
}

// Register mounts the routes on rg, which is expected to be the authenticated /v1 group.
func (h *Handler) Register(rg gin.IRoutes) {
	rg.POST("/checkins", h.createCheckIn)
	rg.GET("/checkins/:id", h.getCheckIn)
	rg.POST("/checkins/:id/confirm", h.confirmCheckIn)
	rg.POST("/checkins/:id/sos", h.sos)

	rg.GET("/alerts/:id", h.getAlert)
	rg.POST("/alerts/:id/responses", h.recordResponse)

	rg.POST("/attention-requests", h.raiseAttention)
	rg.GET("/attention-requests/active", h.activeAttention)
	rg.DELETE("/attention-requests/:id", h.clearAttention)
}

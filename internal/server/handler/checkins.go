package handler

import (
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	alertdomain "safecircle/internal/alert/domain"
	checkindomain "safecircle/internal/checkin/domain"
	checkinservice "safecircle/internal/checkin/service"
	"safecircle/internal/profile"
	"safecircle/internal/server/middleware"
)

type createCheckInRequest struct {
	DurationSeconds int64                 `json:"duration_seconds"`
	Context         checkindomain.Context `json:"context"`
	// ContactIDs nil means "use my trusted circle".
	ContactIDs *[]string `json:"contact_ids"`
}

// maxDurationSeconds is the largest duration_seconds that converts to a time.Duration without
// overflowing.
const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

type versionRequest struct {
	Version int64 `json:"version"`
}

func (h *Handler) createCheckIn(c *gin.Context) {
	var req createCheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.DurationSeconds <= 0 || req.DurationSeconds > maxDurationSeconds {
		badRequest(c, "duration_seconds out of range")
		return
	}
	owner := middleware.CurrentUser(c)
	ctx := c.Request.Context()

	var contacts []string
	if req.ContactIDs != nil {
		contacts = *req.ContactIDs
	} else {
		if h.circle == nil {
			badRequest(c, "contact_ids is required")
			return
		}
		circle, err := h.circle.TrustedContacts(ctx, owner)
		if errors.Is(err, profile.ErrUnknownUser) {
			badRequest(c, "contact_ids is required")
			return
		}
		if err != nil {
			h.respondError(c, err)
			return
		}
		contacts = circle
	}

	created, err := h.checkins.Create(ctx, checkinservice.CreateInput{
		OwnerID:    owner,
		Duration:   time.Duration(req.DurationSeconds) * time.Second,
		Context:    req.Context,
		ContactIDs: contacts,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Set(middleware.AuditResourceKey, created.ID)
	c.JSON(http.StatusCreated, toCheckInView(created))
}

// ownedCheckIn loads the check-in and enforces that the caller owns it. It writes the error
// response and returns nil on failure.
func (h *Handler) ownedCheckIn(c *gin.Context) *checkindomain.CheckIn {
	ci, err := h.checkins.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return nil
	}
	if ci.OwnerID != middleware.CurrentUser(c) {
		h.respondError(c, errForbidden)
		return nil
	}
	return ci
}

func (h *Handler) getCheckIn(c *gin.Context) {
	ci := h.ownedCheckIn(c)
	if ci == nil {
		return
	}
	c.JSON(http.StatusOK, toCheckInView(ci))
}

// bindVersion reads an optional {"version": n} body. An empty body means version 0.
func bindVersion(c *gin.Context) (int64, bool) {
	var req versionRequest
	if c.Request.ContentLength == 0 {
		return 0, true
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) || req.Version < 0 {
		badRequest(c, "invalid request body")
		return 0, false
	}
	return req.Version, true
}

func (h *Handler) confirmCheckIn(c *gin.Context) {
	version, ok := bindVersion(c)
	if !ok {
		return
	}
	ci := h.ownedCheckIn(c)
	if ci == nil {
		return
	}
	tr, err := h.checkins.ConfirmSafe(c.Request.Context(), ci.ID, version)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !tr.OK() {
		respondConflict(c, tr.Conflict, tr.CheckIn)
		return
	}
	c.JSON(http.StatusOK, toCheckInView(tr.CheckIn))
}

func (h *Handler) sos(c *gin.Context) {
	version, ok := bindVersion(c)
	if !ok {
		return
	}
	ci := h.ownedCheckIn(c)
	if ci == nil {
		return
	}
	res, err := h.escalator.Escalate(c.Request.Context(), ci.ID, version, alertdomain.TriggerSOS)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !res.OK() {
		respondConflict(c, res.Conflict, res.CheckIn)
		return
	}
	body := gin.H{"checkin": toCheckInView(res.CheckIn)}
	if res.Alert != nil {
		body["alert"] = toAlertView(res.Alert)
		c.Set(middleware.AuditResourceKey, res.Alert.ID)
	}
	c.JSON(http.StatusOK, body)
}

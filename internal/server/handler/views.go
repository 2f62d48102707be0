package handler

import (
	"time"

	alertdomain "safecircle/internal/alert/domain"
	checkindomain "safecircle/internal/checkin/domain"
)

type checkInView struct {
	ID          string                `json:"id"`
	OwnerID     string                `json:"owner_id"`
	CreatedAt   time.Time             `json:"created_at"`
	DeadlineAt  time.Time             `json:"deadline_at"`
	Status      checkindomain.Status  `json:"status"`
	ContactIDs  []string              `json:"contact_ids"`
	Context     checkindomain.Context `json:"context"`
	Version     int64                 `json:"version"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	AlertedAt   *time.Time            `json:"alerted_at,omitempty"`
}

func toCheckInView(c *checkindomain.CheckIn) checkInView {
	return checkInView{
		ID:          c.ID,
		OwnerID:     c.OwnerID,
		CreatedAt:   c.CreatedAt,
		DeadlineAt:  c.DeadlineAt,
		Status:      c.Status,
		ContactIDs:  c.SelectedContactIDs,
		Context:     c.Context,
		Version:     c.Version,
		CompletedAt: c.CompletedAt,
		AlertedAt:   c.AlertedAt,
	}
}

type alertView struct {
	ID                string              `json:"id"`
	CheckInID         string              `json:"checkin_id"`
	OwnerID           string              `json:"owner_id"`
	Trigger           alertdomain.Trigger `json:"trigger"`
	FiredAt           time.Time           `json:"fired_at"`
	RecipientIDs      []string            `json:"recipient_ids"`
	ChannelsAttempted []string            `json:"channels_attempted"`
	FanoutCompletedAt *time.Time          `json:"fanout_completed_at,omitempty"`
}

func toAlertView(a *alertdomain.AlertEvent) alertView {
	channels := a.ChannelsAttempted
	if channels == nil {
		channels = []string{}
	}
	return alertView{
		ID:                a.ID,
		CheckInID:         a.CheckInID,
		OwnerID:           a.OwnerID,
		Trigger:           a.Trigger,
		FiredAt:           a.FiredAt,
		RecipientIDs:      a.RecipientIDs,
		ChannelsAttempted: channels,
		FanoutCompletedAt: a.FanoutCompletedAt,
	}
}

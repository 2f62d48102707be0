// Package repository is the delivery ledger: one row per (event, recipient, channel) recording
// whether a notification went out, so that a re-dispatch never sends twice.
package repository

import (
	"context"
	"time"
)

// Status is the state of one delivery.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// ClaimResult is the outcome of Claim.
type ClaimResult string

const (
	// ClaimAcquired means the caller owns the delivery and must send then Complete.
	ClaimAcquired ClaimResult = "acquired"
	// ClaimAlreadyDelivered means an earlier dispatch delivered it; do not send.
	ClaimAlreadyDelivered ClaimResult = "already_delivered"
	// ClaimInFlight means another dispatcher holds an unexpired claim.
	ClaimInFlight ClaimResult = "in_flight"
)

// Key identifies one delivery.
type Key struct {
	EventID     string
	RecipientID string
	Channel     string
}

// Delivery is a ledger row.
type Delivery struct {
	Key
	Status      Status
	Attempts    int
	LastError   string
	ClaimedAt   time.Time
	DeliveredAt *time.Time
	UpdatedAt   time.Time
}

// Repository defines the delivery ledger.
type Repository interface {
	// Claim takes ownership of a delivery. New, failed, and pending rows whose claim is older than
	// lease are acquirable; delivered rows never are.
	Claim(ctx context.Context, key Key, now time.Time, lease time.Duration) (ClaimResult, error)
	// Complete records the result of a claimed delivery and adds attempts to the running total.
	Complete(ctx context.Context, key Key, delivered bool, attempts int, lastError string, at time.Time) error
	// Get returns the row or nil, nil.
	Get(ctx context.Context, key Key) (*Delivery, error)
	// ListByEvent returns every row for an event.
	ListByEvent(ctx context.Context, eventID string) ([]*Delivery, error)
}

// Package domain holds the attention request model: a deadline-free "I need support" flag.
package domain

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an attention request does not exist.
var ErrNotFound = errors.New("attention request not found")

// Request is an owner's support flag. At most one is active per owner; it is deactivated when
// cleared or when the owner raises another.
type Request struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Tag       string     `json:"tag"`
	Note      string     `json:"note,omitempty"`
	RaisedAt  time.Time  `json:"raised_at"`
	Active    bool       `json:"active"`
	ClearedAt *time.Time `json:"cleared_at,omitempty"`
}

// Clone returns a copy of r, or nil when r is nil.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	if r.ClearedAt != nil {
		t := *r.ClearedAt
		c.ClearedAt = &t
	}
	return &c
}

// Deactivate returns a copy of r cleared at at.
func (r *Request) Deactivate(at time.Time) *Request {
	c := r.Clone()
	c.Active = false
	c.ClearedAt = &at
	return c
}

package domain

import (
	"testing"
	"time"
)

func TestNormalizeContacts(t *testing.T) {
	got := NormalizeContacts([]string{" a ", "b", "", "a", "c", "b"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("NormalizeContacts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("NormalizeContacts[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestApplyTerminal(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := &CheckIn{ID: "c1", Status: StatusActive, Version: 1, SelectedContactIDs: []string{"a"}}

	done := c.ApplyTerminal(StatusCompleted, now)
	if done.Status != StatusCompleted || done.Version != 2 {
		t.Errorf("status = %q version = %d, want completed/2", done.Status, done.Version)
	}
	if done.CompletedAt == nil || !done.CompletedAt.Equal(now) {
		t.Errorf("CompletedAt = %v, want %v", done.CompletedAt, now)
	}
	if c.Status != StatusActive || c.Version != 1 {
		t.Error("ApplyTerminal must not mutate the receiver")
	}

	done.SelectedContactIDs[0] = "z"
	if c.SelectedContactIDs[0] != "a" {
		t.Error("Clone must not share contact slice")
	}
}

func TestReasonForStatus(t *testing.T) {
	cases := map[Status]ConflictReason{
		StatusCompleted: ReasonAlreadyCompleted,
		StatusAlerted:   ReasonAlreadyAlerted,
		StatusActive:    ReasonStaleVersion,
	}
	for s, want := range cases {
		if got := ReasonForStatus(s); got != want {
			t.Errorf("ReasonForStatus(%q) = %q, want %q", s, got, want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusActive.Terminal() {
		t.Error("active must not be terminal")
	}
	if !StatusCompleted.Terminal() || !StatusAlerted.Terminal() {
		t.Error("completed and alerted must be terminal")
	}
	if Status("bogus").Valid() {
		t.Error("unknown status must be invalid")
	}
}

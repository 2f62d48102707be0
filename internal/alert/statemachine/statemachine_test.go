package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alertdomain "safecircle/internal/alert/domain"
	"safecircle/internal/checkin/domain"
)

var (
	created  = time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	deadline = created.Add(10 * time.Minute)
)

func snapshot(s domain.Status) domain.CheckIn {
	return domain.CheckIn{ID: "c1", OwnerID: "u1", CreatedAt: created, DeadlineAt: deadline, Status: s, Version: 1,
		SelectedContactIDs: []string{"a", "b"}}
}

func kinds(d Decision) []EffectKind {
	out := make([]EffectKind, 0, len(d.Effects))
	for _, e := range d.Effects {
		out = append(out, e.Kind)
	}
	return out
}

func TestDecide_Table(t *testing.T) {
	testCases := []struct {
		name       string
		from       domain.Status
		ev         Event
		next       domain.Status
		transition bool
		conflict   domain.ConflictReason
		effects    []EffectKind
		trigger    alertdomain.Trigger
	}{
		{"active confirm", domain.StatusActive, Confirm(created.Add(5 * time.Minute)), domain.StatusCompleted, true, "",
			[]EffectKind{EffectCancelDeadline, EffectPublishStateChange}, ""},
		{"active deadline due", domain.StatusActive, DeadlineFired(deadline), domain.StatusAlerted, true, "",
			[]EffectKind{EffectRaiseAlert, EffectPublishStateChange}, alertdomain.TriggerDeadline},
		{"active deadline late", domain.StatusActive, DeadlineFired(deadline.Add(time.Hour)), domain.StatusAlerted, true, "",
			[]EffectKind{EffectRaiseAlert, EffectPublishStateChange}, alertdomain.TriggerDeadline},
		{"active deadline early", domain.StatusActive, DeadlineFired(deadline.Add(-time.Second)), domain.StatusActive, false,
			domain.ReasonNotDue, []EffectKind{}, ""},
		{"active sos", domain.StatusActive, ManualSOS(created.Add(time.Minute)), domain.StatusAlerted, true, "",
			[]EffectKind{EffectCancelDeadline, EffectRaiseAlert, EffectPublishStateChange}, alertdomain.TriggerSOS},
		{"completed confirm is idempotent", domain.StatusCompleted, Confirm(deadline), domain.StatusCompleted, false, "",
			[]EffectKind{}, ""},
		{"completed deadline", domain.StatusCompleted, DeadlineFired(deadline), domain.StatusCompleted, false,
			domain.ReasonAlreadyCompleted, []EffectKind{}, ""},
		{"completed sos", domain.StatusCompleted, ManualSOS(deadline), domain.StatusCompleted, false,
			domain.ReasonAlreadyCompleted, []EffectKind{}, ""},
		{"alerted confirm", domain.StatusAlerted, Confirm(deadline), domain.StatusAlerted, false,
			domain.ReasonAlreadyAlerted, []EffectKind{}, ""},
		{"alerted deadline", domain.StatusAlerted, DeadlineFired(deadline), domain.StatusAlerted, false,
			domain.ReasonAlreadyAlerted, []EffectKind{}, ""},
		{"alerted sos", domain.StatusAlerted, ManualSOS(deadline), domain.StatusAlerted, false,
			domain.ReasonAlreadyAlerted, []EffectKind{}, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(snapshot(tc.from), tc.ev)
			assert.Equal(t, tc.from, d.From)
			assert.Equal(t, tc.next, d.Next)
			assert.Equal(t, tc.transition, d.Transition)
			assert.Equal(t, tc.conflict, d.Conflict)
			assert.Equal(t, tc.effects, kinds(d))
			trigger, ok := d.RaiseTrigger()
			assert.Equal(t, tc.trigger != "", ok)
			assert.Equal(t, tc.trigger, trigger)
		})
	}
}

func TestDecide_TerminalStatesNeverTransition(t *testing.T) {
	for _, s := range []domain.Status{domain.StatusCompleted, domain.StatusAlerted} {
		for _, ev := range []Event{Confirm(deadline), DeadlineFired(deadline), ManualSOS(deadline)} {
			d := Decide(snapshot(s), ev)
			assert.False(t, d.Transition, "%s + %s", s, ev.Kind)
			assert.Equal(t, s, d.Next)
			assert.Empty(t, d.Effects)
		}
	}
}

func TestDecide_IsPure(t *testing.T) {
	snap := snapshot(domain.StatusActive)
	_ = Decide(snap, ManualSOS(deadline))
	assert.Equal(t, domain.StatusActive, snap.Status)
	assert.Equal(t, int64(1), snap.Version)
}

func TestBuildAlertEvent_SnapshotsRecipients(t *testing.T) {
	c := snapshot(domain.StatusAlerted)
	ev := BuildAlertEvent("a1", &c, alertdomain.TriggerDeadline, deadline)
	require.Equal(t, []string{"a", "b"}, ev.RecipientIDs)
	c.SelectedContactIDs[0] = "changed"
	assert.Equal(t, "a", ev.RecipientIDs[0])
	assert.Equal(t, "c1", ev.CheckInID)
	assert.Equal(t, "u1", ev.OwnerID)
	assert.True(t, ev.FiredAt.Equal(deadline))
	assert.True(t, ev.IsRecipient("b"))
	assert.False(t, ev.IsRecipient("u1"))
}

func TestMergeChannels(t *testing.T) {
	got := alertdomain.MergeChannels([]string{"push"}, []string{"sms", "push", "email"})
	assert.Equal(t, []string{"push", "sms", "email"}, got)
}

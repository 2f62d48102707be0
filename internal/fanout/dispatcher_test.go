package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safecircle/internal/clock"
	"safecircle/internal/fanout/policy"
	"safecircle/internal/fanout/repository"
	"safecircle/internal/notify"
	"safecircle/internal/profile"
)

type fakeSender struct {
	channel notify.Channel

	mu        sync.Mutex
	calls     map[string]int
	failures  int
	permanent bool
	delay     time.Duration
}

func newFakeSender(ch notify.Channel) *fakeSender {
	return &fakeSender{channel: ch, calls: make(map[string]int)}
}

func (f *fakeSender) Channel() notify.Channel { return f.channel }

func (f *fakeSender) Send(ctx context.Context, address string, _ notify.Payload) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[address]++
	if f.permanent {
		return notify.Permanent(errors.New("rejected"))
	}
	if f.failures > 0 {
		f.failures--
		return errors.New("gateway timeout")
	}
	return nil
}

func (f *fakeSender) count(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[address]
}

type harness struct {
	dispatcher *Dispatcher
	ledger     *repository.MemoryRepository
	push       *fakeSender
	sms        *fakeSender
	email      *fakeSender
}

func newHarness(t *testing.T, cfg Config, senders ...notify.Sender) *harness {
	t.Helper()
	h := &harness{
		ledger: repository.NewMemoryRepository(),
		push:   newFakeSender(notify.ChannelPush),
		sms:    newFakeSender(notify.ChannelSMS),
		email:  newFakeSender(notify.ChannelEmail),
	}
	if senders == nil {
		senders = []notify.Sender{h.push, h.sms, h.email}
	}
	dir := profile.NewStatic(map[string]profile.User{
		"alex": {DisplayName: "Alex", Channels: profile.Channels{Push: "tok-alex", SMS: "1555000001"}},
		"bo":   {DisplayName: "Bo", Channels: profile.Channels{SMS: "1555000002", Email: "bo@example.com"}},
		"cy":   {DisplayName: "Cy"},
	})
	planner, err := policy.NewOPAPlanner(context.Background(), "", nil)
	require.NoError(t, err)
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = time.Millisecond
		cfg.MaxBackoff = 5 * time.Millisecond
	}
	h.dispatcher = NewDispatcher(dir, planner, notify.NewRegistry(senders...), h.ledger, clock.NewFake(time.Date(2024, 8, 1, 18, 10, 0, 0, time.UTC)), cfg)
	return h
}

func alertMessage(recipients ...string) Message {
	return Message{
		EventID:      "alert-1",
		Kind:         KindAlert,
		OwnerID:      "sam",
		RecipientIDs: recipients,
		Title:        "Safety alert",
		Body:         "Sam missed a check-in",
		Data:         map[string]string{"trigger": "deadline"},
	}
}

func statuses(rr RecipientReport) map[string]OutcomeStatus {
	out := make(map[string]OutcomeStatus)
	for _, o := range rr.Outcomes {
		out[o.Channel] = o.Status
	}
	return out
}

func TestDispatch_AllChannels(t *testing.T) {
	h := newHarness(t, Config{})
	report := h.dispatcher.Dispatch(context.Background(), alertMessage("alex", "bo"))

	require.Len(t, report.Recipients, 2)
	assert.True(t, report.Delivered("alex"))
	assert.True(t, report.Delivered("bo"))
	alex, _ := report.Recipient("alex")
	assert.Equal(t, map[string]OutcomeStatus{"push": OutcomeDelivered, "sms": OutcomeDelivered}, statuses(alex))
	assert.Equal(t, []string{"push", "sms", "email"}, report.AttemptedChannels())
	assert.Zero(t, report.Failures())

	assert.Equal(t, 1, h.push.count("tok-alex"))
	assert.Equal(t, 1, h.sms.count("1555000002"))
	row, err := h.ledger.Get(context.Background(), repository.Key{EventID: "alert-1", RecipientID: "bo", Channel: "email"})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusDelivered, row.Status)
}

func TestDispatch_RepeatNeverResends(t *testing.T) {
	h := newHarness(t, Config{})
	msg := alertMessage("alex", "bo")
	h.dispatcher.Dispatch(context.Background(), msg)
	second := h.dispatcher.Dispatch(context.Background(), msg)

	for _, rr := range second.Recipients {
		for _, o := range rr.Outcomes {
			assert.Equal(t, OutcomeSkippedDelivered, o.Status, "%s/%s", rr.RecipientID, o.Channel)
		}
	}
	assert.True(t, second.Delivered("alex"))
	assert.Equal(t, 1, h.push.count("tok-alex"))
	assert.Equal(t, 1, h.sms.count("1555000001"))
	assert.Equal(t, 1, h.email.count("bo@example.com"))
}

func TestDispatch_ConcurrentDispatchSendsOnce(t *testing.T) {
	h := newHarness(t, Config{})
	h.push.delay = 5 * time.Millisecond
	h.sms.delay = 5 * time.Millisecond
	h.email.delay = 5 * time.Millisecond
	msg := alertMessage("alex", "bo")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.dispatcher.Dispatch(context.Background(), msg)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.push.count("tok-alex"))
	assert.Equal(t, 1, h.sms.count("1555000001"))
	assert.Equal(t, 1, h.sms.count("1555000002"))
	assert.Equal(t, 1, h.email.count("bo@example.com"))
}

func TestDispatch_RetriesTransientFailures(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 5})
	h.push.failures = 2

	report := h.dispatcher.Dispatch(context.Background(), alertMessage("alex"))
	alex, _ := report.Recipient("alex")
	require.Equal(t, "push", alex.Outcomes[0].Channel)
	assert.Equal(t, OutcomeDelivered, alex.Outcomes[0].Status)
	assert.Equal(t, 3, alex.Outcomes[0].Attempts)
}

func TestDispatch_ExhaustedRetriesAreRecorded(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 3})
	h.push.failures = 100

	report := h.dispatcher.Dispatch(context.Background(), alertMessage("alex"))
	alex, _ := report.Recipient("alex")
	assert.Equal(t, OutcomeFailed, alex.Outcomes[0].Status)
	assert.Equal(t, 3, alex.Outcomes[0].Attempts)
	assert.Contains(t, alex.Outcomes[0].Error, "gateway timeout")
	assert.Equal(t, OutcomeDelivered, alex.Outcomes[1].Status, "other channels still go out")
	assert.Equal(t, 1, report.Failures())

	row, err := h.ledger.Get(context.Background(), repository.Key{EventID: "alert-1", RecipientID: "alex", Channel: "push"})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusFailed, row.Status)
	assert.Equal(t, 3, row.Attempts)
}

func TestDispatch_PermanentFailureStopsRetrying(t *testing.T) {
	h := newHarness(t, Config{MaxAttempts: 5})
	h.push.permanent = true

	report := h.dispatcher.Dispatch(context.Background(), alertMessage("alex"))
	alex, _ := report.Recipient("alex")
	assert.Equal(t, OutcomeFailed, alex.Outcomes[0].Status)
	assert.Equal(t, 1, alex.Outcomes[0].Attempts)

	h.push.permanent = false
	again := h.dispatcher.Dispatch(context.Background(), alertMessage("alex"))
	alex, _ = again.Recipient("alex")
	assert.Equal(t, OutcomeDelivered, alex.Outcomes[0].Status, "failed deliveries are retried on re-dispatch")
	assert.Equal(t, OutcomeSkippedDelivered, alex.Outcomes[1].Status)
}

func TestDispatch_MissingSenderIsUnavailable(t *testing.T) {
	sms := newFakeSender(notify.ChannelSMS)
	h := newHarness(t, Config{}, sms)

	report := h.dispatcher.Dispatch(context.Background(), alertMessage("alex"))
	alex, _ := report.Recipient("alex")
	assert.Equal(t, map[string]OutcomeStatus{"push": OutcomeUnavailable, "sms": OutcomeDelivered}, statuses(alex))
}

func TestDispatch_AttentionStopsAtFirstSuccess(t *testing.T) {
	h := newHarness(t, Config{})
	msg := alertMessage("bo")
	msg.Kind = KindAttention
	msg.EventID = "attention-1"
	msg.Data = nil
	h.sms.permanent = true

	report := h.dispatcher.Dispatch(context.Background(), msg)
	bo, _ := report.Recipient("bo")
	require.Len(t, bo.Outcomes, 2)
	assert.Equal(t, OutcomeFailed, bo.Outcomes[0].Status)
	assert.Equal(t, "email", bo.Outcomes[1].Channel)
	assert.Equal(t, OutcomeDelivered, bo.Outcomes[1].Status)

	h.sms.permanent = false
	report = h.dispatcher.Dispatch(context.Background(), msg)
	bo, _ = report.Recipient("bo")
	require.Len(t, bo.Outcomes, 1)
	assert.Equal(t, OutcomeDelivered, bo.Outcomes[0].Status)
	assert.Equal(t, 1, h.email.count("bo@example.com"))
}

func TestDispatch_UnresolvableRecipients(t *testing.T) {
	h := newHarness(t, Config{})
	report := h.dispatcher.Dispatch(context.Background(), alertMessage("ghost", "cy"))

	ghost, _ := report.Recipient("ghost")
	assert.Contains(t, ghost.Error, "unknown user")
	cy, _ := report.Recipient("cy")
	assert.Equal(t, "no reachable channel", cy.Error)
	assert.False(t, report.Delivered("cy"))
	assert.Equal(t, 2, report.Failures())
}

func TestDispatch_NoRecipients(t *testing.T) {
	h := newHarness(t, Config{})
	report := h.dispatcher.Dispatch(context.Background(), alertMessage())
	assert.Equal(t, "alert-1", report.EventID)
	assert.Empty(t, report.Recipients)
	assert.Empty(t, report.AttemptedChannels())
}

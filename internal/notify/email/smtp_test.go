package email

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"safecircle/internal/notify"
)

type fakeDialer struct {
	sent []*mail.Msg
	err  error
}

func (f *fakeDialer) DialAndSendWithContext(_ context.Context, messages ...*mail.Msg) error {
	f.sent = append(f.sent, messages...)
	return f.err
}

func TestNewSender_RequiresHostAndFrom(t *testing.T) {
	_, err := NewSender(Config{From: "alerts@example.com"})
	require.Error(t, err)
	_, err = NewSender(Config{Host: "smtp.example.com"})
	require.Error(t, err)

	s, err := NewSender(Config{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "alerts@example.com"})
	require.NoError(t, err)
	assert.Equal(t, notify.ChannelEmail, s.Channel())
}

func TestSender_Send(t *testing.T) {
	d := &fakeDialer{}
	s := &Sender{from: "alerts@example.com", dialer: d}

	err := s.Send(context.Background(), " alex@example.com ", notify.Payload{Title: "Safety alert", Body: "Sam missed a check-in"})
	require.NoError(t, err)
	require.Len(t, d.sent, 1)

	rcpts, err := d.sent[0].GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"alex@example.com"}, rcpts)
	assert.Equal(t, []string{"Safety alert"}, d.sent[0].GetGenHeader(mail.HeaderSubject))

	var buf bytes.Buffer
	_, err = d.sent[0].WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Sam missed a check-in")
}

func TestSender_InvalidAddressIsPermanent(t *testing.T) {
	d := &fakeDialer{}
	s := &Sender{from: "alerts@example.com", dialer: d}

	err := s.Send(context.Background(), "not an address", notify.Payload{Title: "t", Body: "b"})
	assert.ErrorIs(t, err, notify.ErrPermanent)
	assert.Empty(t, d.sent)
}

func TestSender_DialFailureIsRetryable(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	s := &Sender{from: "alerts@example.com", dialer: d}

	err := s.Send(context.Background(), "alex@example.com", notify.Payload{Title: "t", Body: "b"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, notify.ErrPermanent))
}

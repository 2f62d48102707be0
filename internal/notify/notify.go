// Package notify defines the transport gateways used to reach a contact on a single channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Channel is a delivery transport.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// ErrPermanent marks a send failure that retrying cannot fix (bad address, rejected payload).
var ErrPermanent = errors.New("permanent delivery failure")

// Permanent wraps err so that errors.Is(err, ErrPermanent) holds.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Payload is the channel-neutral message content.
type Payload struct {
	Title string
	Body  string
	Data  map[string]string
}

// Text renders the payload for text-only channels.
func (p Payload) Text() string {
	if p.Title == "" {
		return p.Body
	}
	if p.Body == "" {
		return p.Title
	}
	return p.Title + ": " + p.Body
}

// Sender delivers a payload to one address on one channel.
type Sender interface {
	Channel() Channel
	Send(ctx context.Context, address string, p Payload) error
}

// Registry maps channels to their configured senders.
type Registry struct {
	senders map[Channel]Sender
}

// NewRegistry returns a registry of the given senders. Nil senders are skipped; a later sender
// for the same channel replaces an earlier one.
func NewRegistry(senders ...Sender) *Registry {
	r := &Registry{senders: make(map[Channel]Sender)}
	for _, s := range senders {
		if s == nil {
			continue
		}
		r.senders[s.Channel()] = s
	}
	return r
}

// Sender returns the sender for ch.
func (r *Registry) Sender(ch Channel) (Sender, bool) {
	if r == nil {
		return nil, false
	}
	s, ok := r.senders[ch]
	return s, ok
}

// Channels lists the configured channels in name order.
func (r *Registry) Channels() []Channel {
	out := make([]Channel, 0, len(r.senders))
	for ch := range r.senders {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

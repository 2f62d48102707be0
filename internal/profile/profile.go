// Package profile is the client side of the external identity and social-graph services: contact
// channels, display names, and each owner's trusted circle.
package profile

import (
	"context"
	"errors"
)

// ErrUnknownUser is returned when the directory has no record of a user.
var ErrUnknownUser = errors.New("unknown user")

// Channel names understood by Channels.Address.
const (
	ChannelPush  = "push"
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

// Channels holds a user's delivery addresses. Empty fields mean the channel is not reachable.
type Channels struct {
	Push  string `json:"push,omitempty"`
	SMS   string `json:"sms,omitempty"`
	Email string `json:"email,omitempty"`
}

// Address returns the address for the named channel.
func (c Channels) Address(channel string) string {
	switch channel {
	case ChannelPush:
		return c.Push
	case ChannelSMS:
		return c.SMS
	case ChannelEmail:
		return c.Email
	}
	return ""
}

// Available lists the channels with an address, in push, sms, email order.
func (c Channels) Available() []string {
	out := make([]string, 0, 3)
	for _, ch := range []string{ChannelPush, ChannelSMS, ChannelEmail} {
		if c.Address(ch) != "" {
			out = append(out, ch)
		}
	}
	return out
}

// Directory resolves how to reach a user and what to call them.
type Directory interface {
	ContactChannels(ctx context.Context, userID string) (Channels, error)
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Circle answers who an owner's trusted contacts are.
type Circle interface {
	TrustedContacts(ctx context.Context, ownerID string) ([]string, error)
}

// Package email delivers notifications over SMTP.
package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"safecircle/internal/notify"
)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type dialer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Sender sends plain-text email through an SMTP relay.
type Sender struct {
	from   string
	dialer dialer
}

// NewSender returns an SMTP sender. Authentication is enabled when a username is set.
func NewSender(cfg Config) (*Sender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("email: SMTP host not configured")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("email: sender address not configured")
	}
	opts := []mail.Option{
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("email: new client: %w", err)
	}
	return &Sender{from: cfg.From, dialer: client}, nil
}

func (s *Sender) Channel() notify.Channel { return notify.ChannelEmail }

// Send emails p to address. Malformed addresses are permanent failures.
func (s *Sender) Send(ctx context.Context, address string, p notify.Payload) error {
	msg, err := s.build(address, p)
	if err != nil {
		return err
	}
	if err := s.dialer.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("email: send: %w", err)
	}
	return nil
}

func (s *Sender) build(address string, p notify.Payload) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return nil, notify.Permanent(fmt.Errorf("email: from %q: %w", s.from, err))
	}
	if err := msg.To(strings.TrimSpace(address)); err != nil {
		return nil, notify.Permanent(fmt.Errorf("email: to %q: %w", address, err))
	}
	subject := p.Title
	if subject == "" {
		subject = "SafeCircle notification"
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, p.Body)
	return msg, nil
}

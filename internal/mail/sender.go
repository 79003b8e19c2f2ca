// Package mail delivers rendered messages over an authenticated SMTP
// submission channel.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// Message is one outbound delivery: a single recipient, subject, and
// plain-text body.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender is the transport boundary the dispatcher depends on. Sending is not
// idempotent; callers own the at-most-one-attempt guarantee.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Config holds SMTP submission settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPSender sends messages through an SMTP relay with STARTTLS and
// username/password auth. Each Send dials a fresh session and closes it on
// every exit path, so no connection outlives the call.
type SMTPSender struct {
	cfg  Config
	from string
}

// NewSMTPSender builds an SMTPSender. Callers should pass a validated config.
func NewSMTPSender(cfg Config) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp from address is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPSender{cfg: cfg, from: strings.TrimSpace(cfg.From)}, nil
}

// Send transmits one message. The error return is the only failure surface;
// nothing is retried here.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("recipient is required")
	}

	m := gomail.NewMsg()
	if err := m.From(s.from); err != nil {
		return fmt.Errorf("set from address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)

	client, err := gomail.NewClient(
		s.cfg.Host,
		gomail.WithPort(s.cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSMandatory),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.cfg.Username),
		gomail.WithPassword(s.cfg.Password),
		gomail.WithTimeout(s.cfg.Timeout),
	)
	if err != nil {
		return fmt.Errorf("build smtp client: %w", err)
	}

	// DialAndSendWithContext closes the session whether the transmit
	// succeeds or fails.
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

// Package mail delivers plain-text notification emails.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// ErrNoRecipients is returned when a message has no usable To address.
var ErrNoRecipients = errors.New("mail: no recipients")

// Message is a single plain-text email.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

func (m Message) recipients() []string {
	out := make([]string, 0, len(m.To))
	for _, to := range m.To {
		if to = strings.TrimSpace(to); to != "" {
			out = append(out, to)
		}
	}
	return out
}

// SMTPConfig holds connection settings for an SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// TLS is one of "opportunistic" (default), "mandatory" or "none".
	TLS     string
	Timeout time.Duration
}

// SMTPSender sends through an SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender validates cfg and returns a sender. The connection is opened per message.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if _, err := tlsPolicy(cfg.TLS); err != nil {
		return nil, err
	}
	return &SMTPSender{cfg: cfg}, nil
}

func tlsPolicy(raw string) (gomail.TLSPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "opportunistic":
		return gomail.TLSOpportunistic, nil
	case "mandatory":
		return gomail.TLSMandatory, nil
	case "none":
		return gomail.NoTLS, nil
	default:
		return gomail.NoTLS, fmt.Errorf("unknown smtp tls policy %q", raw)
	}
}

// Send builds and delivers one message.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	to := msg.recipients()
	if len(to) == 0 {
		return ErrNoRecipients
	}
	m := gomail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := m.To(to...); err != nil {
		return fmt.Errorf("mail to: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)

	policy, _ := tlsPolicy(s.cfg.TLS)
	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTLSPolicy(policy),
		gomail.WithTimeout(s.cfg.Timeout),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	client, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// ConsoleSender writes messages to the log instead of sending them.
type ConsoleSender struct {
	Logger *slog.Logger
}

// Send logs the message.
func (c ConsoleSender) Send(ctx context.Context, msg Message) error {
	to := msg.recipients()
	if len(to) == 0 {
		return ErrNoRecipients
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "email",
		"from", msg.From,
		"to", to,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}

// Outbox records messages in memory. Set Err to make every send fail.
type Outbox struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

// Send records msg, or returns Err when set.
func (o *Outbox) Send(_ context.Context, msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	if len(msg.recipients()) == 0 {
		return ErrNoRecipients
	}
	msg.To = msg.recipients()
	o.sent = append(o.sent, msg)
	return nil
}

// Messages returns a copy of everything sent so far.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.sent...)
}

// Reset clears recorded messages.
func (o *Outbox) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = nil
}

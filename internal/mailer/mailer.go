// Package mailer delivers report artifacts by email over a pluggable
// transport.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/reportmailer/internal/config"
)

const DefaultBody = "Please find the report attached."

// ErrNoRecipients is returned without contacting the transport when a message
// has no TO address. CC-only delivery is never attempted.
var ErrNoRecipients = errors.New("no TO recipients configured")

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Message struct {
	Subject     string
	Body        string
	To          []string
	CC          []string
	Attachments []Attachment
}

// Sender identifies the From address of outgoing mail.
type Sender struct {
	Address string
	Name    string
}

// Transport hands a validated message to a mail provider.
type Transport interface {
	Deliver(ctx context.Context, from Sender, msg Message) error
}

type Mailer struct {
	transport Transport
	from      Sender
	logger    *slog.Logger
}

func New(transport Transport, from Sender, logger *slog.Logger) *Mailer {
	return &Mailer{transport: transport, from: from, logger: logger}
}

// NewFromConfig builds a Mailer using the transport named by mail.transport.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Mailer, error) {
	from := Sender{Address: cfg.Mail.From, Name: cfg.Mail.FromName}
	switch cfg.Mail.Transport {
	case "smtp", "":
		return New(NewSMTPTransport(cfg.Mail.SMTPHost, cfg.Mail.SMTPPort, cfg.Mail.Username, cfg.Mail.Password), from, logger), nil
	case "sendgrid":
		return New(NewSendGridTransport(cfg.Mail.SendGridAPIKey), from, logger), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Mail.Transport)
	}
}

// Send validates msg and delivers it. Transport failures are returned as
// *DeliveryError.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	if msg.Body == "" {
		msg.Body = DefaultBody
	}

	if err := m.transport.Deliver(ctx, m.from, msg); err != nil {
		derr := &DeliveryError{Class: Classify(err), Err: err}
		m.logger.Warn("mail delivery failed",
			"subject", msg.Subject,
			"to", msg.To,
			"class", derr.Class,
			"error", err)
		return derr
	}

	m.logger.Info("mail delivered", "subject", msg.Subject, "to", msg.To, "cc", msg.CC)
	return nil
}

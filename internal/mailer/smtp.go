package mailer

import (
	"context"
	"io"

	"gopkg.in/gomail.v2"
)

// SMTPTransport delivers through an SMTP relay.
type SMTPTransport struct {
	dialer *gomail.Dialer
	send   func(from string, to []string, m *gomail.Message) error
}

func NewSMTPTransport(host string, port int, username, password string) *SMTPTransport {
	t := &SMTPTransport{dialer: gomail.NewDialer(host, port, username, password)}
	t.send = t.dialAndSend
	return t
}

func (t *SMTPTransport) Deliver(ctx context.Context, from Sender, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rcpt := make([]string, 0, len(msg.To)+len(msg.CC))
	rcpt = append(rcpt, msg.To...)
	rcpt = append(rcpt, msg.CC...)
	return t.send(from.Address, rcpt, buildSMTPMessage(from, msg))
}

// dialAndSend sends through the SendCloser so server replies stay
// *textproto.Error values.
func (t *SMTPTransport) dialAndSend(from string, to []string, m *gomail.Message) error {
	s, err := t.dialer.Dial()
	if err != nil {
		return err
	}
	if err := s.Send(from, to, m); err != nil {
		s.Close()
		return err
	}
	return s.Close()
}

func buildSMTPMessage(from Sender, msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", from.Address, from.Name)
	m.SetHeader("To", msg.To...)
	if len(msg.CC) > 0 {
		m.SetHeader("Cc", msg.CC...)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	for _, a := range msg.Attachments {
		data := a.Data
		m.Attach(a.Filename,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
			gomail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}),
		)
	}
	return m
}

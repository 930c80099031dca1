package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/reportmailer/internal/config"
	"github.com/reportmailer/internal/logger"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type fakeTransport struct {
	calls []Message
	err   error
}

func (f *fakeTransport) Deliver(_ context.Context, _ Sender, msg Message) error {
	f.calls = append(f.calls, msg)
	return f.err
}

var from = Sender{Address: "reports@example.com", Name: "Reports"}

func TestSend_RequiresTo(t *testing.T) {
	tr := &fakeTransport{}
	m := New(tr, from, logger.Discard())

	err := m.Send(context.Background(), Message{Subject: "s", CC: []string{"cc@example.com"}})
	assert.ErrorIs(t, err, ErrNoRecipients)
	assert.Empty(t, tr.calls)
}

func TestSend_DefaultBody(t *testing.T) {
	tr := &fakeTransport{}
	m := New(tr, from, logger.Discard())

	require.NoError(t, m.Send(context.Background(), Message{Subject: "s", To: []string{"a@example.com"}}))
	require.Len(t, tr.calls, 1)
	assert.Equal(t, DefaultBody, tr.calls[0].Body)
}

func TestSend_ClassifiesTransportError(t *testing.T) {
	tr := &fakeTransport{err: &textproto.Error{Code: 535, Msg: "5.7.8 bad credentials"}}
	m := New(tr, from, logger.Discard())

	err := m.Send(context.Background(), Message{To: []string{"a@example.com"}})
	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, ClassAuthenticationFailure, derr.Class)
	assert.Equal(t, "Email failed: mail server rejected the credentials", derr.Summary())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"dns", &net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host", Name: "smtp.invalid", IsNotFound: true}}, ClassDNSFailure},
		{"refused", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, ClassConnectionRefused},
		{"deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), ClassTimeout},
		{"smtp auth", &textproto.Error{Code: 535, Msg: "auth"}, ClassAuthenticationFailure},
		{"smtp recipient", &textproto.Error{Code: 550, Msg: "mailbox unavailable"}, ClassInvalidRecipient},
		{"sendgrid unauthorized", &StatusError{StatusCode: 401}, ClassAuthenticationFailure},
		{"sendgrid bad email", &StatusError{StatusCode: 400, Body: `{"errors":[{"message":"Does not contain a valid address.","field":"personalizations.0.to.0.email"}]}`}, ClassInvalidRecipient},
		{"flattened smtp recipient", errors.New("gomail: could not send email 1: 550 5.1.1 User unknown"), ClassInvalidRecipient},
		{"flattened smtp auth", errors.New("gomail: could not send email 1: 535 5.7.8 Authentication credentials invalid"), ClassAuthenticationFailure},
		{"text timeout", errors.New("i/o timeout"), ClassTimeout},
		{"unknown", errors.New("boom"), ClassUnknown},
		{"nil", nil, ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestUnknownSummaryCarriesError(t *testing.T) {
	derr := &DeliveryError{Class: ClassUnknown, Err: errors.New("boom")}
	assert.Equal(t, "Email failed: boom", derr.Summary())
}

func testMessage() Message {
	return Message{
		Subject: "Daily sales",
		Body:    "see attached",
		To:      []string{"a@example.com", "b@example.com"},
		CC:      []string{"c@example.com"},
		Attachments: []Attachment{{
			Filename:    "RPT00001_sales.xlsx",
			ContentType: "application/octet-stream",
			Data:        []byte("xlsx-bytes"),
		}},
	}
}

func TestSMTPTransport_BuildsMessage(t *testing.T) {
	var sent *gomail.Message
	tr := NewSMTPTransport("localhost", 25, "", "")
	var envelope []string
	tr.send = func(_ string, to []string, m *gomail.Message) error {
		sent = m
		envelope = to
		return nil
	}

	require.NoError(t, tr.Deliver(context.Background(), from, testMessage()))
	require.NotNil(t, sent)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, sent.GetHeader("To"))
	assert.Equal(t, []string{"c@example.com"}, sent.GetHeader("Cc"))
	assert.Equal(t, []string{"Daily sales"}, sent.GetHeader("Subject"))
	assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com"}, envelope)

	var buf bytes.Buffer
	_, err := sent.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `filename="RPT00001_sales.xlsx"`)
}

func TestSMTPTransport_CanceledContext(t *testing.T) {
	tr := NewSMTPTransport("localhost", 25, "", "")
	tr.send = func(string, []string, *gomail.Message) error { t.Fatal("send must not be called"); return nil }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.Deliver(ctx, from, testMessage()), context.Canceled)
}

// smtpServer accepts one session, answers RCPT with rcptReply and everything
// else with success.
func smtpServer(t *testing.T, rcptReply string) (string, int) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 relay.test ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			switch verb, _, _ := strings.Cut(strings.ToUpper(line), " "); verb {
			case "EHLO", "HELO", "MAIL", "RSET", "NOOP":
				_ = tp.PrintfLine("250 OK")
			case "RCPT":
				_ = tp.PrintfLine("%s", rcptReply)
			case "QUIT":
				_ = tp.PrintfLine("221 Bye")
				return
			default:
				_ = tp.PrintfLine("502 Command not implemented")
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestSMTPTransport_RecipientRejected(t *testing.T) {
	host, port := smtpServer(t, "550 5.1.1 User unknown")
	m := New(NewSMTPTransport(host, port, "", ""), from, logger.Discard())

	err := m.Send(context.Background(), Message{Subject: "s", To: []string{"nobody@example.com"}})
	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, ClassInvalidRecipient, derr.Class)
	assert.Equal(t, "Email failed: a recipient address was rejected", derr.Summary())

	var reply *textproto.Error
	require.ErrorAs(t, err, &reply)
	assert.Equal(t, 550, reply.Code)
}

type fakeSendGrid struct {
	got  *mail.SGMailV3
	resp *rest.Response
	err  error
}

func (f *fakeSendGrid) SendWithContext(_ context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.got = email
	return f.resp, f.err
}

func TestSendGridTransport(t *testing.T) {
	client := &fakeSendGrid{resp: &rest.Response{StatusCode: 202}}
	tr := &SendGridTransport{client: client}

	require.NoError(t, tr.Deliver(context.Background(), from, testMessage()))
	require.NotNil(t, client.got)
	assert.Equal(t, "reports@example.com", client.got.From.Address)
	require.Len(t, client.got.Personalizations, 1)
	assert.Len(t, client.got.Personalizations[0].To, 2)
	assert.Len(t, client.got.Personalizations[0].CC, 1)
	require.Len(t, client.got.Attachments, 1)
	assert.Equal(t, "RPT00001_sales.xlsx", client.got.Attachments[0].Filename)
}

func TestSendGridTransport_StatusError(t *testing.T) {
	client := &fakeSendGrid{resp: &rest.Response{StatusCode: 401, Body: "unauthorized"}}
	tr := &SendGridTransport{client: client}

	err := tr.Deliver(context.Background(), from, testMessage())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, ClassAuthenticationFailure, Classify(err))
}

func TestNewFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Mail.Transport = "sendgrid"
	cfg.Mail.SendGridAPIKey = "SG.x"
	m, err := NewFromConfig(cfg, logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &SendGridTransport{}, m.transport)

	cfg.Mail.Transport = "smtp"
	m, err = NewFromConfig(cfg, logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &SMTPTransport{}, m.transport)

	cfg.Mail.Transport = "fax"
	_, err = NewFromConfig(cfg, logger.Discard())
	assert.Error(t, err)
}

package mailer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
	"syscall"
)

type Class string

const (
	ClassDNSFailure            Class = "DnsFailure"
	ClassConnectionRefused     Class = "ConnectionRefused"
	ClassAuthenticationFailure Class = "AuthenticationFailure"
	ClassInvalidRecipient      Class = "InvalidRecipient"
	ClassTimeout               Class = "Timeout"
	ClassUnknown               Class = "Unknown"
)

// DeliveryError is a classified transport failure.
type DeliveryError struct {
	Class Class
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver mail (%s): %v", e.Class, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Summary is the short message written to the execution log.
func (e *DeliveryError) Summary() string {
	switch e.Class {
	case ClassDNSFailure:
		return "Email failed: mail server host could not be resolved"
	case ClassConnectionRefused:
		return "Email failed: mail server refused the connection"
	case ClassAuthenticationFailure:
		return "Email failed: mail server rejected the credentials"
	case ClassInvalidRecipient:
		return "Email failed: a recipient address was rejected"
	case ClassTimeout:
		return "Email failed: timed out talking to the mail server"
	default:
		return fmt.Sprintf("Email failed: %v", e.Err)
	}
}

// replyCode finds an SMTP reply code at the start of a flattened message or
// after a "prefix: ".
var replyCode = regexp.MustCompile(`(?:^|:\s)([245]\d\d)[\s-]`)

func classifyReply(code int) (Class, bool) {
	switch code {
	case 530, 534, 535, 538:
		return ClassAuthenticationFailure, true
	case 501, 550, 551, 553:
		return ClassInvalidRecipient, true
	}
	return ClassUnknown, false
}

// Classify maps a transport error onto a delivery failure class.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return ClassTimeout
		}
		return ClassDNSFailure
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ClassConnectionRefused
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if c, ok := classifyReply(tpErr.Code); ok {
			return c
		}
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case 401, 403:
			return ClassAuthenticationFailure
		case 400:
			if strings.Contains(strings.ToLower(statusErr.Body), "email") {
				return ClassInvalidRecipient
			}
		}
	}

	msg := strings.ToLower(err.Error())
	if m := replyCode.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		if c, ok := classifyReply(code); ok {
			return c
		}
	}
	switch {
	case strings.Contains(msg, "no such host"):
		return ClassDNSFailure
	case strings.Contains(msg, "connection refused"):
		return ClassConnectionRefused
	case strings.Contains(msg, "authentication") || strings.Contains(msg, "auth failed") || strings.Contains(msg, "username and password"):
		return ClassAuthenticationFailure
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return ClassTimeout
	case strings.Contains(msg, "recipient") || strings.Contains(msg, "mailbox unavailable") || strings.Contains(msg, "invalid address"):
		return ClassInvalidRecipient
	}
	return ClassUnknown
}

// Package notify alerts operators about report runs that failed for good.
package notify

import (
	"context"
	"log/slog"

	"github.com/reportmailer/internal/models"
	"github.com/reportmailer/internal/queue"
)

type Config struct {
	SlackToken     string
	SlackChannel   string
	EmailReceivers []string
}

// New returns a notifier for every configured channel, or Nop when none is.
func New(cfg Config, sender Sender, logger *slog.Logger) queue.Notifier {
	var channels Multi
	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		channels = append(channels, NewSlackNotifier(cfg.SlackToken, cfg.SlackChannel, logger))
	}
	if len(cfg.EmailReceivers) > 0 && sender != nil {
		channels = append(channels, NewEmailNotifier(sender, cfg.EmailReceivers, logger))
	}

	switch len(channels) {
	case 0:
		return Nop{}
	case 1:
		return channels[0]
	default:
		return channels
	}
}

// Multi fans a failure out to several notifiers.
type Multi []queue.Notifier

func (m Multi) TaskFailed(ctx context.Context, task models.Task, err error) {
	for _, n := range m {
		n.TaskFailed(ctx, task, err)
	}
}

// Nop discards notifications.
type Nop struct{}

func (Nop) TaskFailed(context.Context, models.Task, error) {}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

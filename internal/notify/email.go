package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/reportmailer/internal/mailer"
	"github.com/reportmailer/internal/models"
	"github.com/reportmailer/internal/queue"
)

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// EmailNotifier mails exhausted tasks to a fixed list of operators.
type EmailNotifier struct {
	sender    Sender
	receivers []string
	logger    *slog.Logger
}

func NewEmailNotifier(sender Sender, receivers []string, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{sender: sender, receivers: receivers, logger: logger}
}

func (e *EmailNotifier) TaskFailed(ctx context.Context, task models.Task, err error) {
	if serr := e.sender.Send(ctx, e.message(task, err)); serr != nil {
		e.logger.Warn("failed to send email alert", "task_id", task.ID, "error", serr)
	}
}

func (e *EmailNotifier) message(task models.Task, cause error) mailer.Message {
	work, _ := queue.Decode(task)

	var b strings.Builder
	fmt.Fprintf(&b, "Report: %d\n", work.ReportID)
	if work.QueryID != 0 {
		fmt.Fprintf(&b, "Query: %d\n", work.QueryID)
	}
	fmt.Fprintf(&b, "Kind: %s\n", task.Kind)
	fmt.Fprintf(&b, "Attempts: %d/%d\n", task.Attempts, task.MaxAttempts)
	fmt.Fprintf(&b, "Task: %s\n", task.ID)
	fmt.Fprintf(&b, "Error: %s\n", errorText(cause))
	fmt.Fprintf(&b, "Time: %s\n", time.Now().Format(time.RFC3339))

	return mailer.Message{
		Subject: fmt.Sprintf("Report run failed: report %d", work.ReportID),
		Body:    b.String(),
		To:      e.receivers,
	}
}

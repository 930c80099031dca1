package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/reportmailer/internal/models"
	"github.com/reportmailer/internal/queue"
	"github.com/slack-go/slack"
)

const failureColor = "#FF0000"

// SlackNotifier posts exhausted tasks to a Slack channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	logger  *slog.Logger
}

func NewSlackNotifier(token, channel string, logger *slog.Logger, opts ...slack.Option) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(token, opts...),
		channel: channel,
		logger:  logger,
	}
}

func (s *SlackNotifier) TaskFailed(ctx context.Context, task models.Task, err error) {
	if perr := s.post(ctx, task, err); perr != nil {
		s.logger.Warn("failed to send slack alert", "task_id", task.ID, "error", perr)
	}
}

func (s *SlackNotifier) post(ctx context.Context, task models.Task, cause error) error {
	work, _ := queue.Decode(task)
	fields := []slack.AttachmentField{
		{Title: "Report", Value: strconv.FormatUint(uint64(work.ReportID), 10), Short: true},
		{Title: "Kind", Value: string(task.Kind), Short: true},
		{Title: "Attempts", Value: fmt.Sprintf("%d/%d", task.Attempts, task.MaxAttempts), Short: true},
		{Title: "Task", Value: task.ID, Short: true},
	}
	if work.QueryID != 0 {
		fields = append(fields, slack.AttachmentField{Title: "Query", Value: strconv.FormatUint(uint64(work.QueryID), 10), Short: true})
	}

	attachment := slack.Attachment{
		Color:  failureColor,
		Title:  "Report run failed after all retries",
		Text:   errorText(cause),
		Fields: fields,
		Footer: "reportmailer",
		Ts:     json.Number(strconv.FormatInt(time.Now().Unix(), 10)),
	}

	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionAttachments(attachment))
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	return nil
}

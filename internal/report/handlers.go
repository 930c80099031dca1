package report

import (
	"context"
	"errors"

	"github.com/reportmailer/internal/models"
	"github.com/reportmailer/internal/queue"
	"github.com/reportmailer/internal/store"
)

// Register installs the report and ad-hoc query handlers on w. A report or
// query that no longer exists fails the task without retries.
func (o *Orchestrator) Register(w *queue.Worker) {
	w.Handle(models.TaskKindReportRun, func(ctx context.Context, work queue.UnitOfWork) error {
		_, err := o.Run(ctx, work.ReportID)
		return terminal(err)
	})
	w.Handle(models.TaskKindQueryRun, func(ctx context.Context, work queue.UnitOfWork) error {
		_, err := o.RunQuery(ctx, work.ReportID, work.QueryID)
		return terminal(err)
	})
}

func terminal(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return queue.Permanent(err)
	}
	return err
}

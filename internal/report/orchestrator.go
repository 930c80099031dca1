// Package report runs a report end to end: every query, one workbook, one
// email, with each step written to the execution log.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reportmailer/internal/dialect"
	"github.com/reportmailer/internal/logger"
	"github.com/reportmailer/internal/mailer"
	"github.com/reportmailer/internal/models"
	"github.com/reportmailer/internal/query"
	"github.com/reportmailer/internal/sheet"
	"github.com/reportmailer/internal/store"
	"github.com/reportmailer/internal/totals"
	"golang.org/x/sync/errgroup"
)

var ErrNoQueries = errors.New("report has no queries")

// QueryRunner executes one statement against a source connection.
type QueryRunner interface {
	Run(ctx context.Context, conn models.DatabaseConnection, sqlText string, params map[string]string) (*query.Result, error)
}

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, msg mailer.Message) error
}

type Status string

const (
	StatusSucceeded           Status = "succeeded"
	StatusSucceededWithErrors Status = "succeeded_with_errors"
)

type Artifact struct {
	Filename string
	MimeType string
	Data     []byte
}

// Outcome summarizes one run. Errors counts the error entries it logged.
type Outcome struct {
	RunID    string
	Status   Status
	Errors   int
	Artifact *Artifact
}

type Orchestrator struct {
	store       *store.Store
	runner      QueryRunner
	mailer      Sender
	concurrency int
	loc         *time.Location
	now         func() time.Time
	logger      *slog.Logger
}

func NewOrchestrator(st *store.Store, runner QueryRunner, m Sender, concurrency int, loc *time.Location, logger *slog.Logger) *Orchestrator {
	if concurrency <= 0 {
		concurrency = 1
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Orchestrator{
		store:       st,
		runner:      runner,
		mailer:      m,
		concurrency: concurrency,
		loc:         loc,
		now:         time.Now,
		logger:      logger,
	}
}

// run carries the state of one execution.
type run struct {
	id     string
	report *models.Report
	logger *slog.Logger
	record bool

	mu     sync.Mutex
	errors int
}

func (o *Orchestrator) newRun(ctx context.Context, report *models.Report, record bool) (context.Context, *run) {
	id := uuid.NewString()
	ctx = logger.WithRunID(ctx, id)
	return ctx, &run{
		id:     id,
		report: report,
		logger: logger.FromContext(ctx, o.logger).With("report_id", report.ID, "report_code", report.Code),
		record: record,
	}
}

// log appends an execution log entry for the run. Failing to write the log
// does not stop the run.
func (o *Orchestrator) log(ctx context.Context, r *run, queryID *uint, status models.LogStatus, message string) {
	if status == models.LogStatusError {
		r.mu.Lock()
		r.errors++
		r.mu.Unlock()
	}
	if !r.record {
		return
	}
	if err := o.store.Record(ctx, r.report.ID, queryID, r.id, status, message); err != nil {
		r.logger.Error("failed to write execution log", "error", err, "message", message)
	}
}

// Run executes the report: all queries, one workbook, one email. The
// report's last_executed_at is always updated. Only a delivery failure is
// returned as an error, after it has been logged.
func (o *Orchestrator) Run(ctx context.Context, reportID uint) (*Outcome, error) {
	report, err := o.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	ctx, r := o.newRun(ctx, report, true)
	r.logger.Info("report run started", "queries", len(report.Queries))
	o.log(ctx, r, nil, models.LogStatusSuccess, "Report run started")

	outcome := &Outcome{RunID: r.id}
	defer func() {
		o.complete(ctx, r, outcome)
	}()

	if len(report.Queries) == 0 {
		o.log(ctx, r, nil, models.LogStatusError, "Report has no queries configured; nothing to send")
		return outcome, nil
	}

	sheets := o.execute(ctx, r)

	artifact, err := o.assemble(r, sheets)
	if err != nil {
		o.log(ctx, r, nil, models.LogStatusError, fmt.Sprintf("Failed to build spreadsheet: %v", err))
		return outcome, err
	}
	outcome.Artifact = artifact

	return outcome, o.deliver(ctx, r, artifact)
}

func (o *Orchestrator) complete(ctx context.Context, r *run, outcome *Outcome) {
	if err := o.store.MarkExecuted(ctx, r.report.ID, o.now()); err != nil {
		r.logger.Error("failed to update last execution time", "error", err)
	}
	outcome.Errors = r.errors
	outcome.Status = StatusSucceeded
	if r.errors > 0 {
		outcome.Status = StatusSucceededWithErrors
	}
	r.logger.Info("report run completed", "status", outcome.Status, "errors", r.errors)
}

// Download builds the same workbook Run would send, without logging or
// emailing it.
func (o *Orchestrator) Download(ctx context.Context, reportID uint) (*Artifact, error) {
	report, err := o.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if len(report.Queries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoQueries, report.Code)
	}
	ctx, r := o.newRun(ctx, report, false)
	return o.assemble(r, o.execute(ctx, r))
}

// RunQuery executes one of the report's queries ad hoc and logs its outcome
// against the report. Nothing is emailed.
func (o *Orchestrator) RunQuery(ctx context.Context, reportID, queryID uint) (*query.Result, error) {
	report, err := o.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	for _, rq := range report.Queries {
		if rq.QueryID != queryID {
			continue
		}
		ctx, r := o.newRun(ctx, report, true)
		res, _ := o.runOne(ctx, r, rq.Query)
		return res, nil
	}
	return nil, fmt.Errorf("%w: query %d is not part of report %s", store.ErrNotFound, queryID, report.Code)
}

// execute runs every query of the report and returns their sheets in
// association order. A failing query yields an error sheet and never stops
// the others.
func (o *Orchestrator) execute(ctx context.Context, r *run) []sheet.Sheet {
	sheets := make([]sheet.Sheet, len(r.report.Queries))

	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)
	for i, rq := range r.report.Queries {
		i, q := i, rq.Query
		g.Go(func() error {
			sheets[i] = o.querySheet(ctx, r, q)
			return nil
		})
	}
	_ = g.Wait()
	return sheets
}

func (o *Orchestrator) querySheet(ctx context.Context, r *run, q models.SqlQuery) sheet.Sheet {
	res, err := o.runOne(ctx, r, q)
	if err != nil {
		return sheet.Sheet{Name: q.Name, Notice: err.Error()}
	}
	s := sheet.Sheet{Name: q.Name, Result: res}
	if q.EnableTotals {
		s.Totals = totals.Compute(res, q.TotalColumns, q.TotalsLabelColumn, q.Label())
	}
	return s
}

// runOne runs q with the report's parameters and logs the outcome.
func (o *Orchestrator) runOne(ctx context.Context, r *run, q models.SqlQuery) (res *query.Result, err error) {
	qid := q.ID
	log := r.logger.With("query_id", qid, "query", q.Name)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		if err != nil {
			log.Warn("query failed", "error", err)
			o.log(ctx, r, &qid, models.LogStatusError, fmt.Sprintf("Query %q failed: %v", q.Name, err))
			return
		}
		rows := 0
		if res != nil {
			rows = len(res.Rows)
		}
		log.Info("query executed", "rows", rows)
		o.log(ctx, r, &qid, models.LogStatusSuccess, fmt.Sprintf("Query %q executed successfully (%d rows)", q.Name, rows))
	}()

	if q.Database.CredentialErr != nil {
		return nil, &dialect.ConnectionError{Backend: q.Database.Backend, Err: q.Database.CredentialErr}
	}
	return o.runner.Run(ctx, q.Database, q.SQLText, r.report.ParamsFor(q.ID))
}

func (o *Orchestrator) assemble(r *run, sheets []sheet.Sheet) (*Artifact, error) {
	data, err := sheet.Assemble(sheets)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Filename: Filename(r.report, o.now().In(o.loc)),
		MimeType: sheet.MimeType,
		Data:     data,
	}, nil
}

func (o *Orchestrator) deliver(ctx context.Context, r *run, artifact *Artifact) error {
	to, cc := r.report.Recipients()
	if len(to) == 0 {
		o.log(ctx, r, nil, models.LogStatusError, "No TO recipients configured; email not sent")
		return nil
	}

	subject := r.report.Subject
	if subject == "" {
		subject = fmt.Sprintf("%s - %s", r.report.Code, r.report.Name)
	}
	err := o.mailer.Send(ctx, mailer.Message{
		Subject: subject,
		Body:    r.report.Message,
		To:      to,
		CC:      cc,
		Attachments: []mailer.Attachment{{
			Filename:    artifact.Filename,
			ContentType: artifact.MimeType,
			Data:        artifact.Data,
		}},
	})
	if err != nil {
		summary := err.Error()
		var derr *mailer.DeliveryError
		if errors.As(err, &derr) {
			summary = derr.Summary()
		}
		o.log(ctx, r, nil, models.LogStatusError, summary)
		return fmt.Errorf("report %s: %w", r.report.Code, err)
	}

	o.log(ctx, r, nil, models.LogStatusSuccess, "Email sent to "+strings.Join(append(append([]string{}, to...), cc...), ", "))
	return nil
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Filename returns <code>_<name>_<YYYYMMDDHHMMSS>.xlsx.
func Filename(report *models.Report, at time.Time) string {
	name := strings.Trim(unsafeFilename.ReplaceAllString(report.Name, "_"), "_")
	if name == "" {
		name = "report"
	}
	return fmt.Sprintf("%s_%s_%s.xlsx", report.Code, name, at.Format("20060102150405"))
}

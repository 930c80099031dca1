package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/reportmailer/internal/models"
	"github.com/reportmailer/internal/queue"
	"github.com/reportmailer/internal/store"
	"github.com/robfig/cron/v3"
)

// Scheduler registers report triggers. One-off schedules become delayed
// queue tasks; recurring schedules are cron entries that enqueue one report
// run per firing.
type Scheduler struct {
	cron   *cron.Cron
	store  *store.Store
	queue  *queue.Queue
	policy queue.RetryPolicy
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	entries map[uint]cron.EntryID // registration ID → cron entry
}

func New(st *store.Store, q *queue.Queue, policy queue.RetryPolicy, loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		store:   st,
		queue:   q,
		policy:  policy,
		loc:     loc,
		now:     time.Now,
		logger:  logger,
		entries: make(map[uint]cron.EntryID),
	}
}

// Start loads the recurring registrations and starts cron.
func (s *Scheduler) Start(ctx context.Context) error {
	regs, err := s.store.ListRegistrations(ctx, models.ScheduleKindRecurring)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, reg := range regs {
		if err := s.addEntry(reg); err != nil {
			s.logger.Warn("invalid cron schedule",
				"report_id", reg.ReportID,
				"schedule", reg.CronExpr,
				"error", err,
			)
		}
	}
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("report scheduler started", "recurring", len(regs), "timezone", s.loc.String())
	return nil
}

// Stop stops cron and waits for firings in progress.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("report scheduler stopped")
}

// ScheduleReport validates spec, replaces the report's trigger and records
// spec on the report.
func (s *Scheduler) ScheduleReport(ctx context.Context, reportID uint, spec models.ScheduleSpec) (*models.ScheduleRegistration, error) {
	now := s.now()
	if err := Validate(spec, now); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg := &models.ScheduleRegistration{ReportID: reportID}
	if spec.Periodic {
		expr, err := CronExpr(spec)
		if err != nil {
			return nil, err
		}
		next, err := nextFromExpr(expr, now, s.loc)
		if err != nil {
			return nil, err
		}
		reg.Kind = models.ScheduleKindRecurring
		reg.CronExpr = expr
		reg.NextRunAt = &next
	} else {
		taskID, err := s.queue.Enqueue(ctx, queue.ReportRun(reportID), s.policy, *spec.ExecuteAt)
		if err != nil {
			return nil, err
		}
		at := *spec.ExecuteAt
		reg.Kind = models.ScheduleKindOnce
		reg.TaskID = taskID
		reg.NextRunAt = &at
	}

	previous, err := s.store.SaveRegistration(ctx, reg)
	if err != nil {
		if reg.TaskID != "" {
			_ = s.queue.Cancel(ctx, reg.TaskID)
		}
		return nil, err
	}
	if previous != nil {
		s.release(ctx, *previous)
	}
	if reg.Kind == models.ScheduleKindRecurring {
		if err := s.addEntry(*reg); err != nil {
			return nil, err
		}
	}
	if err := s.store.SetSchedule(ctx, reportID, spec); err != nil {
		return nil, err
	}

	s.logger.Info("report scheduled",
		"report_id", reportID,
		"kind", reg.Kind,
		"cron", reg.CronExpr,
		"next_run_at", reg.NextRunAt,
	)
	return reg, nil
}

// Unschedule cancels the trigger behind handle and clears the report's
// schedule. Runs already in flight complete normally.
func (s *Scheduler) Unschedule(ctx context.Context, handle uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.store.GetRegistration(ctx, handle)
	if err != nil {
		return err
	}
	s.release(ctx, *reg)
	if err := s.store.DeleteRegistration(ctx, reg.ID); err != nil {
		return err
	}
	if err := s.store.SetSchedule(ctx, reg.ReportID, models.ScheduleSpec{}); err != nil {
		return err
	}
	s.logger.Info("report unscheduled", "report_id", reg.ReportID, "schedule_id", reg.ID)
	return nil
}

// UnscheduleReport removes the report's trigger if it has one.
func (s *Scheduler) UnscheduleReport(ctx context.Context, reportID uint) error {
	reg, err := s.store.RegistrationForReport(ctx, reportID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.Unschedule(ctx, reg.ID)
}

// RunReportNow enqueues one immediate report run and returns the task id.
func (s *Scheduler) RunReportNow(ctx context.Context, reportID uint) (string, error) {
	return s.queue.Enqueue(ctx, queue.ReportRun(reportID), s.policy, time.Time{})
}

// RunQueryNow enqueues one immediate ad-hoc query run.
func (s *Scheduler) RunQueryNow(ctx context.Context, reportID, queryID uint) (string, error) {
	return s.queue.Enqueue(ctx, queue.QueryRun(reportID, queryID), s.policy, time.Time{})
}

// release drops the live trigger of reg. Must be called with mu held.
func (s *Scheduler) release(ctx context.Context, reg models.ScheduleRegistration) {
	switch reg.Kind {
	case models.ScheduleKindRecurring:
		if id, ok := s.entries[reg.ID]; ok {
			s.cron.Remove(id)
			delete(s.entries, reg.ID)
		}
	case models.ScheduleKindOnce:
		if reg.TaskID == "" {
			return
		}
		if err := s.queue.Cancel(ctx, reg.TaskID); err != nil && !errors.Is(err, queue.ErrTaskNotFound) {
			s.logger.Warn("failed to cancel scheduled task", "task_id", reg.TaskID, "error", err)
		}
	}
}

// addEntry must be called with mu held.
func (s *Scheduler) addEntry(reg models.ScheduleRegistration) error {
	regID, reportID, expr := reg.ID, reg.ReportID, reg.CronExpr
	entryID, err := s.cron.AddFunc(expr, func() {
		s.fire(regID, reportID, expr)
	})
	if err != nil {
		return fmt.Errorf("add cron entry %q: %w", expr, err)
	}
	s.entries[regID] = entryID
	return nil
}

// fire enqueues the report run for one recurring firing.
func (s *Scheduler) fire(regID, reportID uint, expr string) {
	ctx := context.Background()
	taskID, err := s.queue.Enqueue(ctx, queue.ReportRun(reportID), s.policy, time.Time{})
	if err != nil {
		s.logger.Warn("scheduled trigger failed", "report_id", reportID, "error", err)
		return
	}
	s.logger.Info("scheduled run enqueued", "report_id", reportID, "task_id", taskID)

	if next, err := nextFromExpr(expr, s.now(), s.loc); err == nil {
		if err := s.store.UpdateNextRun(ctx, regID, &next); err != nil {
			s.logger.Warn("failed to update next run", "report_id", reportID, "error", err)
		}
	}
}

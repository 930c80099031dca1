// Package queue is a durable task queue kept in the database of record.
// Each task is one unit of work retried with a fixed backoff.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reportmailer/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 30 * time.Minute
)

var ErrTaskNotFound = errors.New("task not found or no longer pending")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying: the task fails on this attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// UnitOfWork is the payload of a task: a full report run, or a single
// ad-hoc query run when QueryID is set.
type UnitOfWork struct {
	Kind     models.TaskKind `json:"kind"`
	ReportID uint            `json:"report_id"`
	QueryID  uint            `json:"query_id,omitempty"`
}

// ReportRun is the unit of work for one complete report execution.
func ReportRun(reportID uint) UnitOfWork {
	return UnitOfWork{Kind: models.TaskKindReportRun, ReportID: reportID}
}

// QueryRun is the unit of work for one ad-hoc query execution.
func QueryRun(reportID, queryID uint) UnitOfWork {
	return UnitOfWork{Kind: models.TaskKindQueryRun, ReportID: reportID, QueryID: queryID}
}

type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Backoff: DefaultBackoff}
}

type Queue struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Queue {
	return &Queue{db: db, now: time.Now}
}

// Enqueue stores a pending task that becomes claimable at visibleAfter (now
// when zero) and returns its id.
func (q *Queue) Enqueue(ctx context.Context, work UnitOfWork, policy RetryPolicy, visibleAfter time.Time) (string, error) {
	payload, err := json.Marshal(work)
	if err != nil {
		return "", fmt.Errorf("failed to encode unit of work: %w", err)
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if visibleAfter.IsZero() {
		visibleAfter = q.now()
	}

	task := models.Task{
		ID:             uuid.NewString(),
		Kind:           work.Kind,
		Payload:        datatypes.JSON(payload),
		MaxAttempts:    policy.MaxAttempts,
		BackoffSeconds: int64(policy.Backoff / time.Second),
		Status:         models.TaskStatusPending,
		VisibleAfter:   visibleAfter.UTC(),
	}
	if err := q.db.WithContext(ctx).Create(&task).Error; err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	return task.ID, nil
}

// Cancel removes a task that has not started yet.
func (q *Queue) Cancel(ctx context.Context, taskID string) error {
	res := q.db.WithContext(ctx).
		Where("id = ? AND status = ?", taskID, models.TaskStatusPending).
		Delete(&models.Task{})
	if res.Error != nil {
		return fmt.Errorf("failed to cancel task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return nil
}

func (q *Queue) Get(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	if err := q.db.WithContext(ctx).First(&task, "id = ?", taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, err
	}
	return &task, nil
}

// Claim marks up to limit visible pending tasks as running, oldest first,
// and counts the attempt.
func (q *Queue) Claim(ctx context.Context, limit int) ([]models.Task, error) {
	if limit <= 0 {
		return nil, nil
	}
	var claimed []models.Task
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []models.Task
		err := tx.Where("status = ? AND visible_after <= ?", models.TaskStatusPending, q.now().UTC()).
			Order("visible_after").
			Limit(limit).
			Find(&candidates).Error
		if err != nil {
			return err
		}
		for _, t := range candidates {
			res := tx.Model(&models.Task{}).
				Where("id = ? AND status = ?", t.ID, models.TaskStatusPending).
				Updates(map[string]any{
					"status":   models.TaskStatusRunning,
					"attempts": gorm.Expr("attempts + 1"),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			t.Status = models.TaskStatusRunning
			t.Attempts++
			claimed = append(claimed, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim tasks: %w", err)
	}
	return claimed, nil
}

func (q *Queue) Complete(ctx context.Context, taskID string) error {
	err := q.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", taskID).
		Updates(map[string]any{"status": models.TaskStatusSucceeded, "last_error": ""}).Error
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	return nil
}

// Fail records cause against a running task. The task is made visible again
// after its backoff until its attempts are exhausted; final reports whether
// it was marked failed for good.
func (q *Queue) Fail(ctx context.Context, task models.Task, cause error) (final bool, err error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	updates := map[string]any{"last_error": msg}
	if task.Attempts >= task.MaxAttempts || IsPermanent(cause) {
		final = true
		updates["status"] = models.TaskStatusFailed
	} else {
		updates["status"] = models.TaskStatusPending
		updates["visible_after"] = q.now().UTC().Add(time.Duration(task.BackoffSeconds) * time.Second)
	}
	if err := q.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", task.ID).Updates(updates).Error; err != nil {
		return final, fmt.Errorf("failed to record task failure: %w", err)
	}
	return final, nil
}

// RecoverStale returns tasks left running by a previous process to pending.
func (q *Queue) RecoverStale(ctx context.Context) (int64, error) {
	res := q.db.WithContext(ctx).Model(&models.Task{}).
		Where("status = ?", models.TaskStatusRunning).
		Update("status", models.TaskStatusPending)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to recover running tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Decode returns the unit of work carried by task.
func Decode(task models.Task) (UnitOfWork, error) {
	var work UnitOfWork
	if err := json.Unmarshal(task.Payload, &work); err != nil {
		return work, fmt.Errorf("failed to decode task %s: %w", task.ID, err)
	}
	return work, nil
}

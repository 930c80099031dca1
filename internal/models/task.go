package models

import (
	"time"

	"gorm.io/datatypes"
)

type ScheduleKind string

const (
	ScheduleKindOnce      ScheduleKind = "once"
	ScheduleKindRecurring ScheduleKind = "recurring"
)

// ScheduleRegistration is the persisted handle of a report's active trigger.
type ScheduleRegistration struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	ReportID  uint         `gorm:"not null;uniqueIndex" json:"report_id"`
	Kind      ScheduleKind `gorm:"not null;size:10" json:"kind"`
	CronExpr  string       `gorm:"size:64" json:"cron_expr,omitempty"`
	TaskID    string       `gorm:"size:36" json:"task_id,omitempty"`
	NextRunAt *time.Time   `json:"next_run_at"`
	CreatedAt time.Time    `json:"created_at"`
}

type TaskKind string

const (
	TaskKindReportRun TaskKind = "report_run"
	TaskKindQueryRun  TaskKind = "query_run"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task is one queued unit of work with its retry bookkeeping.
type Task struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	Kind           TaskKind       `gorm:"not null;size:20" json:"kind"`
	Payload        datatypes.JSON `json:"payload"`
	Attempts       int            `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts    int            `gorm:"not null;default:3" json:"max_attempts"`
	BackoffSeconds int64          `gorm:"not null;default:0" json:"backoff_seconds"`
	Status         TaskStatus     `gorm:"not null;size:10;index:idx_task_claim,priority:1" json:"status"`
	VisibleAfter   time.Time      `gorm:"index:idx_task_claim,priority:2" json:"visible_after"`
	LastError      string         `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

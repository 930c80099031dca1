package models

import "time"

type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusError   LogStatus = "error"
)

// ReportExecutionLog is one append-only audit entry. A nil QueryID marks a
// report-level entry.
type ReportExecutionLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ReportID  uint      `gorm:"not null;index" json:"report_id"`
	QueryID   *uint     `gorm:"index" json:"query_id"`
	RunID     string    `gorm:"size:36;index" json:"run_id"`
	Status    LogStatus `gorm:"not null;size:10" json:"status"`
	Message   string    `gorm:"type:text" json:"message"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

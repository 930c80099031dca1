package store

import (
	"context"
	"fmt"

	"github.com/reportmailer/internal/models"
)

// Record appends one execution log entry. Entries are never updated.
func (s *Store) Record(ctx context.Context, reportID uint, queryID *uint, runID string, status models.LogStatus, message string) error {
	entry := models.ReportExecutionLog{
		ReportID: reportID,
		QueryID:  queryID,
		RunID:    runID,
		Status:   status,
		Message:  message,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to record execution log: %w", err)
	}
	return nil
}

// ListLogs returns a report's entries newest first. limit <= 0 returns all.
func (s *Store) ListLogs(ctx context.Context, reportID uint, limit int) ([]models.ReportExecutionLog, error) {
	q := s.db.WithContext(ctx).Where("report_id = ?", reportID).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var logs []models.ReportExecutionLog
	if err := q.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list execution logs: %w", err)
	}
	return logs, nil
}

package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/reportmailer/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReportInput is the editable part of a report. Saving it replaces the
// report's query list, parameters and recipients as a whole.
type ReportInput struct {
	Name       string              `json:"name" binding:"required"`
	Subject    string              `json:"subject"`
	Message    string              `json:"message"`
	Schedule   models.ScheduleSpec `json:"schedule"`
	QueryIDs   []uint              `json:"query_ids"`
	Parameters []ParameterInput    `json:"parameters"`
	Emails     []EmailInput        `json:"emails"`
}

type ParameterInput struct {
	QueryID uint   `json:"query_id"`
	Name    string `json:"name"`
	Value   string `json:"value"`
}

type EmailInput struct {
	Email string               `json:"email"`
	Type  models.RecipientType `json:"type"`
}

// CreateReport assigns the next report code and saves the report in one
// transaction. A code collision is retried once.
func (s *Store) CreateReport(ctx context.Context, in ReportInput) (*models.Report, error) {
	s.codeMu.Lock()
	defer s.codeMu.Unlock()

	report, err := s.createReport(ctx, in)
	if isUniqueViolation(err) {
		report, err = s.createReport(ctx, in)
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrCodeConflict, err)
		}
	}
	if err != nil {
		return nil, err
	}
	return s.GetReport(ctx, report.ID)
}

func (s *Store) createReport(ctx context.Context, in ReportInput) (*models.Report, error) {
	report := &models.Report{
		Name:     in.Name,
		Subject:  in.Subject,
		Message:  in.Message,
		Schedule: in.Schedule,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		code, err := s.nextCode(tx)
		if err != nil {
			return err
		}
		report.Code = code
		if err := tx.Omit(clause.Associations).Create(report).Error; err != nil {
			return err
		}
		return replaceChildren(tx, report.ID, in)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// nextCode returns prefix + zero-padded (highest numeric suffix + 1).
func (s *Store) nextCode(tx *gorm.DB) (string, error) {
	var codes []string
	if err := tx.Model(&models.Report{}).Where("code LIKE ?", s.codePrefix+"%").Pluck("code", &codes).Error; err != nil {
		return "", fmt.Errorf("failed to read report codes: %w", err)
	}
	max := 0
	for _, code := range codes {
		n, err := strconv.Atoi(strings.TrimPrefix(code, s.codePrefix))
		if err != nil || n < 0 {
			continue
		}
		if n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%0*d", s.codePrefix, s.codePadding, max+1), nil
}

// SaveReport updates the report fields and replaces its children.
func (s *Store) SaveReport(ctx context.Context, id uint, in ReportInput) (*models.Report, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r models.Report
		if err := tx.First(&r, id).Error; err != nil {
			return notFound(err, "report", id)
		}
		r.Name = in.Name
		r.Subject = in.Subject
		r.Message = in.Message
		r.Schedule = in.Schedule
		if err := tx.Omit(clause.Associations).Save(&r).Error; err != nil {
			return fmt.Errorf("failed to update report: %w", err)
		}
		return replaceChildren(tx, id, in)
	})
	if err != nil {
		return nil, err
	}
	return s.GetReport(ctx, id)
}

func replaceChildren(tx *gorm.DB, reportID uint, in ReportInput) error {
	queryIDs := dedupIDs(in.QueryIDs)
	if err := queriesExist(tx, queryIDs); err != nil {
		return err
	}

	for _, m := range []any{&models.ReportQuery{}, &models.ReportQueryParameter{}, &models.ReportEmail{}} {
		if err := tx.Where("report_id = ?", reportID).Delete(m).Error; err != nil {
			return fmt.Errorf("failed to clear report children: %w", err)
		}
	}

	if len(queryIDs) > 0 {
		links := make([]models.ReportQuery, len(queryIDs))
		for i, qid := range queryIDs {
			links[i] = models.ReportQuery{ReportID: reportID, QueryID: qid, Position: i}
		}
		if err := tx.Omit(clause.Associations).Create(&links).Error; err != nil {
			return fmt.Errorf("failed to link queries: %w", err)
		}
	}

	inReport := make(map[uint]bool, len(queryIDs))
	for _, qid := range queryIDs {
		inReport[qid] = true
	}
	seenParam := make(map[string]bool)
	var params []models.ReportQueryParameter
	for _, p := range in.Parameters {
		key := strconv.FormatUint(uint64(p.QueryID), 10) + ":" + p.Name
		if !inReport[p.QueryID] || p.Name == "" || seenParam[key] {
			continue
		}
		seenParam[key] = true
		params = append(params, models.ReportQueryParameter{ReportID: reportID, QueryID: p.QueryID, Name: p.Name, Value: p.Value})
	}
	if len(params) > 0 {
		if err := tx.Create(&params).Error; err != nil {
			return fmt.Errorf("failed to save parameters: %w", err)
		}
	}

	seenEmail := make(map[string]bool)
	var emails []models.ReportEmail
	for _, e := range in.Emails {
		addr := strings.TrimSpace(e.Email)
		if e.Type == "" {
			e.Type = models.RecipientTo
		}
		if e.Type != models.RecipientTo && e.Type != models.RecipientCC {
			return fmt.Errorf("invalid recipient type %q for %s", e.Type, addr)
		}
		key := strings.ToLower(addr) + ":" + string(e.Type)
		if addr == "" || seenEmail[key] {
			continue
		}
		seenEmail[key] = true
		emails = append(emails, models.ReportEmail{ReportID: reportID, Email: addr, Type: e.Type})
	}
	if len(emails) > 0 {
		if err := tx.Create(&emails).Error; err != nil {
			return fmt.Errorf("failed to save recipients: %w", err)
		}
	}
	return nil
}

func dedupIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// GetReport loads a report with its ordered queries, their connections,
// parameters and recipients. A connection whose password cannot be opened
// is returned with CredentialErr set.
func (s *Store) GetReport(ctx context.Context, id uint) (*models.Report, error) {
	var r models.Report
	err := s.db.WithContext(ctx).
		Preload("Queries", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Queries.Query.Database").
		Preload("Parameters").
		Preload("Emails").
		First(&r, id).Error
	if err != nil {
		return nil, notFound(err, "report", id)
	}
	for i := range r.Queries {
		db := &r.Queries[i].Query.Database
		if err := s.unseal(db); err != nil {
			db.CredentialErr = err
		}
	}
	return &r, nil
}

// DeleteReport removes a report with its associations, logs and schedule
// registration.
func (s *Store) DeleteReport(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{
			&models.ReportQuery{},
			&models.ReportQueryParameter{},
			&models.ReportEmail{},
			&models.ReportExecutionLog{},
			&models.ScheduleRegistration{},
		} {
			if err := tx.Where("report_id = ?", id).Delete(m).Error; err != nil {
				return fmt.Errorf("failed to delete report children: %w", err)
			}
		}
		res := tx.Delete(&models.Report{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete report: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return notFound(gorm.ErrRecordNotFound, "report", id)
		}
		return nil
	})
}

// SetSchedule stores spec as the report's configured schedule.
func (s *Store) SetSchedule(ctx context.Context, id uint, spec models.ScheduleSpec) error {
	err := s.db.WithContext(ctx).Model(&models.Report{}).Where("id = ?", id).Updates(map[string]any{
		"schedule_execute_at": spec.ExecuteAt,
		"schedule_periodic":   spec.Periodic,
		"schedule_type":       spec.Type,
		"schedule_time":       spec.Time,
		"schedule_weekday":    spec.Weekday,
		"schedule_monthday":   spec.Monthday,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to set schedule of report %d: %w", id, err)
	}
	return nil
}

// MarkExecuted sets last_executed_at without touching updated_at.
func (s *Store) MarkExecuted(ctx context.Context, id uint, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.Report{}).Where("id = ?", id).UpdateColumn("last_executed_at", at).Error
	if err != nil {
		return fmt.Errorf("failed to mark report %d executed: %w", id, err)
	}
	return nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reportmailer/internal/models"
	"gorm.io/gorm"
)

// SaveRegistration stores reg as the only registration of its report and
// returns the one it replaced, if any.
func (s *Store) SaveRegistration(ctx context.Context, reg *models.ScheduleRegistration) (*models.ScheduleRegistration, error) {
	var previous *models.ScheduleRegistration
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old models.ScheduleRegistration
		err := tx.Where("report_id = ?", reg.ReportID).Take(&old).Error
		switch {
		case err == nil:
			previous = &old
			if err := tx.Delete(&old).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return tx.Create(reg).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save schedule registration: %w", err)
	}
	return previous, nil
}

func (s *Store) GetRegistration(ctx context.Context, id uint) (*models.ScheduleRegistration, error) {
	var reg models.ScheduleRegistration
	if err := s.db.WithContext(ctx).First(&reg, id).Error; err != nil {
		return nil, notFound(err, "schedule", id)
	}
	return &reg, nil
}

func (s *Store) RegistrationForReport(ctx context.Context, reportID uint) (*models.ScheduleRegistration, error) {
	var reg models.ScheduleRegistration
	if err := s.db.WithContext(ctx).Where("report_id = ?", reportID).Take(&reg).Error; err != nil {
		return nil, notFound(err, "schedule for report", reportID)
	}
	return &reg, nil
}

func (s *Store) DeleteRegistration(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.ScheduleRegistration{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete schedule registration: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "schedule", id)
	}
	return nil
}

func (s *Store) ListRegistrations(ctx context.Context, kind models.ScheduleKind) ([]models.ScheduleRegistration, error) {
	var regs []models.ScheduleRegistration
	if err := s.db.WithContext(ctx).Where("kind = ?", kind).Order("id").Find(&regs).Error; err != nil {
		return nil, fmt.Errorf("failed to list schedule registrations: %w", err)
	}
	return regs, nil
}

func (s *Store) UpdateNextRun(ctx context.Context, id uint, next *time.Time) error {
	return s.db.WithContext(ctx).Model(&models.ScheduleRegistration{}).Where("id = ?", id).UpdateColumn("next_run_at", next).Error
}

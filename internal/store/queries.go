package store

import (
	"context"
	"fmt"

	"github.com/reportmailer/internal/models"
	"gorm.io/gorm"
)

func (s *Store) CreateQuery(ctx context.Context, q *models.SqlQuery) error {
	db := s.db.WithContext(ctx)

	var count int64
	if err := db.Model(&models.DatabaseConnection{}).Where("id = ?", q.DatabaseID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check connection: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: connection %d", ErrNotFound, q.DatabaseID)
	}
	if q.TotalColumns == nil {
		q.TotalColumns = []string{}
	}
	if err := db.Omit("Database").Create(q).Error; err != nil {
		return fmt.Errorf("failed to create query: %w", err)
	}
	return nil
}

// GetQuery loads a query with its connection, password opened.
func (s *Store) GetQuery(ctx context.Context, id uint) (*models.SqlQuery, error) {
	var q models.SqlQuery
	if err := s.db.WithContext(ctx).Preload("Database").First(&q, id).Error; err != nil {
		return nil, notFound(err, "query", id)
	}
	if err := s.unseal(&q.Database); err != nil {
		return nil, err
	}
	return &q, nil
}

// DeleteQuery removes a query and its report associations. It fails with
// ErrQueryInUse while execution logs reference the query.
func (s *Store) DeleteQuery(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var refs int64
		if err := tx.Model(&models.ReportExecutionLog{}).Where("query_id = ?", id).Count(&refs).Error; err != nil {
			return fmt.Errorf("failed to check query references: %w", err)
		}
		if refs > 0 {
			return fmt.Errorf("%w: query %d has %d log entries", ErrQueryInUse, id, refs)
		}

		if err := tx.Where("query_id = ?", id).Delete(&models.ReportQuery{}).Error; err != nil {
			return err
		}
		if err := tx.Where("query_id = ?", id).Delete(&models.ReportQueryParameter{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.SqlQuery{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete query: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return notFound(gorm.ErrRecordNotFound, "query", id)
		}
		return nil
	})
}

// queriesExist reports an ErrNotFound naming the first missing id.
func queriesExist(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	var found []uint
	if err := tx.Model(&models.SqlQuery{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return err
	}
	have := make(map[uint]bool, len(found))
	for _, id := range found {
		have[id] = true
	}
	for _, id := range ids {
		if !have[id] {
			return notFound(gorm.ErrRecordNotFound, "query", id)
		}
	}
	return nil
}


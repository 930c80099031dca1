package store

import (
	"context"
	"fmt"

	"github.com/reportmailer/internal/models"
)

// CreateConnection stores c with its password sealed.
func (s *Store) CreateConnection(ctx context.Context, c *models.DatabaseConnection) error {
	if !c.Backend.Valid() {
		return fmt.Errorf("unsupported backend %q", c.Backend)
	}
	sealed, err := s.box.Seal(c.Password)
	if err != nil {
		return fmt.Errorf("failed to seal password: %w", err)
	}
	c.PasswordSealed = sealed
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

// GetConnection loads a connection with its password opened.
func (s *Store) GetConnection(ctx context.Context, id uint) (*models.DatabaseConnection, error) {
	var c models.DatabaseConnection
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFound(err, "connection", id)
	}
	if err := s.unseal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) unseal(c *models.DatabaseConnection) error {
	plain, err := s.box.Open(c.PasswordSealed)
	if err != nil {
		return fmt.Errorf("connection %d: %w", c.ID, err)
	}
	c.Password = plain
	return nil
}

package models

import "time"

type Backend string

const (
	BackendMySQL    Backend = "mysql"
	BackendPostgres Backend = "postgres"
	BackendOracle   Backend = "oracle"
)

// Valid reports whether b is one of the supported source backends.
func (b Backend) Valid() bool {
	switch b {
	case BackendMySQL, BackendPostgres, BackendOracle:
		return true
	default:
		return false
	}
}

// DefaultPort returns the listener port used when a connection leaves Port unset.
func (b Backend) DefaultPort() int {
	switch b {
	case BackendPostgres:
		return 5432
	case BackendOracle:
		return 1521
	default:
		return 3306
	}
}

// DatabaseConnection describes a remote source database that queries run against.
type DatabaseConnection struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Name           string    `gorm:"not null;size:200" json:"name"`
	Backend        Backend   `gorm:"not null;size:20;default:mysql" json:"backend"`
	Host           string    `gorm:"not null;size:200" json:"host"`
	Port           int       `json:"port"`
	User           string    `gorm:"size:200" json:"user"`
	Password       string    `gorm:"-" json:"password,omitempty"`
	PasswordSealed string    `gorm:"type:text" json:"-"`
	DatabaseName   string    `gorm:"size:200" json:"database_name"` // service name for Oracle
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// CredentialErr is set when the stored password could not be opened.
	CredentialErr error `gorm:"-" json:"-"`
}

func (c DatabaseConnection) EffectivePort() int {
	if c.Port > 0 {
		return c.Port
	}
	return c.Backend.DefaultPort()
}

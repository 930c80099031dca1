// Package store is the persistence layer over the gorm database of record.
package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/reportmailer/internal/secret"
	"gorm.io/gorm"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrCodeConflict = errors.New("report code already taken")
	ErrQueryInUse   = errors.New("query is referenced by execution logs")
)

type Store struct {
	db          *gorm.DB
	box         *secret.Box
	codePrefix  string
	codePadding int

	// codeMu serializes report creation within this process.
	codeMu sync.Mutex
}

type Options struct {
	Box         *secret.Box
	CodePrefix  string
	CodePadding int
}

func New(db *gorm.DB, opts Options) *Store {
	if opts.CodePrefix == "" {
		opts.CodePrefix = "RPT"
	}
	if opts.CodePadding <= 0 {
		opts.CodePadding = 5
	}
	return &Store{
		db:          db,
		box:         opts.Box,
		codePrefix:  opts.CodePrefix,
		codePadding: opts.CodePadding,
	}
}

// DB exposes the underlying handle to components sharing the database.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %v", ErrNotFound, what, id)
	}
	return fmt.Errorf("failed to load %s %v: %w", what, id, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}

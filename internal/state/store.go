// Package state implements the shared, transactional project state store
// used by every agent process.
package state

import (
	"context"
	"fmt"

	"github.com/zulandar/fda/internal/db"
	"gorm.io/gorm"
)

// Store is the StateStore. All agents share one underlying database; every
// mutation runs in its own transaction so a reader sees a row either fully
// old or fully new.
type Store struct {
	gdb *gorm.DB
}

// New wraps an open database handle.
func New(gdb *gorm.DB) *Store {
	return &Store{gdb: gdb}
}

// DB exposes the underlying handle for read-only reporting code.
func (s *Store) DB() *gorm.DB { return s.gdb }

// Init creates missing tables. It never drops or truncates.
func (s *Store) Init(ctx context.Context) error {
	if err := db.AutoMigrate(s.gdb.WithContext(ctx)); err != nil {
		return fmt.Errorf("state: init: %w", db.Classify(err))
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.gdb.DB()
	if err != nil {
		return fmt.Errorf("state: close: %w", err)
	}
	return sqlDB.Close()
}

// write runs fn in one transaction and wraps any error with op.
func (s *Store) write(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	if err := s.gdb.WithContext(ctx).Transaction(fn); err != nil {
		return fmt.Errorf("state: %s: %w", op, db.Classify(err))
	}
	return nil
}

// read wraps a query error with op.
func read(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("state: %s: %w", op, db.Classify(err))
}

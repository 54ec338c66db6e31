package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/fda/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SetContext stores value under key, replacing any previous value.
func (s *Store) SetContext(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("state: set context: key is required")
	}
	return s.write(ctx, "set context", func(tx *gorm.DB) error {
		return upsertContext(tx, key, value)
	})
}

// SetContextWithAlert stores value under key and, when level is not empty,
// records an alert in the same transaction.
func (s *Store) SetContextWithAlert(ctx context.Context, key, value, level, message, source string) error {
	if key == "" {
		return fmt.Errorf("state: set context: key is required")
	}
	var alert *models.Alert
	if level != "" {
		a, err := newAlert("set context", level, message, source)
		if err != nil {
			return err
		}
		alert = &a
	}
	return s.write(ctx, "set context", func(tx *gorm.DB) error {
		if alert != nil {
			if err := tx.Create(alert).Error; err != nil {
				return err
			}
		}
		return upsertContext(tx, key, value)
	})
}

func upsertContext(tx *gorm.DB, key, value string) error {
	entry := models.ContextEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
}

// GetContext returns the value stored under key.
func (s *Store) GetContext(ctx context.Context, key string) (string, bool, error) {
	var entry models.ContextEntry
	err := s.gdb.WithContext(ctx).Where(clause.Eq{Column: clause.Column{Name: "key"}, Value: key}).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, read("get context", err)
	}
	return entry.Value, true, nil
}

// ListContext returns every context entry ordered by key.
func (s *Store) ListContext(ctx context.Context) ([]models.ContextEntry, error) {
	var entries []models.ContextEntry
	if err := s.gdb.WithContext(ctx).Order(clause.OrderByColumn{Column: clause.Column{Name: "key"}}).
		Find(&entries).Error; err != nil {
		return nil, read("list context", err)
	}
	return entries, nil
}

package db

import (
	"fmt"

	"github.com/zulandar/fda/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every table owned by the state database.
func AllModels() []interface{} {
	return []interface{}{
		&models.ContextEntry{},
		&models.Task{},
		&models.KPISnapshot{},
		&models.Alert{},
		&models.Decision{},
		&models.MeetingPrep{},
		&models.ScheduledJob{},
		&models.AgentStatus{},
	}
}

// AutoMigrate creates missing tables, columns and indexes. It never drops
// or truncates, so running it against an initialized store is safe.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

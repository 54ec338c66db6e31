package state

import (
	"context"
	"errors"
	"time"

	"github.com/zulandar/fda/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LoadJob returns the persisted timing for a scheduler job.
func (s *Store) LoadJob(ctx context.Context, name string) (models.ScheduledJob, bool, error) {
	var job models.ScheduledJob
	err := s.gdb.WithContext(ctx).Where("name = ?", name).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ScheduledJob{}, false, nil
	}
	if err != nil {
		return models.ScheduledJob{}, false, read("load job", err)
	}
	return job, true, nil
}

// SaveJob upserts a scheduler job's timing.
func (s *Store) SaveJob(ctx context.Context, job models.ScheduledJob) error {
	job.NextFire = job.NextFire.UTC()
	job.LastFired = utcPtr(job.LastFired)
	job.UpdatedAt = time.Now().UTC()
	return s.write(ctx, "save job", func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"kind", "spec", "next_fire", "last_fired", "updated_at"}),
		}).Create(&job).Error
	})
}

// DeleteJob removes a job's persisted timing. Deleting an unknown job is a
// no-op.
func (s *Store) DeleteJob(ctx context.Context, name string) error {
	return s.write(ctx, "delete job", func(tx *gorm.DB) error {
		return tx.Where("name = ?", name).Delete(&models.ScheduledJob{}).Error
	})
}

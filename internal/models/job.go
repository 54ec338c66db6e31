package models

import "time"

// Scheduled job kinds.
const (
	JobDaily    = "daily"
	JobInterval = "interval"
	JobCron     = "cron"
	JobOneShot  = "oneshot"
)

// ScheduledJob persists a scheduler job's timing across restarts. The
// callback itself lives only in the registering process.
type ScheduledJob struct {
	Name      string    `gorm:"primaryKey;size:128"`
	Kind      string    `gorm:"size:16;not null"`
	Spec      string    `gorm:"size:128"`
	NextFire  time.Time `gorm:"index"`
	LastFired *time.Time
	UpdatedAt time.Time
}

func (ScheduledJob) TableName() string { return "scheduled_jobs" }

package models

import "time"

// Alert levels.
const (
	AlertInfo     = "info"
	AlertWarning  = "warning"
	AlertCritical = "critical"
)

// KPISnapshot is an immutable metric reading.
type KPISnapshot struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Metric    string    `gorm:"size:128;not null;index:idx_kpi_metric_ts"`
	Value     float64   `gorm:"not null"`
	Timestamp time.Time `gorm:"not null;index:idx_kpi_metric_ts"`
}

func (KPISnapshot) TableName() string { return "kpi_snapshots" }

// Alert is raised by any agent. Acknowledgement is its only mutation.
type Alert struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	Level          string `gorm:"size:16;not null;index"`
	Message        string `gorm:"type:text;not null"`
	Source         string `gorm:"size:64;not null"`
	Acknowledged   bool   `gorm:"default:false;index"`
	AcknowledgedAt *time.Time
	CreatedAt      time.Time
}

func (Alert) TableName() string { return "alerts" }

// Decision is a recorded, immutable project decision.
type Decision struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	Title         string `gorm:"not null"`
	Rationale     string `gorm:"type:text;not null"`
	DecisionMaker string `gorm:"size:64;not null"`
	Impact        string `gorm:"type:text"`
	CreatedAt     time.Time
}

func (Decision) TableName() string { return "decisions" }

// MeetingPrep stores a brief generated ahead of a calendar event.
type MeetingPrep struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	EventID   string `gorm:"size:256;not null;index"`
	Brief     string `gorm:"type:text;not null"`
	CreatedBy string `gorm:"size:64;not null"`
	CreatedAt time.Time
}

func (MeetingPrep) TableName() string { return "meeting_prep" }

// ContextEntry is a last-write-wins project setting.
type ContextEntry struct {
	Key       string `gorm:"primaryKey;size:128"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (ContextEntry) TableName() string { return "context" }

// ValidAlertLevel reports whether l is a known alert level.
func ValidAlertLevel(l string) bool {
	switch l {
	case AlertInfo, AlertWarning, AlertCritical:
		return true
	}
	return false
}

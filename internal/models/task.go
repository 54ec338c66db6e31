package models

import "time"

// Task statuses. TaskCompleted is terminal.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskBlocked    = "blocked"
	TaskCompleted  = "completed"
)

// Priorities shared by tasks and messages.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Task is a unit of project work tracked by the agents.
type Task struct {
	ID          string `gorm:"primaryKey;size:32"`
	Title       string `gorm:"not null"`
	Description string `gorm:"type:text"`
	Owner       string `gorm:"size:64;index"`
	Status      string `gorm:"size:16;default:pending;index"`
	Priority    string `gorm:"size:8;default:medium"`
	DueDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName pins the public table name.
func (Task) TableName() string { return "tasks" }

// ValidTaskStatus reports whether s is a known task status.
func ValidTaskStatus(s string) bool {
	switch s {
	case TaskPending, TaskInProgress, TaskBlocked, TaskCompleted:
		return true
	}
	return false
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

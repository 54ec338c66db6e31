package models

import "time"

// Agent names.
const (
	AgentDirector  = "fda"
	AgentExecutor  = "executor"
	AgentLibrarian = "librarian"
)

// Agent lifecycle states.
const (
	AgentStarting = "starting"
	AgentRunning  = "running"
	AgentStopped  = "stopped"
)

// AgentStatus is the liveness row each agent process keeps fresh.
type AgentStatus struct {
	Name          string `gorm:"primaryKey;size:64"`
	Status        string `gorm:"size:16;index"`
	Detail        string `gorm:"type:text"`
	StartedAt     time.Time
	LastHeartbeat time.Time `gorm:"index"`
}

func (AgentStatus) TableName() string { return "agent_status" }

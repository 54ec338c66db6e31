package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/fda/internal/fault"
	"github.com/zulandar/fda/internal/models"
	"gorm.io/gorm"
)

// SetAgentStatus records an agent's lifecycle state. Moving to starting
// resets StartedAt.
func (s *Store) SetAgentStatus(ctx context.Context, name, status, detail string) error {
	if name == "" {
		return fmt.Errorf("state: set agent status: name is required")
	}
	switch status {
	case models.AgentStarting, models.AgentRunning, models.AgentStopped:
	default:
		return fmt.Errorf("state: set agent status: invalid status %q", status)
	}
	now := time.Now().UTC()
	return s.write(ctx, "set agent status", func(tx *gorm.DB) error {
		var row models.AgentStatus
		err := tx.Where("name = ?", name).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.AgentStatus{
				Name:          name,
				Status:        status,
				Detail:        detail,
				StartedAt:     now,
				LastHeartbeat: now,
			}).Error
		}
		if err != nil {
			return err
		}
		updates := map[string]interface{}{
			"status":         status,
			"detail":         detail,
			"last_heartbeat": now,
		}
		if status == models.AgentStarting {
			updates["started_at"] = now
		}
		return tx.Model(&models.AgentStatus{}).Where("name = ?", name).Updates(updates).Error
	})
}

// AgentHeartbeat refreshes an agent's last heartbeat.
func (s *Store) AgentHeartbeat(ctx context.Context, name string) error {
	return s.write(ctx, "agent heartbeat", func(tx *gorm.DB) error {
		result := tx.Model(&models.AgentStatus{}).Where("name = ?", name).
			Update("last_heartbeat", time.Now().UTC())
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: agent %s", fault.ErrNotFound, name)
		}
		return nil
	})
}

// ListAgentStatus returns every known agent ordered by name.
func (s *Store) ListAgentStatus(ctx context.Context) ([]models.AgentStatus, error) {
	var rows []models.AgentStatus
	if err := s.gdb.WithContext(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, read("list agent status", err)
	}
	return rows, nil
}

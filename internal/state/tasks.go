package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/fda/internal/fault"
	"github.com/zulandar/fda/internal/models"
	"gorm.io/gorm"
)

// TaskInput holds the fields accepted when creating a task.
type TaskInput struct {
	ID          string // optional; generated when empty
	Title       string
	Description string
	Owner       string
	Status      string // defaults to pending
	Priority    string // defaults to medium
	DueDate     *time.Time
}

// TaskFilter narrows ListTasks. Empty fields match everything.
type TaskFilter struct {
	Status         string
	Owner          string
	IncludeUnowned bool // with Owner, also match tasks that have no owner
}

// TaskUpdate lists the mutable task fields. Nil fields are left unchanged.
type TaskUpdate struct {
	Title       *string
	Description *string
	Owner       *string
	Status      *string
	Priority    *string
	DueDate     *time.Time
}

// NewTaskID returns a fresh task identifier.
func NewTaskID() string {
	return "task_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// AddTask creates a task and returns its id.
func (s *Store) AddTask(ctx context.Context, in TaskInput) (string, error) {
	if strings.TrimSpace(in.Title) == "" {
		return "", fmt.Errorf("state: add task: title is required")
	}
	status := in.Status
	if status == "" {
		status = models.TaskPending
	}
	if !models.ValidTaskStatus(status) {
		return "", fmt.Errorf("state: add task: invalid status %q", status)
	}
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !models.ValidPriority(priority) {
		return "", fmt.Errorf("state: add task: invalid priority %q", priority)
	}
	id := in.ID
	if id == "" {
		id = NewTaskID()
	}

	now := time.Now().UTC()
	task := models.Task{
		ID:          id,
		Title:       in.Title,
		Description: in.Description,
		Owner:       in.Owner,
		Status:      status,
		Priority:    priority,
		DueDate:     utcPtr(in.DueDate),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.write(ctx, "add task", func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Task{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: task %s already exists", fault.ErrConflict, id)
		}
		return tx.Create(&task).Error
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetTask returns the task with the given id.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	err := s.gdb.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("state: get task: %w: %s", fault.ErrNotFound, id)
	}
	if err != nil {
		return nil, read("get task", err)
	}
	return &task, nil
}

// ListTasks returns matching tasks in creation order.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, error) {
	q := s.gdb.WithContext(ctx).Model(&models.Task{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	switch {
	case f.Owner != "" && f.IncludeUnowned:
		q = q.Where("(owner = ? OR owner = '')", f.Owner)
	case f.Owner != "":
		q = q.Where("owner = ?", f.Owner)
	}
	var tasks []models.Task
	if err := q.Order("created_at ASC, id ASC").Find(&tasks).Error; err != nil {
		return nil, read("list tasks", err)
	}
	return tasks, nil
}

// UpdateTask applies u to the task. A completed task is terminal: any
// further update fails with fault.ErrConflict.
func (s *Store) UpdateTask(ctx context.Context, id string, u TaskUpdate) (*models.Task, error) {
	if err := u.check("update task"); err != nil {
		return nil, err
	}
	var task models.Task
	err := s.write(ctx, "update task", func(tx *gorm.DB) error {
		return updateTask(tx, id, u, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (u TaskUpdate) check(op string) error {
	if u.Status != nil && !models.ValidTaskStatus(*u.Status) {
		return fmt.Errorf("state: %s: invalid status %q", op, *u.Status)
	}
	if u.Priority != nil && !models.ValidPriority(*u.Priority) {
		return fmt.Errorf("state: %s: invalid priority %q", op, *u.Priority)
	}
	if u.Title != nil && strings.TrimSpace(*u.Title) == "" {
		return fmt.Errorf("state: %s: title cannot be empty", op)
	}
	return nil
}

// updateTask applies u inside tx and reloads the row into task.
func updateTask(tx *gorm.DB, id string, u TaskUpdate, task *models.Task) error {
	err := tx.Where("id = ?", id).First(task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: task %s", fault.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	if task.Status == models.TaskCompleted {
		return fmt.Errorf("%w: task %s is completed", fault.ErrConflict, id)
	}

	updates := map[string]interface{}{}
	if u.Title != nil {
		updates["title"] = *u.Title
	}
	if u.Description != nil {
		updates["description"] = *u.Description
	}
	if u.Owner != nil {
		updates["owner"] = *u.Owner
	}
	if u.Status != nil {
		updates["status"] = *u.Status
	}
	if u.Priority != nil {
		updates["priority"] = *u.Priority
	}
	if u.DueDate != nil {
		updates["due_date"] = u.DueDate.UTC()
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()
	if err := tx.Model(&models.Task{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", id).First(task).Error
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

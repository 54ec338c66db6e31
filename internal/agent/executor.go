package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/zulandar/fda/internal/fault"
	"github.com/zulandar/fda/internal/messaging"
	"github.com/zulandar/fda/internal/models"
	"github.com/zulandar/fda/internal/scheduler"
	"github.com/zulandar/fda/internal/state"
)

// PickupJob is the executor's periodic task pickup.
const PickupJob = "executor_pickup"

const executorPrompt = `You are the executor agent of a small agent team.
You carry out project tasks assigned by the director (FDA) and report progress and blockers.
Plan concretely: list the steps you will take, what you need and what could block you.`

const executePrompt = `Carry out the task above and report the result:
1. What you did, step by step
2. Decisions or assumptions you made
3. The deliverable, or where to find it

If something prevents completion, write a line starting with "BLOCKED:" followed by the reason, and stop.`

// blockedMarker starts the line of a task result that names a blocker.
const blockedMarker = "BLOCKED:"

// Executor carries out tasks. Task messages create or update tasks, and the
// pickup job works the most urgent task through to completed or blocked.
type Executor struct{}

func (Executor) SystemPrompt() string { return executorPrompt }

func (Executor) HandleMessage(ctx context.Context, a *Agent, msg models.Message) error {
	switch msg.Type {
	case models.MsgTask:
		return applyTaskMessage(ctx, a, msg)
	case models.MsgRequest:
		if strings.Contains(strings.ToLower(msg.Subject), "status") {
			return replyTaskStatus(ctx, a, msg)
		}
		return answerRequest(ctx, a, msg)
	default:
		log.Printf("agent: %s: %s from %s: %s", a.name, msg.Type, msg.From, msg.Subject)
		return nil
	}
}

func (Executor) Schedule(a *Agent, s *scheduler.Scheduler) error {
	return s.RegisterTask(PickupJob, fmt.Sprintf("%dm", a.cfg.Schedule.CheckIntervalMinutes), a.Trigger(PickupJob))
}

func (Executor) Action(trigger string) Action {
	if trigger == PickupJob {
		return pickUpTask
	}
	return nil
}

// TaskMessage is the JSON body of a task message. A message whose body is
// not JSON creates a task titled by the subject and described by the body.
type TaskMessage struct {
	TaskID      string     `json:"task_id,omitempty"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Owner       string     `json:"owner,omitempty"`
	Status      string     `json:"status,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

func parseTaskMessage(msg models.Message) (TaskMessage, error) {
	body := strings.TrimSpace(msg.Body)
	if !strings.HasPrefix(body, "{") {
		return TaskMessage{Title: msg.Subject, Description: msg.Body}, nil
	}
	var tm TaskMessage
	if err := json.Unmarshal([]byte(body), &tm); err != nil {
		return TaskMessage{}, fmt.Errorf("agent: task message %s: invalid body: %w", msg.ID, err)
	}
	if tm.TaskID == "" && tm.Title == "" {
		tm.Title = msg.Subject
	}
	return tm, nil
}

func (tm TaskMessage) validate() error {
	if tm.Status != "" && !models.ValidTaskStatus(tm.Status) {
		return fmt.Errorf("agent: task message: invalid status %q", tm.Status)
	}
	if tm.Priority != "" && !models.ValidPriority(tm.Priority) {
		return fmt.Errorf("agent: task message: invalid priority %q", tm.Priority)
	}
	return nil
}

// taskIDFor derives a task id from the message id so a retried handler
// finds the task it already created.
func taskIDFor(msg models.Message) string {
	hex := strings.ReplaceAll(msg.ID, "-", "")
	if len(hex) < 8 {
		return state.NewTaskID()
	}
	return "task_" + hex[:8]
}

// applyTaskMessage creates or updates the task a message describes and
// confirms in the message's thread. The store write comes last.
func applyTaskMessage(ctx context.Context, a *Agent, msg models.Message) error {
	tm, err := parseTaskMessage(msg)
	if err != nil {
		return err
	}
	if err := tm.validate(); err != nil {
		return err
	}
	if tm.TaskID != "" {
		return updateFromMessage(ctx, a, msg, tm)
	}

	id := taskIDFor(msg)
	if existing, err := a.store.GetTask(ctx, id); err == nil {
		log.Printf("agent: %s: task %s already created from message %s", a.name, existing.ID, msg.ID)
		return nil
	} else if !errors.Is(err, fault.ErrNotFound) {
		return err
	}

	in := state.TaskInput{
		ID:          id,
		Title:       tm.Title,
		Description: tm.Description,
		Owner:       tm.Owner,
		Status:      tm.Status,
		Priority:    tm.Priority,
		DueDate:     tm.DueDate,
	}
	if in.Owner == "" {
		in.Owner = a.name
	}
	if in.Priority == "" {
		in.Priority = msg.Priority
	}
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("agent: task message %s: title is required", msg.ID)
	}
	if err := a.Reply(ctx, msg, fmt.Sprintf("Created task %s: %s (owner %s)", id, in.Title, in.Owner)); err != nil {
		return err
	}
	_, err = a.store.AddTask(ctx, in)
	return err
}

func updateFromMessage(ctx context.Context, a *Agent, msg models.Message, tm TaskMessage) error {
	t, err := a.store.GetTask(ctx, tm.TaskID)
	if err != nil {
		return err
	}
	if t.Status == models.TaskCompleted {
		return fmt.Errorf("agent: task %s: %w: already completed", t.ID, fault.ErrConflict)
	}

	var u state.TaskUpdate
	var changes []string
	if tm.Title != "" {
		u.Title = &tm.Title
		changes = append(changes, "title")
	}
	if tm.Description != "" {
		u.Description = &tm.Description
		changes = append(changes, "description")
	}
	if tm.Owner != "" {
		u.Owner = &tm.Owner
		changes = append(changes, "owner "+tm.Owner)
	}
	if tm.Status != "" {
		u.Status = &tm.Status
		changes = append(changes, "status "+tm.Status)
	}
	if tm.Priority != "" {
		u.Priority = &tm.Priority
		changes = append(changes, "priority "+tm.Priority)
	}
	if tm.DueDate != nil {
		u.DueDate = tm.DueDate
		changes = append(changes, "due "+tm.DueDate.Format("2006-01-02"))
	}
	if len(changes) == 0 {
		return fmt.Errorf("agent: task message %s: no fields to update", msg.ID)
	}

	if err := a.Reply(ctx, msg, fmt.Sprintf("Updated task %s: %s", t.ID, strings.Join(changes, ", "))); err != nil {
		return err
	}
	_, err = a.store.UpdateTask(ctx, t.ID, u)
	return err
}

// replyTaskStatus answers a status request with the agent's open tasks.
func replyTaskStatus(ctx context.Context, a *Agent, msg models.Message) error {
	tasks, err := a.store.ListTasks(ctx, state.TaskFilter{Owner: a.name})
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, t := range tasks {
		if t.Status == models.TaskCompleted {
			continue
		}
		fmt.Fprintf(&b, "- %s [%s/%s] %s\n", t.ID, t.Status, t.Priority, t.Title)
	}
	if b.Len() == 0 {
		b.WriteString("No open tasks.")
	}
	return a.Reply(ctx, msg, strings.TrimRight(b.String(), "\n"))
}

var priorityRank = map[string]int{
	models.PriorityHigh:   0,
	models.PriorityMedium: 1,
	models.PriorityLow:    2,
}

// nextTask returns the most urgent task, oldest first within a priority.
func nextTask(tasks []models.Task) models.Task {
	sorted := append([]models.Task(nil), tasks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return priorityRank[sorted[i].Priority] < priorityRank[sorted[j].Priority]
	})
	return sorted[0]
}

// pickUpTask works one task. A task the agent already has in progress is
// resumed before a pending one, owned or unowned, is claimed. The reasoner
// carries the task out; a result that reports a blocker is escalated to the
// director and leaves the task blocked, anything else completes it.
func pickUpTask(ctx context.Context, a *Agent) error {
	t, ok, err := claimNextTask(ctx, a)
	if err != nil || !ok {
		return err
	}

	background := fmt.Sprintf("Task %s: %s\nPriority: %s\n", t.ID, t.Title, t.Priority)
	if t.DueDate != nil {
		background += "Due: " + t.DueDate.Format("2006-01-02") + "\n"
	}
	if t.Description != "" {
		background += "\n" + t.Description + "\n"
	}
	var result string
	err = a.retry(ctx, "execute "+t.ID, func(ctx context.Context) error {
		var err error
		result, err = a.Reason(ctx, background, executePrompt)
		return err
	})
	if err != nil {
		return err
	}

	status := models.TaskCompleted
	if reason, blocked := blockerReason(result); blocked {
		status = models.TaskBlocked
		if _, err := a.bus.Send(ctx, a.name, models.AgentDirector, models.MsgBlocker,
			"Blocker: "+t.Title, fmt.Sprintf("Task ID: %s\nReason: %s", t.ID, reason),
			models.PriorityHigh, messaging.SendOpts{}); err != nil {
			return err
		}
	} else if _, err := a.bus.Send(ctx, a.name, models.AgentDirector, models.MsgStatus,
		fmt.Sprintf("Completed %s: %s", t.ID, t.Title), result, t.Priority, messaging.SendOpts{}); err != nil {
		return err
	}
	return a.retry(ctx, "finish "+t.ID, func(ctx context.Context) error {
		_, err := a.store.UpdateTask(ctx, t.ID, state.TaskUpdate{Status: &status})
		return err
	})
}

// claimNextTask picks the task to work and marks it in progress under the
// agent's name. ok is false when there is nothing to do.
func claimNextTask(ctx context.Context, a *Agent) (models.Task, bool, error) {
	var active, pending []models.Task
	err := a.retry(ctx, "list tasks", func(ctx context.Context) error {
		var err error
		active, err = a.store.ListTasks(ctx, state.TaskFilter{Status: models.TaskInProgress, Owner: a.name})
		if err != nil {
			return err
		}
		pending, err = a.store.ListTasks(ctx, state.TaskFilter{Status: models.TaskPending, Owner: a.name, IncludeUnowned: true})
		return err
	})
	if err != nil {
		return models.Task{}, false, err
	}
	if len(active) > 0 {
		return nextTask(active), true, nil
	}
	if len(pending) == 0 {
		return models.Task{}, false, nil
	}

	t := nextTask(pending)
	status, owner := models.TaskInProgress, a.name
	err = a.retry(ctx, "claim "+t.ID, func(ctx context.Context) error {
		_, err := a.store.UpdateTask(ctx, t.ID, state.TaskUpdate{Status: &status, Owner: &owner})
		return err
	})
	if err != nil {
		return models.Task{}, false, err
	}
	log.Printf("agent: %s: claimed task %s: %s", a.name, t.ID, t.Title)
	t.Status, t.Owner = status, owner
	return t, true, nil
}

// blockerReason returns the reason on the result's first blocker line.
func blockerReason(result string) (string, bool) {
	for _, line := range strings.Split(result, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "*_#>- "))
		if len(line) < len(blockedMarker) || !strings.EqualFold(line[:len(blockedMarker)], blockedMarker) {
			continue
		}
		reason := strings.Trim(line[len(blockedMarker):], "*_ ")
		if reason == "" {
			reason = "no reason given"
		}
		return reason, true
	}
	return "", false
}

package dashboard

import (
	"context"
	"time"

	"github.com/zulandar/fda/internal/models"
	"github.com/zulandar/fda/internal/state"
)

// StaleAfter is how long an agent may go without a heartbeat before the
// dashboard reports it stale.
const StaleAfter = 2 * time.Minute

// AgentRow holds agent status for display.
type AgentRow struct {
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	Detail        string    `json:"detail,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Stale         bool      `json:"stale"`
}

// AgentSummary returns every agent's status. A running agent whose
// heartbeat is older than StaleAfter is marked stale.
func AgentSummary(ctx context.Context, store *state.Store, now time.Time) ([]AgentRow, error) {
	statuses, err := store.ListAgentStatus(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]AgentRow, len(statuses))
	for i, s := range statuses {
		rows[i] = AgentRow{
			Name:          s.Name,
			Status:        s.Status,
			Detail:        s.Detail,
			StartedAt:     s.StartedAt,
			LastHeartbeat: s.LastHeartbeat,
			Stale:         s.Status != models.AgentStopped && now.Sub(s.LastHeartbeat) > StaleAfter,
		}
	}
	return rows, nil
}

// KPIValue is the latest reading of one metric.
type KPIValue struct {
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// LatestKPIs returns the latest snapshot of every recorded metric, ordered
// by metric name.
func LatestKPIs(ctx context.Context, store *state.Store) ([]KPIValue, error) {
	metrics, err := store.ListMetrics(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]KPIValue, 0, len(metrics))
	for _, m := range metrics {
		snap, ok, err := store.GetLatestKPI(ctx, m)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, KPIValue{Metric: m, Value: snap.Value, Timestamp: snap.Timestamp})
		}
	}
	return out, nil
}

// Summary is the dashboard landing view.
type Summary struct {
	Tasks      map[string]int `json:"tasks"` // count by status
	TotalTasks int            `json:"total_tasks"`
	OpenAlerts int            `json:"open_alerts"`
	Critical   int            `json:"critical_alerts"`
	KPIs       []KPIValue     `json:"kpis"`
	Agents     []AgentRow     `json:"agents"`
}

// Summarize gathers task counts, unacknowledged alerts, KPIs and agents.
func Summarize(ctx context.Context, store *state.Store, now time.Time) (*Summary, error) {
	tasks, err := store.ListTasks(ctx, state.TaskFilter{})
	if err != nil {
		return nil, err
	}
	sum := &Summary{
		Tasks: map[string]int{
			models.TaskPending:    0,
			models.TaskInProgress: 0,
			models.TaskBlocked:    0,
			models.TaskCompleted:  0,
		},
		TotalTasks: len(tasks),
	}
	for _, t := range tasks {
		sum.Tasks[t.Status]++
	}

	unacked := false
	alerts, err := store.ListAlerts(ctx, state.AlertFilter{Acknowledged: &unacked})
	if err != nil {
		return nil, err
	}
	sum.OpenAlerts = len(alerts)
	for _, a := range alerts {
		if a.Level == models.AlertCritical {
			sum.Critical++
		}
	}

	if sum.KPIs, err = LatestKPIs(ctx, store); err != nil {
		return nil, err
	}
	if sum.Agents, err = AgentSummary(ctx, store, now); err != nil {
		return nil, err
	}
	return sum, nil
}

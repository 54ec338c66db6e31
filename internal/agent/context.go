package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/fda/internal/models"
	"github.com/zulandar/fda/internal/state"
)

const recentDecisions = 5

// ProjectContext renders the shared state an agent reasons over: open tasks,
// unacknowledged alerts, the latest KPI values, recent decisions and the
// project settings.
func (a *Agent) ProjectContext(ctx context.Context) (string, error) {
	tasks, err := a.store.ListTasks(ctx, state.TaskFilter{})
	if err != nil {
		return "", err
	}
	unacked := false
	alerts, err := a.store.ListAlerts(ctx, state.AlertFilter{Acknowledged: &unacked})
	if err != nil {
		return "", err
	}
	metrics, err := a.store.ListMetrics(ctx)
	if err != nil {
		return "", err
	}
	decisions, err := a.store.ListDecisions(ctx, recentDecisions)
	if err != nil {
		return "", err
	}
	entries, err := a.store.ListContext(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("### Open tasks\n")
	open := 0
	for _, t := range tasks {
		if t.Status == models.TaskCompleted {
			continue
		}
		open++
		fmt.Fprintf(&b, "- %s [%s/%s] %s", t.ID, t.Status, t.Priority, t.Title)
		if t.Owner != "" {
			fmt.Fprintf(&b, " (owner: %s)", t.Owner)
		}
		if t.DueDate != nil {
			fmt.Fprintf(&b, " due %s", t.DueDate.Format("2006-01-02"))
		}
		b.WriteString("\n")
	}
	if open == 0 {
		b.WriteString("(none)\n")
	}

	b.WriteString("\n### Unacknowledged alerts\n")
	for _, al := range alerts {
		fmt.Fprintf(&b, "- [%s] %s (from %s)\n", al.Level, al.Message, al.Source)
	}
	if len(alerts) == 0 {
		b.WriteString("(none)\n")
	}

	b.WriteString("\n### KPIs\n")
	for _, m := range metrics {
		snap, ok, err := a.store.GetLatestKPI(ctx, m)
		if err != nil {
			return "", err
		}
		if ok {
			fmt.Fprintf(&b, "- %s: %.1f (%s)\n", m, snap.Value, snap.Timestamp.Format("2006-01-02 15:04"))
		}
	}
	if len(metrics) == 0 {
		b.WriteString("(no data)\n")
	}

	if len(decisions) > 0 {
		b.WriteString("\n### Recent decisions\n")
		for _, d := range decisions {
			fmt.Fprintf(&b, "- %s: %s\n", d.Title, d.Rationale)
		}
	}
	if len(entries) > 0 {
		b.WriteString("\n### Project settings\n")
		for _, e := range entries {
			fmt.Fprintf(&b, "- %s: %s\n", e.Key, e.Value)
		}
	}
	return b.String(), nil
}

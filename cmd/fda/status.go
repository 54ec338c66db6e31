package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/fda/internal/dashboard"
	"github.com/zulandar/fda/internal/models"
)

func newStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show project and agent status",
		Long:  "Prints task counts, open alerts, latest KPIs and agent liveness.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string) error {
	_, store, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	now := time.Now()
	sum, err := dashboard.Summarize(context.Background(), store, now)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Tasks: %d total (%d pending, %d in progress, %d blocked, %d completed)\n",
		sum.TotalTasks,
		sum.Tasks[models.TaskPending], sum.Tasks[models.TaskInProgress],
		sum.Tasks[models.TaskBlocked], sum.Tasks[models.TaskCompleted])
	fmt.Fprintf(out, "Alerts: %d open (%d critical)\n", sum.OpenAlerts, sum.Critical)

	if len(sum.KPIs) > 0 {
		fmt.Fprintln(out, "\nKPIs:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, k := range sum.KPIs {
			fmt.Fprintf(w, "  %s\t%g\t%s\n", k.Metric, k.Value, formatAge(now, k.Timestamp))
		}
		w.Flush()
	}

	fmt.Fprintln(out, "\nAgents:")
	if len(sum.Agents) == 0 {
		fmt.Fprintln(out, "  (none registered)")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  NAME\tSTATUS\tHEARTBEAT")
	for _, a := range sum.Agents {
		status := a.Status
		if a.Stale {
			status += " (stale)"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", a.Name, status, formatAge(now, a.LastHeartbeat))
	}
	w.Flush()
	return nil
}

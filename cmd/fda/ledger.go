package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/fda/internal/models"
	"github.com/zulandar/fda/internal/state"
)

// --- alerts ---

func newAlertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alert",
		Short: "Alert commands",
	}

	cmd.AddCommand(newAlertAddCmd())
	cmd.AddCommand(newAlertListCmd())
	cmd.AddCommand(newAlertAckCmd())
	return cmd
}

func newAlertAddCmd() *cobra.Command {
	var (
		configPath string
		level      string
		source     string
	)

	cmd := &cobra.Command{
		Use:   "add <message>",
		Short: "Raise an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			id, err := store.AddAlert(context.Background(), level, args[0], source)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Raised %s alert %d\n", level, id)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&level, "level", models.AlertWarning, "alert level (info, warning, critical)")
	cmd.Flags().StringVar(&source, "source", "human", "who raised the alert")
	return cmd
}

func newAlertListCmd() *cobra.Command {
	var (
		configPath string
		level      string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts",
		Long:  "Lists unacknowledged alerts, oldest first. Use --all to include acknowledged ones.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			f := state.AlertFilter{Level: level}
			if !all {
				unacked := false
				f.Acknowledged = &unacked
			}
			alerts, err := store.ListAlerts(context.Background(), f)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(alerts) == 0 {
				fmt.Fprintln(out, "No alerts.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tLEVEL\tSOURCE\tACK\tCREATED\tMESSAGE")
			for _, a := range alerts {
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\t%s\n",
					a.ID, a.Level, a.Source, a.Acknowledged,
					a.CreatedAt.Format("2006-01-02 15:04"), truncate(a.Message, 60))
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&level, "level", "", "filter by level")
	cmd.Flags().BoolVar(&all, "all", false, "include acknowledged alerts")
	return cmd
}

func newAlertAckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ack <id>",
		Short: "Acknowledge an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid alert id %q", args[0])
			}

			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.AcknowledgeAlert(context.Background(), uint(id)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Acknowledged alert %d\n", id)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

// --- KPIs ---

func newKPICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kpi",
		Short: "KPI snapshot commands",
	}

	cmd.AddCommand(newKPIAddCmd())
	cmd.AddCommand(newKPILatestCmd())
	cmd.AddCommand(newKPIHistoryCmd())
	return cmd
}

func newKPIAddCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "add <metric> <value>",
		Short: "Record a KPI snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid value %q", args[1])
			}

			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			id, ts, err := store.AddKPISnapshot(context.Background(), args[0], value, time.Time{})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s=%g at %s (snapshot %d)\n",
				args[0], value, ts.Format(time.RFC3339), id)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newKPILatestCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "latest [metric]",
		Short: "Show the latest value of one or all metrics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			metrics := args
			if len(metrics) == 0 {
				if metrics, err = store.ListMetrics(ctx); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "METRIC\tVALUE\tTIMESTAMP")
			for _, m := range metrics {
				snap, ok, err := store.GetLatestKPI(ctx, m)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintf(w, "%s\t-\tno data\n", m)
					continue
				}
				fmt.Fprintf(w, "%s\t%g\t%s\n", m, snap.Value, snap.Timestamp.Format("2006-01-02 15:04"))
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newKPIHistoryCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "history <metric>",
		Short: "Show recent snapshots of a metric, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			snaps, err := store.KPIHistory(context.Background(), args[0], limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(snaps) == 0 {
				fmt.Fprintf(out, "No snapshots for %s.\n", args[0])
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIMESTAMP\tVALUE")
			for _, s := range snaps {
				fmt.Fprintf(w, "%s\t%g\n", s.Timestamp.Format("2006-01-02 15:04"), s.Value)
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVar(&limit, "limit", 10, "number of snapshots to show")
	return cmd
}

// --- decisions ---

func newDecisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decision",
		Short: "Decision log commands",
	}

	cmd.AddCommand(newDecisionAddCmd())
	cmd.AddCommand(newDecisionListCmd())
	return cmd
}

func newDecisionAddCmd() *cobra.Command {
	var (
		configPath string
		title      string
		rationale  string
		maker      string
		impact     string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			id, err := store.AddDecision(context.Background(), title, rationale, maker, impact)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded decision %d\n", id)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&title, "title", "", "decision title (required)")
	cmd.Flags().StringVar(&rationale, "rationale", "", "why it was made (required)")
	cmd.Flags().StringVar(&maker, "by", "human", "decision maker")
	cmd.Flags().StringVar(&impact, "impact", "", "expected impact")
	cmd.MarkFlagRequired("title")
	cmd.MarkFlagRequired("rationale")
	return cmd
}

func newDecisionListCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent decisions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			decisions, err := store.ListDecisions(context.Background(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(decisions) == 0 {
				fmt.Fprintln(out, "No decisions recorded.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDATE\tBY\tTITLE\tIMPACT")
			for _, d := range decisions {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					d.ID, d.CreatedAt.Format("2006-01-02"), d.DecisionMaker, truncate(d.Title, 50), dash(d.Impact))
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVar(&limit, "limit", 10, "number of decisions to show")
	return cmd
}

// --- project context ---

func newContextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Project context settings",
	}

	cmd.AddCommand(newContextGetCmd())
	cmd.AddCommand(newContextSetCmd())
	cmd.AddCommand(newContextListCmd())
	return cmd
}

func newContextGetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a context value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			v, ok, err := store.GetContext(context.Background(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("context key %q is not set", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newContextSetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a context value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetContext(context.Background(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s\n", args[0])
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newContextListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all context values",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.ListContext(context.Background())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tVALUE\tUPDATED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.Key, truncate(e.Value, 60), e.UpdatedAt.Format("2006-01-02 15:04"))
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

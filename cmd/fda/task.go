package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/fda/internal/models"
	"github.com/zulandar/fda/internal/state"
)

// dateLayout is the due-date format accepted on the command line.
const dateLayout = "2006-01-02"

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Task management commands",
	}

	cmd.AddCommand(newTaskAddCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskUpdateCmd())
	return cmd
}

func newTaskAddCmd() *cobra.Command {
	var (
		configPath  string
		title       string
		description string
		owner       string
		priority    string
		due         string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a new task",
		Long:  "Creates a pending task in the state store with a generated ID.",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := state.TaskInput{
				Title:       title,
				Description: description,
				Owner:       owner,
				Priority:    priority,
			}
			if due != "" {
				d, err := time.Parse(dateLayout, due)
				if err != nil {
					return fmt.Errorf("invalid --due %q (want YYYY-MM-DD)", due)
				}
				in.DueDate = &d
			}

			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			id, err := store.AddTask(context.Background(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created task %s\n", id)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&title, "title", "", "task title (required)")
	cmd.Flags().StringVar(&description, "description", "", "detailed description")
	cmd.Flags().StringVar(&owner, "owner", "", "owning agent or person")
	cmd.Flags().StringVar(&priority, "priority", models.PriorityMedium, "priority (low, medium, high)")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	cmd.MarkFlagRequired("title")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var (
		configPath string
		status     string
		owner      string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Long:  "Lists tasks with optional filters. Output is formatted as a table.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			tasks, err := store.ListTasks(context.Background(), state.TaskFilter{Status: status, Owner: owner})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No tasks found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tPRIORITY\tOWNER\tDUE")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					t.ID, truncate(t.Title, 50), t.Status, t.Priority, dash(t.Owner), formatDue(t.DueDate))
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&owner, "owner", "", "filter by owner")
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show task details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			t, err := store.GetTask(context.Background(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:          %s\n", t.ID)
			fmt.Fprintf(out, "Title:       %s\n", t.Title)
			fmt.Fprintf(out, "Status:      %s\n", t.Status)
			fmt.Fprintf(out, "Priority:    %s\n", t.Priority)
			fmt.Fprintf(out, "Owner:       %s\n", dash(t.Owner))
			fmt.Fprintf(out, "Due:         %s\n", formatDue(t.DueDate))
			fmt.Fprintf(out, "Created:     %s\n", t.CreatedAt.Format("2006-01-02 15:04"))
			fmt.Fprintf(out, "Updated:     %s\n", t.UpdatedAt.Format("2006-01-02 15:04"))
			if t.Description != "" {
				fmt.Fprintf(out, "\n%s\n", t.Description)
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newTaskUpdateCmd() *cobra.Command {
	var (
		configPath  string
		title       string
		description string
		owner       string
		status      string
		priority    string
		due         string
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields",
		Long:  "Updates the given fields of a task. Completed tasks cannot be changed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u state.TaskUpdate
			flags := cmd.Flags()
			if flags.Changed("title") {
				u.Title = &title
			}
			if flags.Changed("description") {
				u.Description = &description
			}
			if flags.Changed("owner") {
				u.Owner = &owner
			}
			if flags.Changed("status") {
				u.Status = &status
			}
			if flags.Changed("priority") {
				u.Priority = &priority
			}
			if flags.Changed("due") {
				d, err := time.Parse(dateLayout, due)
				if err != nil {
					return fmt.Errorf("invalid --due %q (want YYYY-MM-DD)", due)
				}
				u.DueDate = &d
			}

			_, store, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			t, err := store.UpdateTask(context.Background(), args[0], u)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated task %s (%s, %s)\n", t.ID, t.Status, t.Priority)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&owner, "owner", "", "new owner")
	cmd.Flags().StringVar(&status, "status", "", "new status (pending, in_progress, blocked, completed)")
	cmd.Flags().StringVar(&priority, "priority", "", "new priority (low, medium, high)")
	cmd.Flags().StringVar(&due, "due", "", "new due date (YYYY-MM-DD)")
	return cmd
}

func formatDue(d *time.Time) string {
	if d == nil {
		return "-"
	}
	return d.Format(dateLayout)
}

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/fda/internal/calendar"
)

func newCalendarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Calendar commands",
	}

	cmd.AddCommand(newCalendarTodayCmd())
	cmd.AddCommand(newCalendarUpcomingCmd())
	return cmd
}

func newCalendarTodayCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "today",
		Short: "List today's events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cal, err := calendarFromConfig(configPath)
			if err != nil {
				return err
			}
			events, err := cal.EventsToday(context.Background())
			if err != nil {
				return err
			}
			printEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newCalendarUpcomingCmd() *cobra.Command {
	var (
		configPath string
		within     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "List events starting soon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cal, err := calendarFromConfig(configPath)
			if err != nil {
				return err
			}
			events, err := cal.UpcomingEvents(context.Background(), within)
			if err != nil {
				return err
			}
			printEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().DurationVar(&within, "within", 2*time.Hour, "look-ahead window")
	return cmd
}

func calendarFromConfig(configPath string) (calendar.Calendar, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Calendar.TenantID == "" {
		return nil, fmt.Errorf("calendar is not configured (set calendar.tenant_id in %s)", configPath)
	}
	return calendar.FromConfig(cfg.Calendar)
}

func printEvents(out io.Writer, events []calendar.Event) {
	if len(events) == 0 {
		fmt.Fprintln(out, "No events.")
		return
	}
	for _, ev := range events {
		fmt.Fprintf(out, "%s-%s  %s\n", ev.Start.Local().Format("15:04"), ev.End.Local().Format("15:04"), ev.Title)
		if ev.Location != "" {
			fmt.Fprintf(out, "             at %s\n", ev.Location)
		}
		if ev.IsOnline && ev.JoinURL != "" {
			fmt.Fprintf(out, "             join %s\n", ev.JoinURL)
		}
		if len(ev.Attendees) > 0 {
			names := make([]string, 0, len(ev.Attendees))
			for _, at := range ev.Attendees {
				if at.Name != "" {
					names = append(names, at.Name)
				} else {
					names = append(names, at.Email)
				}
			}
			fmt.Fprintf(out, "             with %s\n", strings.Join(names, ", "))
		}
	}
}

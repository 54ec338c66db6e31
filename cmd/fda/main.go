package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// defaultConfig is the config path every command falls back to.
const defaultConfig = "fda.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fda",
		Short: "FDA: coordinated project agents",
		Long:  "FDA runs a director, an executor and a librarian agent that share a state store and a message bus.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newUpCmd())
	cmd.AddCommand(newDownCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newAlertCmd())
	cmd.AddCommand(newKPICmd())
	cmd.AddCommand(newDecisionCmd())
	cmd.AddCommand(newContextCmd())
	cmd.AddCommand(newMessageCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newCalendarCmd())
	cmd.AddCommand(newDashboardCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fda %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}

package main

import (
	"github.com/spf13/cobra"
	"github.com/zulandar/fda/internal/dashboard"
)

func newDashboardCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Start the read-only status API",
		Long:  "Serves tasks, alerts, KPIs, decisions, agents and bus messages as JSON, plus an alert event stream.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cmd, configPath, port)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default: dashboard.port from the config)")
	return cmd
}

func runDashboard(cmd *cobra.Command, configPath string, port int) error {
	cfg, store, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	bus, err := openBus(cfg, nil)
	if err != nil {
		return err
	}
	if port == 0 {
		port = cfg.Dashboard.Port
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	return dashboard.Start(ctx, dashboard.StartOpts{
		Store: store,
		Bus:   bus,
		Port:  port,
		Out:   cmd.OutOrStdout(),
	})
}

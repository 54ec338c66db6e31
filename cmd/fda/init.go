package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/fda/internal/db"
)

func newInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the FDA state store and message bus",
		Long:  "Creates the root directory, migrates all state tables and creates an empty message bus log.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, store, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return fmt.Errorf("create root %s: %w", cfg.Root, err)
	}
	fmt.Fprintf(out, "Root directory %s ready\n", cfg.Root)

	fmt.Fprintf(out, "Migrated %d tables (%s)\n", len(db.AllModels()), cfg.State.Driver)

	bus, err := openBus(cfg, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Message bus at %s\n", bus.Path())

	fmt.Fprintln(out, "\nFDA initialized successfully.")
	return nil
}

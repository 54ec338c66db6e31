package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/fda/internal/agent"
	"github.com/zulandar/fda/internal/calendar"
	"github.com/zulandar/fda/internal/notify"
	"github.com/zulandar/fda/internal/orchestration"
	"github.com/zulandar/fda/internal/reasoning"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start <agent>",
		Short: "Run one agent in the foreground",
		Long:  "Runs the named agent (fda, executor or librarian) until interrupted. The agent polls the message bus and runs its scheduled work.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runStart(cmd *cobra.Command, configPath, name string) error {
	role, err := agent.RoleFor(name)
	if err != nil {
		return err
	}

	cfg, store, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	mind, err := reasoning.FromConfig(cfg.Reasoning)
	if err != nil {
		return err
	}
	cal, err := calendar.FromConfig(cfg.Calendar)
	if err != nil {
		return err
	}
	sinks, err := notify.FromConfig(cfg.Notify)
	if err != nil {
		return err
	}
	defer sinks.Wait()

	bus, err := openBus(cfg, sinks)
	if err != nil {
		return err
	}

	a, err := agent.New(agent.Options{
		Name:     name,
		Role:     role,
		Bus:      bus,
		Store:    store,
		Reasoner: mind,
		Calendar: cal,
		Notifier: sinks,
		Config:   cfg,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	fmt.Fprintf(cmd.OutOrStdout(), "Agent %s running (bus: %s, %d notifiers)\n", name, bus.Path(), sinks.Len())
	return a.Run(ctx)
}

func newUpCmd() *cobra.Command {
	var (
		configPath string
		agents     []string
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start all agents in a tmux session",
		Long:  "Creates a tmux session with one pane per agent, each running 'fda start <agent>'.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUp(cmd, configPath, agents)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringSliceVar(&agents, "agents", orchestration.DefaultAgents, "agents to start")
	return cmd
}

func runUp(cmd *cobra.Command, configPath string, agents []string) error {
	for _, name := range agents {
		if _, err := agent.RoleFor(name); err != nil {
			return err
		}
	}
	if _, err := loadConfig(configPath); err != nil {
		return err
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}

	result, err := orchestration.Start(orchestration.StartOpts{
		ConfigPath: abs,
		Agents:     agents,
	})
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), orchestration.Describe(result))
	return nil
}

func newDownCmd() *cobra.Command {
	var (
		configPath string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop the agents' tmux session",
		Long:  "Interrupts every agent, waits for them to report stopped, then kills the tmux session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDown(cmd, configPath, timeout)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "max wait for agents to stop")
	return cmd
}

func runDown(cmd *cobra.Command, configPath string, timeout time.Duration) error {
	_, store, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	lingering, err := orchestration.Stop(ctx, orchestration.StopOpts{
		Store:   store,
		Timeout: timeout,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, name := range lingering {
		fmt.Fprintf(out, "Warning: %s did not report stopped before the session was killed\n", name)
	}
	fmt.Fprintln(out, "FDA stopped.")
	return nil
}

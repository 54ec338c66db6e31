package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/fda/internal/config"
	"github.com/zulandar/fda/internal/db"
	"github.com/zulandar/fda/internal/messaging"
	"github.com/zulandar/fda/internal/notify"
	"github.com/zulandar/fda/internal/state"
)

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", defaultConfig, "path to FDA config file")
}

// loadConfig loads the config at configPath. A missing file yields the
// defaults.
func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// connectFromConfig loads the config and opens the migrated state store.
func connectFromConfig(configPath string) (*config.Config, *state.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	gormDB, err := db.Open(cfg.State)
	if err != nil {
		return nil, nil, err
	}
	store := state.New(gormDB)
	if err := store.Init(context.Background()); err != nil {
		store.Close()
		return nil, nil, err
	}
	return cfg, store, nil
}

// openBus opens the message bus named in cfg.
func openBus(cfg *config.Config, n notify.Notifier) (*messaging.Bus, error) {
	return messaging.Open(cfg.Bus.Path, messaging.Options{
		LockTimeout: cfg.Bus.LockTimeout,
		Notify:      n,
	})
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/fda/internal/agent"
	"github.com/zulandar/fda/internal/calendar"
	"github.com/zulandar/fda/internal/fault"
	"github.com/zulandar/fda/internal/models"
	"github.com/zulandar/fda/internal/reasoning"
	"golang.org/x/term"
)

func newAskCmd() *cobra.Command {
	var (
		configPath string
		agentName  string
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask an agent about the project",
		Long: `Answers a question from the agent's view of the project state.

With no arguments on a terminal, starts an interactive session; with no
arguments otherwise, reads the question from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, configPath, agentName, args)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&agentName, "agent", models.AgentDirector, "agent to ask (fda, executor, librarian)")
	return cmd
}

func runAsk(cmd *cobra.Command, configPath, agentName string, args []string) error {
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
	bus, err := openBus(cfg, nil)
	if err != nil {
		return err
	}
	a, err := agent.New(agent.Options{
		Name:     agentName,
		Bus:      bus,
		Store:    store,
		Reasoner: mind,
		Calendar: cal,
		Config:   cfg,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	ask := func(q string) error {
		answer, err := a.Ask(ctx, q)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), fault.UserMessage(err))
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), answer)
		return nil
	}

	if len(args) > 0 {
		return ask(strings.Join(args, " "))
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		data, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("read question: %w", err)
		}
		return ask(string(data))
	}
	return askLoop(cmd, agentName, in, ask)
}

// askLoop prompts for questions until EOF or "exit". Transient failures are
// reported and the session continues; anything else ends it.
func askLoop(cmd *cobra.Command, agentName string, in io.Reader, ask func(string) error) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Ask %s about the project. Type 'exit' to quit.\n", agentName)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "%s> ", agentName)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		q := strings.TrimSpace(scanner.Text())
		switch q {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := ask(q); err != nil && !fault.Retryable(err) {
			return err
		}
	}
}

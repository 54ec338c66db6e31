// Package orchestration launches the agent processes side by side in a tmux
// session and shuts them down again.
package orchestration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/fda/internal/models"
	"github.com/zulandar/fda/internal/state"
)

// DefaultAgents is the full agent team, director first.
var DefaultAgents = []string{models.AgentDirector, models.AgentExecutor, models.AgentLibrarian}

// StartOpts configures fda up.
type StartOpts struct {
	ConfigPath string
	Agents     []string // defaults to DefaultAgents
	Binary     string   // defaults to "fda"
	Tmux       Tmux     // defaults to DefaultTmux if nil
}

// AgentPane maps a tmux pane to the agent running in it.
type AgentPane struct {
	PaneID string
	Agent  string
}

// StartResult holds the result of starting the agents.
type StartResult struct {
	Session string
	Panes   []AgentPane
}

// StartCommand is the shell command a pane runs for agent.
func StartCommand(binary, configPath, agent string) string {
	return fmt.Sprintf("%s start %s --config %s", binary, agent, configPath)
}

// Start creates a tmux session and runs one agent per pane.
func Start(opts StartOpts) (*StartResult, error) {
	if opts.ConfigPath == "" {
		return nil, fmt.Errorf("orchestration: config path is required")
	}
	if len(opts.Agents) == 0 {
		opts.Agents = DefaultAgents
	}
	if opts.Binary == "" {
		opts.Binary = "fda"
	}
	if opts.Tmux == nil {
		opts.Tmux = DefaultTmux
	}

	if opts.Tmux.SessionExists(SessionName) {
		return nil, fmt.Errorf("orchestration: fda session already running (use 'fda down' first)")
	}
	if err := opts.Tmux.CreateSession(SessionName); err != nil {
		return nil, err
	}

	result := &StartResult{Session: SessionName}
	for i, agent := range opts.Agents {
		var pane string
		if i == 0 {
			// The session's initial pane hosts the first agent.
			panes, err := opts.Tmux.ListPanes(SessionName)
			if err != nil || len(panes) == 0 {
				_ = opts.Tmux.KillSession(SessionName)
				return nil, fmt.Errorf("orchestration: list initial panes: %v", err)
			}
			pane = panes[0]
		} else {
			p, err := opts.Tmux.NewPane(SessionName)
			if err != nil {
				_ = opts.Tmux.KillSession(SessionName)
				return nil, fmt.Errorf("orchestration: create pane for %s: %w", agent, err)
			}
			pane = p
		}
		if err := opts.Tmux.SendKeys(pane, StartCommand(opts.Binary, opts.ConfigPath, agent)); err != nil {
			_ = opts.Tmux.KillSession(SessionName)
			return nil, fmt.Errorf("orchestration: start %s: %w", agent, err)
		}
		result.Panes = append(result.Panes, AgentPane{PaneID: pane, Agent: agent})
	}

	_ = opts.Tmux.TileLayout(SessionName)
	return result, nil
}

// StopOpts configures fda down.
type StopOpts struct {
	Store   *state.Store  // optional; when set, Stop waits for agents to report stopped
	Timeout time.Duration // max wait for agents to exit (default 30s)
	Poll    time.Duration // status poll interval (default 1s)
	Tmux    Tmux          // defaults to DefaultTmux if nil
}

// Stop interrupts every agent pane, waits for the agents to deregister, and
// kills the session. It returns the agents still running at the deadline.
func Stop(ctx context.Context, opts StopOpts) ([]string, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Poll <= 0 {
		opts.Poll = time.Second
	}
	if opts.Tmux == nil {
		opts.Tmux = DefaultTmux
	}

	if !opts.Tmux.SessionExists(SessionName) {
		return nil, fmt.Errorf("orchestration: no fda session running")
	}

	panes, err := opts.Tmux.ListPanes(SessionName)
	if err == nil {
		for _, p := range panes {
			_ = opts.Tmux.SendSignal(p, "C-c")
		}
	}

	var lingering []string
	if opts.Store != nil {
		lingering = waitStopped(ctx, opts.Store, opts.Timeout, opts.Poll)
	}

	if err := opts.Tmux.KillSession(SessionName); err != nil {
		return lingering, err
	}
	return lingering, nil
}

// waitStopped polls agent status until no agent is starting or running, or
// the timeout passes.
func waitStopped(ctx context.Context, store *state.Store, timeout, poll time.Duration) []string {
	deadline := time.Now().Add(timeout)
	for {
		running := runningAgents(ctx, store)
		if len(running) == 0 || time.Now().After(deadline) {
			return running
		}
		select {
		case <-ctx.Done():
			return running
		case <-time.After(poll):
		}
	}
}

func runningAgents(ctx context.Context, store *state.Store) []string {
	statuses, err := store.ListAgentStatus(ctx)
	if err != nil {
		return nil
	}
	var running []string
	for _, s := range statuses {
		if s.Status != models.AgentStopped {
			running = append(running, s.Name)
		}
	}
	return running
}

// Describe renders a start result for the terminal.
func Describe(r *StartResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Started tmux session %q\n", r.Session)
	for _, p := range r.Panes {
		fmt.Fprintf(&b, "  %-10s pane %s\n", p.Agent, p.PaneID)
	}
	b.WriteString("Attach with: tmux attach -t " + r.Session + "\n")
	return b.String()
}

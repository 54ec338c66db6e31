//go:build !unittest

package orchestration

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// RealTmux drives the tmux binary on PATH.
type RealTmux struct{}

// tmux runs one tmux subcommand and returns its trimmed combined output.
// Failures carry tmux's own message.
func tmux(op string, env []string, args ...string) (string, error) {
	cmd := exec.Command("tmux", args...)
	if env != nil {
		cmd.Env = env
	}
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return "", fmt.Errorf("orchestration: tmux %s: %s: %w", op, text, err)
	}
	return text, nil
}

func (RealTmux) SessionExists(name string) bool {
	return exec.Command("tmux", "has-session", "-t", name).Run() == nil
}

// CreateSession starts a detached session. TMUX is dropped from the
// environment so fda up also works from inside another session.
func (RealTmux) CreateSession(name string) error {
	var env []string
	for _, e := range os.Environ() {
		if !strings.HasPrefix(e, "TMUX=") {
			env = append(env, e)
		}
	}
	_, err := tmux("new-session "+name, env, "new-session", "-d", "-s", name, "-x", "200", "-y", "50")
	return err
}

func (RealTmux) NewPane(session string) (string, error) {
	return tmux("split-window "+session, nil, "split-window", "-t", session, "-d", "-P", "-F", "#{pane_id}")
}

func (RealTmux) SendKeys(paneID, keys string) error {
	_, err := tmux("send-keys "+paneID, nil, "send-keys", "-t", paneID, keys, "Enter")
	return err
}

// SendSignal sends a key chord such as "C-c" without pressing Enter.
func (RealTmux) SendSignal(paneID, signal string) error {
	_, err := tmux("send-keys "+paneID, nil, "send-keys", "-t", paneID, signal)
	return err
}

func (RealTmux) KillSession(name string) error {
	_, err := tmux("kill-session "+name, nil, "kill-session", "-t", name)
	return err
}

func (RealTmux) ListPanes(session string) ([]string, error) {
	out, err := tmux("list-panes "+session, nil, "list-panes", "-t", session, "-F", "#{pane_id}")
	if err != nil {
		return nil, err
	}
	return strings.Fields(out), nil
}

func (RealTmux) TileLayout(session string) error {
	_, err := tmux("select-layout "+session, nil, "select-layout", "-t", session, "tiled")
	return err
}

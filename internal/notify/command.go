package notify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Command runs a shell command template per notification, e.g.
// "notify-send 'FDA' '{{.Text}}'". The values are also exported as
// FDA_NOTIFY_TARGET and FDA_NOTIFY_TEXT for templates that prefer to quote
// them from the environment.
type Command struct {
	Template string

	run  func(ctx context.Context, command string, env []string) ([]byte, error)
	tmux func(ctx context.Context, text string) error
}

// NewCommand returns a Command sink for template.
func NewCommand(template string) *Command {
	return &Command{Template: template, run: runShell, tmux: tmuxDisplay}
}

// Notify runs the command. Inside tmux it also shows a status-line message.
func (c *Command) Notify(ctx context.Context, target, text string) error {
	if os.Getenv("TMUX") != "" && c.tmux != nil {
		if err := c.tmux(ctx, firstLine(addressed(target, text))); err != nil {
			return fmt.Errorf("notify: tmux display-message: %w", err)
		}
	}
	if c.Template == "" {
		return nil
	}
	cmdStr := templateText(c.Template, target, text)
	env := []string{"FDA_NOTIFY_TARGET=" + target, "FDA_NOTIFY_TEXT=" + text}
	if out, err := c.run(ctx, cmdStr, env); err != nil {
		return fmt.Errorf("notify: command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// templateText replaces placeholders in the command template.
func templateText(command, target, text string) string {
	r := strings.NewReplacer(
		"{{.Target}}", target,
		"{{.Text}}", text,
		"{{.Subject}}", firstLine(text),
	)
	return r.Replace(command)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func runShell(ctx context.Context, command string, env []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

func tmuxDisplay(ctx context.Context, text string) error {
	return exec.CommandContext(ctx, "tmux", "display-message", text).Run()
}

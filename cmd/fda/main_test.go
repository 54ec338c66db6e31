package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "fda dev") {
		t.Errorf("expected output to contain 'fda dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	cmd := newVersionCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.Run(cmd, nil)

	expected := "fda 1.0.0 (commit: abc123, built: 2026-01-01)\n"
	if buf.String() != expected {
		t.Errorf("expected %q, got %q", expected, buf.String())
	}
}

func TestRootCmdHelp(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("help command failed: %v", err)
	}

	out := buf.String()
	for _, sub := range []string{
		"version", "init", "start", "up", "down", "status", "task", "alert",
		"kpi", "decision", "context", "message", "ask", "calendar", "dashboard",
	} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help output to list %q, got: %s", sub, out)
		}
	}
}

func TestExecuteError(t *testing.T) {
	cmd := &cobra.Command{
		Use:           "failing",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("intentional error")
		},
	}
	if code := execute(cmd); code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
}

func TestSubcommands(t *testing.T) {
	tests := []struct {
		name string
		cmd  *cobra.Command
		subs []string
	}{
		{"task", newTaskCmd(), []string{"add", "list", "show", "update"}},
		{"alert", newAlertCmd(), []string{"add", "list", "ack"}},
		{"kpi", newKPICmd(), []string{"add", "latest", "history"}},
		{"decision", newDecisionCmd(), []string{"add", "list"}},
		{"context", newContextCmd(), []string{"get", "set", "list"}},
		{"message", newMessageCmd(), []string{"send", "inbox", "read", "thread", "cleanup"}},
		{"calendar", newCalendarCmd(), []string{"today", "upcoming"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.cmd.Use != tt.name {
				t.Errorf("Use = %q, want %q", tt.cmd.Use, tt.name)
			}
			for _, sub := range tt.subs {
				found, _, err := tt.cmd.Find([]string{sub})
				if err != nil || found == tt.cmd {
					t.Errorf("missing %s subcommand", sub)
				}
			}
		})
	}
}

func TestConfigFlagDefaults(t *testing.T) {
	for _, cmd := range []*cobra.Command{
		newInitCmd(), newStartCmd(), newUpCmd(), newDownCmd(), newStatusCmd(),
		newTaskAddCmd(), newMessageSendCmd(), newAskCmd(), newDashboardCmd(),
	} {
		f := cmd.Flags().Lookup("config")
		if f == nil {
			t.Errorf("%s: expected --config flag", cmd.Use)
			continue
		}
		if f.Shorthand != "c" || f.DefValue != "fda.yaml" {
			t.Errorf("%s: --config = -%s %q, want -c %q", cmd.Use, f.Shorthand, f.DefValue, "fda.yaml")
		}
	}
}

func TestMessageSendCmd_Flags(t *testing.T) {
	cmd := newMessageSendCmd()
	for _, name := range []string{"from", "to", "type", "subject", "body", "priority", "reply-to"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected --%s flag", name)
		}
	}
	if got := cmd.Flags().Lookup("from").DefValue; got != "human" {
		t.Errorf("--from default = %q, want %q", got, "human")
	}
	if got := cmd.Flags().Lookup("priority").DefValue; got != "medium" {
		t.Errorf("--priority default = %q, want %q", got, "medium")
	}
}

func TestUpCmd_AgentsDefault(t *testing.T) {
	f := newUpCmd().Flags().Lookup("agents")
	if f == nil || f.DefValue != "[fda,executor,librarian]" {
		t.Errorf("--agents = %+v", f)
	}
}

func TestStartCmd_RequiresAgent(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"start"})
	if err := cmd.Execute(); err == nil {
		t.Error("expected error without an agent argument")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a long task title", 10, "a long ..."},
		{"line\nbreak", 20, "line break"},
		{"héllo wörld", 8, "héllo..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

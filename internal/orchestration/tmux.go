package orchestration

// SessionName is the tmux session that hosts the agent processes.
const SessionName = "fda"

// Tmux abstracts tmux operations for testability.
type Tmux interface {
	SessionExists(name string) bool
	CreateSession(name string) error
	NewPane(session string) (string, error)
	SendKeys(paneID, keys string) error
	SendSignal(paneID, signal string) error
	KillSession(name string) error
	ListPanes(session string) ([]string, error)
	TileLayout(session string) error
}

// DefaultTmux is used when no Tmux is supplied. Building with the
// unittest tag swaps RealTmux for a no-op stub.
var DefaultTmux Tmux = RealTmux{}

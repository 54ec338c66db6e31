//go:build unittest

package orchestration

// RealTmux does nothing under the unittest tag.
type RealTmux struct{}

func (RealTmux) SessionExists(name string) bool             { return false }
func (RealTmux) CreateSession(name string) error            { return nil }
func (RealTmux) NewPane(session string) (string, error)     { return "", nil }
func (RealTmux) SendKeys(paneID, keys string) error         { return nil }
func (RealTmux) SendSignal(paneID, signal string) error     { return nil }
func (RealTmux) KillSession(name string) error              { return nil }
func (RealTmux) ListPanes(session string) ([]string, error) { return nil, nil }
func (RealTmux) TileLayout(session string) error            { return nil }

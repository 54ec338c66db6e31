// Package notify delivers one-way notifications to people: chat channels
// and a local shell command. Delivery is best-effort; agents never wait on
// it.
package notify

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/zulandar/fda/internal/config"
)

// Notifier is a one-way sink for agent notifications.
type Notifier interface {
	Notify(ctx context.Context, target, text string) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) error { return nil }

// Multi fans a notification out to several sinks in the background. Notify
// returns immediately; sink errors are logged.
type Multi struct {
	sinks []Notifier
	wg    sync.WaitGroup
}

// NewMulti returns a Multi over sinks.
func NewMulti(sinks ...Notifier) *Multi {
	return &Multi{sinks: sinks}
}

// Len returns the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Notify dispatches to every sink without waiting for delivery.
func (m *Multi) Notify(ctx context.Context, target, text string) error {
	ctx = context.WithoutCancel(ctx)
	for _, s := range m.sinks {
		m.wg.Add(1)
		go func(s Notifier) {
			defer m.wg.Done()
			if err := s.Notify(ctx, target, text); err != nil {
				log.Printf("notify: %T: %v", s, err)
			}
		}(s)
	}
	return nil
}

// Wait blocks until in-flight deliveries finish.
func (m *Multi) Wait() { m.wg.Wait() }

// FromConfig builds a Multi from the configured sinks. Sinks whose bot
// token env var is unset are skipped with a log line.
func FromConfig(cfg config.NotifyConfig) (*Multi, error) {
	var sinks []Notifier
	if cfg.Command != "" {
		sinks = append(sinks, NewCommand(cfg.Command))
	}
	if cfg.Slack.Channel != "" {
		token := os.Getenv(cfg.Slack.BotTokenEnv)
		if token == "" {
			log.Printf("notify: slack channel configured but %s is not set; skipping", cfg.Slack.BotTokenEnv)
		} else {
			s, err := NewSlack(SlackOpts{BotToken: token, Channel: cfg.Slack.Channel})
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, s)
		}
	}
	if cfg.Discord.Channel != "" {
		token := os.Getenv(cfg.Discord.BotTokenEnv)
		if token == "" {
			log.Printf("notify: discord channel configured but %s is not set; skipping", cfg.Discord.BotTokenEnv)
		} else {
			d, err := NewDiscord(DiscordOpts{BotToken: token, Channel: cfg.Discord.Channel})
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, d)
		}
	}
	return NewMulti(sinks...), nil
}

// addressed prefixes text with its target unless it is meant for the
// channel's human reader.
func addressed(target, text string) string {
	if target == "" || target == "human" {
		return text
	}
	return fmt.Sprintf("@%s %s", target, text)
}

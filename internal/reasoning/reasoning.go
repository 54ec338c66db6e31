// Package reasoning defines the language-model collaborator the agents
// consult, plus an Anthropic Messages API client and a scripted fake.
package reasoning

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/zulandar/fda/internal/config"
	"github.com/zulandar/fda/internal/fault"
)

// Roles used in a Turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of a conversation history.
type Turn struct {
	Role    string
	Content string
}

// Reasoner completes a conversation. Implementations may be slow and return
// errors wrapping fault.ErrUpstreamUnavailable for retryable failures.
type Reasoner interface {
	Complete(ctx context.Context, system string, history []Turn) (string, error)
}

// FromConfig builds the configured Reasoner. Provider "none" yields a
// reasoner that always reports upstream unavailable.
func FromConfig(cfg config.ReasoningConfig) (Reasoner, error) {
	switch cfg.Provider {
	case "", "anthropic":
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("reasoning: %s is not set", cfg.APIKeyEnv)
		}
		return NewAnthropic(AnthropicConfig{
			APIKey:    key,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		}), nil
	case "none":
		return Unavailable{}, nil
	default:
		return nil, fmt.Errorf("reasoning: unknown provider %q", cfg.Provider)
	}
}

// Unavailable is a Reasoner with no backend.
type Unavailable struct{}

func (Unavailable) Complete(context.Context, string, []Turn) (string, error) {
	return "", fmt.Errorf("reasoning: %w: no provider configured", fault.ErrUpstreamUnavailable)
}

// Scripted replays canned replies in order, for tests and dry runs. Once the
// script is exhausted it repeats the last reply.
type Scripted struct {
	mu      sync.Mutex
	replies []Reply
	next    int
	calls   []Call
}

// Reply is one scripted outcome.
type Reply struct {
	Text string
	Err  error
}

// Call records the arguments of one Complete call.
type Call struct {
	System  string
	History []Turn
}

// NewScripted returns a Scripted reasoner.
func NewScripted(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

func (s *Scripted) Complete(ctx context.Context, system string, history []Turn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{System: system, History: append([]Turn(nil), history...)})
	if len(s.replies) == 0 {
		return "", nil
	}
	r := s.replies[s.next]
	if s.next < len(s.replies)-1 {
		s.next++
	}
	return r.Text, r.Err
}

// Calls returns a copy of the recorded calls.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

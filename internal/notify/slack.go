package notify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/fda/internal/fault"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackOpts holds parameters for creating a Slack sink.
type SlackOpts struct {
	BotToken string
	Channel  string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// Slack posts notifications to one Slack channel.
type Slack struct {
	client  slackClient
	channel string
	backoff func(attempt int) time.Duration
}

// NewSlack creates a Slack sink.
func NewSlack(opts SlackOpts) (*Slack, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("notify: slack bot token is required")
	}
	if opts.Channel == "" {
		return nil, fmt.Errorf("notify: slack channel is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	return &Slack{client: client, channel: opts.Channel, backoff: expBackoff}, nil
}

// Notify posts text to the channel, retrying on rate limits.
func (s *Slack) Notify(ctx context.Context, target, text string) error {
	msg := slackapi.MsgOptionText(addressed(target, text), false)
	for attempt := 0; ; attempt++ {
		_, _, err := s.client.PostMessage(s.channel, msg)
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return fmt.Errorf("notify: slack post: %w: %v", fault.ErrUpstreamUnavailable, err)
		}
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = s.backoff(attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func expBackoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

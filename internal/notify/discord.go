package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/fda/internal/fault"
)

// discordMaxLen is Discord's per-message character limit.
const discordMaxLen = 2000

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordOpts holds parameters for creating a Discord sink.
type DiscordOpts struct {
	BotToken string
	Channel  string
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// Discord posts notifications to one Discord channel over the REST API.
// It never opens a gateway connection.
type Discord struct {
	sess    session
	channel string
	backoff func(attempt int) time.Duration
}

// NewDiscord creates a Discord sink.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("notify: discord bot token is required")
	}
	if opts.Channel == "" {
		return nil, fmt.Errorf("notify: discord channel is required")
	}
	sess := opts.Session
	if sess == nil {
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("notify: discord session: %w", err)
		}
		sess = dg
	}
	return &Discord{sess: sess, channel: opts.Channel, backoff: expBackoff}, nil
}

// Notify sends text to the channel, truncated to Discord's limit, retrying
// on 429 responses.
func (d *Discord) Notify(ctx context.Context, target, text string) error {
	content := addressed(target, text)
	if len(content) > discordMaxLen {
		content = content[:discordMaxLen-3] + "..."
	}
	for attempt := 0; ; attempt++ {
		_, err := d.sess.ChannelMessageSend(d.channel, content)
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests || attempt == maxRetries {
			return fmt.Errorf("notify: discord send: %w: %v", fault.ErrUpstreamUnavailable, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.backoff(attempt)):
		}
	}
}

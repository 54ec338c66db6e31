package messaging

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/zulandar/fda/internal/models"
)

// HumanRecipient is the pseudo-agent that stands for the person running FDA.
const HumanRecipient = "human"

const notifyTimeout = 30 * time.Second

// shouldNotify returns true if the message warrants a push notification.
// Blockers and alerts addressed to the director are left to the director,
// which notifies the user when it handles them.
func shouldNotify(msg *models.Message) bool {
	if msg.To == models.AgentDirector && (msg.Type == models.MsgBlocker || msg.Type == models.MsgAlert) {
		return false
	}
	return msg.To == HumanRecipient || msg.Priority == models.PriorityHigh
}

// FormatNotification renders a message as notification text.
func FormatNotification(msg *models.Message) string {
	text := fmt.Sprintf("[%s] %s -> %s: %s", msg.Priority, msg.From, msg.To, msg.Subject)
	if msg.Body != "" {
		text += "\n" + msg.Body
	}
	return text
}

// notify hands msg to the configured notifier. Best-effort: it runs in the
// background and errors are logged, not returned.
func (b *Bus) notify(msg *models.Message) {
	text := FormatNotification(msg)
	target := msg.To
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := b.opts.Notify.Notify(ctx, target, text); err != nil {
			log.Printf("messaging: notify %s: %v", target, err)
		}
	}()
}

// SortByPriority returns a copy of msgs ordered high -> low, keeping arrival
// order within a priority. For display only.
func SortByPriority(msgs []models.Message) []models.Message {
	rank := map[string]int{models.PriorityHigh: 0, models.PriorityMedium: 1, models.PriorityLow: 2}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		return rank[out[i].Priority] < rank[out[j].Priority]
	})
	return out
}

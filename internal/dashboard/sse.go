package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/fda/internal/state"
)

const sseHeartbeatInterval = 15 * time.Second

// alertEvent holds data for an alert SSE event.
type alertEvent struct {
	ID      uint   `json:"id"`
	Level   string `json:"level"`
	Message string `json:"message"`
	Source  string `json:"source"`
	Open    int    `json:"open"`
}

// handleEvents streams an "alert" event for every unacknowledged alert raised
// after the client connected.
func handleEvents(store *state.Store, interval time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		ctx := c.Request.Context()
		unacked := false
		filter := state.AlertFilter{Acknowledged: &unacked}

		// Only alert on alerts raised from now on.
		var lastSeenID uint
		if alerts, err := store.ListAlerts(ctx, filter); err == nil && len(alerts) > 0 {
			lastSeenID = alerts[len(alerts)-1].ID
		}

		ticker := time.NewTicker(interval)
		heartbeat := time.NewTicker(sseHeartbeatInterval)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				alerts, err := store.ListAlerts(ctx, filter)
				if err != nil {
					if ctx.Err() == nil {
						log.Printf("dashboard: events: %v", err)
					}
					continue
				}
				for _, a := range alerts {
					if a.ID <= lastSeenID {
						continue
					}
					lastSeenID = a.ID
					writeSSE(c.Writer, "alert", alertEvent{
						ID:      a.ID,
						Level:   a.Level,
						Message: a.Message,
						Source:  a.Source,
						Open:    len(alerts),
					})
				}
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}

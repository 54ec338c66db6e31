package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/fda/internal/fault"
	"github.com/zulandar/fda/internal/models"
	"github.com/zulandar/fda/internal/state"
)

// DefaultHeartbeatInterval is the default interval between heartbeat updates.
const DefaultHeartbeatInterval = 30 * time.Second

// Run registers the role's timers, marks the agent running and polls the
// inbox until ctx is cancelled. Scheduled work and inbox polls share one
// wake lock, so a message is never handled twice concurrently.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.store.SetAgentStatus(ctx, a.name, models.AgentStarting, ""); err != nil {
		return fmt.Errorf("agent: %s: register: %w", a.name, err)
	}
	if err := a.role.Schedule(a, a.sched); err != nil {
		return fmt.Errorf("agent: %s: schedule: %w", a.name, err)
	}

	schedDone := make(chan error, 1)
	go func() { schedDone <- a.sched.Run(ctx) }()
	hbErrCh := StartHeartbeat(ctx, a.store, a.name, a.heartbeat)

	defer func() {
		a.sched.Stop()
		<-schedDone
		if err := a.store.SetAgentStatus(context.WithoutCancel(ctx), a.name, models.AgentStopped, ""); err != nil {
			log.Printf("agent: %s: deregister: %v", a.name, err)
		}
	}()

	if err := a.store.SetAgentStatus(ctx, a.name, models.AgentRunning, ""); err != nil {
		return fmt.Errorf("agent: %s: register: %w", a.name, err)
	}
	log.Printf("agent: %s: running (poll every %s)", a.name, a.cfg.Schedule.MessagePollInterval)

	ticker := time.NewTicker(a.cfg.Schedule.MessagePollInterval)
	defer ticker.Stop()
	for {
		if err := a.Wake(ctx, ""); err != nil && ctx.Err() == nil {
			log.Printf("agent: %s: poll: %v", a.name, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case err := <-hbErrCh:
			return fmt.Errorf("agent: %s: heartbeat: %w", a.name, err)
		case <-ticker.C:
		}
	}
}

// StartHeartbeat launches a goroutine that periodically refreshes the
// agent's last_heartbeat. It returns a channel that receives an error if the
// status row disappears or the store fails with anything but Busy.
func StartHeartbeat(ctx context.Context, store *state.Store, name string, interval time.Duration) <-chan error {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	errCh := make(chan error, 1)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := store.AgentHeartbeat(ctx, name)
				switch {
				case err == nil, errors.Is(err, context.Canceled):
				case errors.Is(err, fault.ErrBusy):
					log.Printf("agent: %s: heartbeat skipped: %v", name, err)
				default:
					errCh <- err
					return
				}
			}
		}
	}()

	return errCh
}

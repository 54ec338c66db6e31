package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/fda/internal/models"
	"github.com/zulandar/fda/internal/scheduler"
)

// MaintenanceJob is the librarian's daily bus cleanup.
const MaintenanceJob = "librarian_maintenance"

// LastCleanupKey is the context entry describing the latest bus cleanup.
const LastCleanupKey = "last_bus_cleanup"

const librarianPrompt = `You are the librarian agent of a small agent team.
You keep the team's knowledge: tasks, decisions, KPIs and project settings.
Answer questions from the shared project state, cite task ids and decision titles,
and say plainly when the state holds no answer.`

// Librarian answers knowledge requests in-thread and prunes old bus
// messages.
type Librarian struct{}

func (Librarian) SystemPrompt() string { return librarianPrompt }

func (Librarian) HandleMessage(ctx context.Context, a *Agent, msg models.Message) error {
	if msg.Type == models.MsgRequest {
		return answerRequest(ctx, a, msg)
	}
	log.Printf("agent: %s: %s from %s: %s", a.name, msg.Type, msg.From, msg.Subject)
	return nil
}

func (Librarian) Schedule(a *Agent, s *scheduler.Scheduler) error {
	return s.RegisterTask(MaintenanceJob, "@daily", a.Trigger(MaintenanceJob))
}

func (Librarian) Action(trigger string) Action {
	if trigger == MaintenanceJob {
		return cleanupBus
	}
	return nil
}

// cleanupBus removes bus messages past the retention window. A window that
// is not positive would reach unread messages, so it is refused.
func cleanupBus(ctx context.Context, a *Agent) error {
	days := a.cfg.Bus.RetentionDays
	if days <= 0 {
		return fmt.Errorf("agent: %s: bus retention must be positive, got %d days", a.name, days)
	}
	var n int
	err := a.retry(ctx, "bus cleanup", func(ctx context.Context) error {
		var err error
		n, err = a.bus.Cleanup(ctx, time.Duration(days)*24*time.Hour)
		return err
	})
	if err != nil {
		return err
	}
	log.Printf("agent: %s: removed %d bus messages older than %d days", a.name, n, days)
	return a.retry(ctx, "record bus cleanup", func(ctx context.Context) error {
		return a.store.SetContext(ctx, LastCleanupKey,
			fmt.Sprintf("%s: removed %d messages", a.now().UTC().Format(time.RFC3339), n))
	})
}

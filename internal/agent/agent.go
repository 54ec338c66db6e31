// Package agent runs one FDA agent process: it drains the agent's bus inbox,
// runs the role's timed work when the scheduler fires, and keeps the agent's
// status row fresh.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/fda/internal/calendar"
	"github.com/zulandar/fda/internal/config"
	"github.com/zulandar/fda/internal/fault"
	"github.com/zulandar/fda/internal/messaging"
	"github.com/zulandar/fda/internal/models"
	"github.com/zulandar/fda/internal/notify"
	"github.com/zulandar/fda/internal/reasoning"
	"github.com/zulandar/fda/internal/scheduler"
	"github.com/zulandar/fda/internal/state"
)

// Action is a role's scheduled work.
type Action func(ctx context.Context, a *Agent) error

// Role supplies the behaviour that differs between agents.
type Role interface {
	// SystemPrompt frames every reasoning call the agent makes.
	SystemPrompt() string
	// HandleMessage processes one inbox message. The message is marked
	// read only when it returns nil.
	HandleMessage(ctx context.Context, a *Agent, msg models.Message) error
	// Schedule registers the role's timers. Each callback should come from
	// a.Trigger so the inbox is drained before the timed work runs.
	Schedule(a *Agent, s *scheduler.Scheduler) error
	// Action returns the work for a scheduler trigger, or nil.
	Action(trigger string) Action
}

// RoleFor returns the role implementation for a well-known agent name.
func RoleFor(name string) (Role, error) {
	switch name {
	case models.AgentDirector:
		return Director{}, nil
	case models.AgentExecutor:
		return Executor{}, nil
	case models.AgentLibrarian:
		return Librarian{}, nil
	}
	return nil, fmt.Errorf("agent: unknown agent %q (want %s, %s or %s)",
		name, models.AgentDirector, models.AgentExecutor, models.AgentLibrarian)
}

// Retry bounds the backoff applied to Busy and UpstreamUnavailable errors.
type Retry struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// DefaultRetry is used when Options.Retry is zero.
var DefaultRetry = Retry{Attempts: 4, Initial: 500 * time.Millisecond, Max: 8 * time.Second}

// Options configures an Agent.
type Options struct {
	Name      string
	Role      Role // defaults to RoleFor(Name)
	Bus       *messaging.Bus
	Store     *state.Store
	Reasoner  reasoning.Reasoner
	Calendar  calendar.Calendar
	Notifier  notify.Notifier
	Scheduler *scheduler.Scheduler // built from Store when nil
	Config    *config.Config
	Retry     Retry
	Heartbeat time.Duration
	Now       func() time.Time
}

// Agent is one running agent.
type Agent struct {
	name      string
	role      Role
	bus       *messaging.Bus
	store     *state.Store
	reasoner  reasoning.Reasoner
	cal       calendar.Calendar
	notifier  notify.Notifier
	sched     *scheduler.Scheduler
	cfg       *config.Config
	retryOpts Retry
	heartbeat time.Duration
	now       func() time.Time

	// wakeMu serializes inbox drains and scheduled work within the process.
	wakeMu sync.Mutex

	alertMu sync.Mutex
	alerted map[string]bool
}

// New validates opts and returns an Agent.
func New(opts Options) (*Agent, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("agent: name is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("agent: bus is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("agent: store is required")
	}
	if opts.Role == nil {
		r, err := RoleFor(opts.Name)
		if err != nil {
			return nil, err
		}
		opts.Role = r
	}
	if opts.Reasoner == nil {
		opts.Reasoner = reasoning.Unavailable{}
	}
	if opts.Calendar == nil {
		opts.Calendar = calendar.Disabled{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Config == nil {
		cfg, err := config.Parse(nil)
		if err != nil {
			return nil, err
		}
		opts.Config = cfg
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = DefaultRetry
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.New(scheduler.Options{
			Store:         opts.Store,
			Now:           opts.Now,
			MaxConcurrent: opts.Config.Schedule.MaxConcurrent,
		})
	}
	return &Agent{
		name:      opts.Name,
		role:      opts.Role,
		bus:       opts.Bus,
		store:     opts.Store,
		reasoner:  opts.Reasoner,
		cal:       opts.Calendar,
		notifier:  opts.Notifier,
		sched:     opts.Scheduler,
		cfg:       opts.Config,
		retryOpts: opts.Retry,
		heartbeat: opts.Heartbeat,
		now:       opts.Now,
		alerted:   make(map[string]bool),
	}, nil
}

// Name returns the agent's bus name.
func (a *Agent) Name() string { return a.name }

// Bus, Store, Calendar and Config expose the agent's collaborators to roles.
func (a *Agent) Bus() *messaging.Bus         { return a.bus }
func (a *Agent) Store() *state.Store         { return a.store }
func (a *Agent) Calendar() calendar.Calendar { return a.cal }
func (a *Agent) Config() *config.Config      { return a.cfg }

// Trigger returns a scheduler callback that wakes the agent for trigger.
func (a *Agent) Trigger(trigger string) scheduler.Callback {
	return func(ctx context.Context) error {
		return a.Wake(ctx, trigger)
	}
}

// Wake drains the agent's pending messages, then runs the role action for
// trigger. An empty trigger only drains the inbox. The action runs once:
// actions retry their own reads and final write, never a step that already
// took effect.
func (a *Agent) Wake(ctx context.Context, trigger string) error {
	a.wakeMu.Lock()
	defer a.wakeMu.Unlock()

	if err := a.drain(ctx); err != nil {
		return err
	}
	if trigger == "" {
		return nil
	}
	act := a.role.Action(trigger)
	if act == nil {
		return fmt.Errorf("agent: %s: unknown trigger %q", a.name, trigger)
	}
	if err := act(ctx, a); err != nil {
		a.escalate(ctx, "", trigger, err)
		return fmt.Errorf("agent: %s: %s: %w", a.name, trigger, err)
	}
	return nil
}

// drain handles every pending message in arrival order. A message whose
// handler keeps failing with a retryable error stays unread for the next
// wake; any other failure is raised as an alert and the message is consumed.
func (a *Agent) drain(ctx context.Context) error {
	msgs, err := a.bus.GetPending(a.name)
	if err != nil {
		a.escalate(ctx, "inbox", "inbox", err)
		return fmt.Errorf("agent: %s: inbox: %w", a.name, err)
	}
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		op := fmt.Sprintf("%s message %s from %s", msg.Type, msg.ID, msg.From)
		err := a.retry(ctx, op, func(ctx context.Context) error {
			return a.role.HandleMessage(ctx, a, msg)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.escalate(ctx, msg.ID, op, err)
			if fault.Retryable(err) {
				continue
			}
		}
		if err := a.retry(ctx, "ack "+msg.ID, func(ctx context.Context) error {
			return a.bus.Ack(ctx, msg, a.name)
		}); err != nil {
			log.Printf("agent: %s: ack %s: %v", a.name, msg.ID, err)
		}
	}
	return nil
}

// retry runs fn until it succeeds, fails with a non-retryable error, or the
// attempts are used up, doubling the delay between attempts.
func (a *Agent) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := a.retryOpts.Initial
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !fault.Retryable(err) || attempt >= a.retryOpts.Attempts {
			return err
		}
		log.Printf("agent: %s: %s: attempt %d/%d failed, retrying in %s: %v",
			a.name, op, attempt, a.retryOpts.Attempts, delay, err)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
		if a.retryOpts.Max > 0 && delay > a.retryOpts.Max {
			delay = a.retryOpts.Max
		}
	}
}

// escalate records a failed operation. Upstream outages become warnings,
// corruption and invariant conflicts become critical alerts. A non-empty key
// is escalated at most once per process so an unread message does not raise
// an alert on every poll.
func (a *Agent) escalate(ctx context.Context, key, op string, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	log.Printf("agent: %s: %s: %v", a.name, op, err)

	var level string
	switch {
	case errors.Is(err, fault.ErrCorruption), errors.Is(err, fault.ErrConflict):
		level = models.AlertCritical
	case errors.Is(err, fault.ErrUpstreamUnavailable):
		level = models.AlertWarning
	default:
		return
	}

	if key != "" {
		a.alertMu.Lock()
		seen := a.alerted[key]
		a.alerted[key] = true
		a.alertMu.Unlock()
		if seen {
			return
		}
	}

	msg := fmt.Sprintf("%s: %s failed: %v", a.name, op, err)
	if _, aerr := a.store.AddAlert(context.WithoutCancel(ctx), level, msg, a.name); aerr != nil {
		log.Printf("agent: %s: raise alert: %v", a.name, aerr)
	}
}

// Notify hands text to the notification sinks. Failures are logged.
func (a *Agent) Notify(ctx context.Context, target, text string) {
	if err := a.notifier.Notify(ctx, target, text); err != nil {
		log.Printf("agent: %s: notify %s: %v", a.name, target, err)
	}
}

// Reason asks the reasoning collaborator for a completion framed by the
// role prompt and background.
func (a *Agent) Reason(ctx context.Context, background, prompt string) (string, error) {
	system := a.role.SystemPrompt()
	if background != "" {
		system += "\n\n## Current project state\n" + background
	}
	text, err := a.reasoner.Complete(ctx, system, []reasoning.Turn{{Role: reasoning.RoleUser, Content: prompt}})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Reply answers msg in its thread.
func (a *Agent) Reply(ctx context.Context, msg models.Message, body string) error {
	subject := msg.Subject
	if !strings.HasPrefix(subject, "Re: ") {
		subject = "Re: " + subject
	}
	_, err := a.bus.Send(ctx, a.name, msg.From, models.MsgResponse, subject, body, msg.Priority,
		messaging.SendOpts{ReplyTo: msg.ID})
	return err
}

// Ask answers an interactive question using the role prompt and the current
// project state.
func (a *Agent) Ask(ctx context.Context, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("agent: ask: question is required")
	}
	var answer string
	err := a.retry(ctx, "ask", func(ctx context.Context) error {
		background, err := a.ProjectContext(ctx)
		if err != nil {
			return err
		}
		answer, err = a.Reason(ctx, background, question)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("agent: %s: ask: %w", a.name, err)
	}
	return answer, nil
}

// answerRequest replies to a request message with a reasoned answer.
func answerRequest(ctx context.Context, a *Agent, msg models.Message) error {
	background, err := a.ProjectContext(ctx)
	if err != nil {
		return err
	}
	prompt := msg.Subject
	if msg.Body != "" {
		prompt += "\n\n" + msg.Body
	}
	answer, err := a.Reason(ctx, background, prompt)
	if err != nil {
		return err
	}
	return a.Reply(ctx, msg, answer)
}

package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zulandar/fda/internal/calendar"
	"github.com/zulandar/fda/internal/messaging"
	"github.com/zulandar/fda/internal/models"
	"github.com/zulandar/fda/internal/scheduler"
	"github.com/zulandar/fda/internal/state"
)

// KPIJob is the director's periodic KPI snapshot job.
const KPIJob = "fda_check_kpis"

// KPI metrics recorded by the director.
const (
	MetricCompletionRate = "completion_rate"
	MetricBlockRate      = "block_rate"
	MetricTotalTasks     = "total_tasks"
)

// LastCheckinKey is the context entry holding the latest daily check-in.
const LastCheckinKey = "last_daily_checkin"

const directorPrompt = `You are FDA, the facilitating director agent of a small agent team.
You track project health, surface blockers early and prepare the user for meetings.
The executor agent carries out tasks; the librarian agent answers knowledge questions.
Be concise, specific and actionable.`

const checkinPrompt = `Perform a daily project health check based on the current project state.

Please provide:
1. **Overall Health Assessment**: Good, Needs Attention or At Risk
2. **Key Highlights**: What is going well?
3. **Concerns**: What needs attention?
4. **Blocked Items**: Any blockers that need immediate action?
5. **Recommendations**: Specific actions for today
6. **KPI Summary**: Notable trends or changes`

var checkinRiskWords = []string{"at risk", "critical", "urgent", "blocked"}

// Director is the coordinating agent. It turns blocker and alert messages
// into alerts, runs the daily check-in, prepares meeting briefs and records
// task KPIs.
type Director struct{}

func (Director) SystemPrompt() string { return directorPrompt }

func (Director) HandleMessage(ctx context.Context, a *Agent, msg models.Message) error {
	switch msg.Type {
	case models.MsgBlocker:
		text := fmt.Sprintf("Blocker from %s: %s - %s", msg.From, msg.Subject, msg.Body)
		a.Notify(ctx, messaging.HumanRecipient, text)
		_, err := a.store.AddAlert(ctx, models.AlertWarning, text, msg.From)
		return err
	case models.MsgAlert:
		level := models.AlertWarning
		if strings.Contains(strings.ToLower(msg.Subject), "critical") {
			level = models.AlertCritical
		}
		text := msg.Subject
		if msg.Body != "" {
			text += ": " + msg.Body
		}
		a.Notify(ctx, messaging.HumanRecipient, fmt.Sprintf("[%s] %s: %s", level, msg.From, text))
		_, err := a.store.AddAlert(ctx, level, text, msg.From)
		return err
	case models.MsgRequest:
		return answerRequest(ctx, a, msg)
	case models.MsgTask:
		return applyTaskMessage(ctx, a, msg)
	default:
		log.Printf("agent: %s: %s from %s: %s", a.name, msg.Type, msg.From, msg.Subject)
		return nil
	}
}

func (Director) Schedule(a *Agent, s *scheduler.Scheduler) error {
	sc := a.cfg.Schedule
	if err := s.RegisterDailyCheckin(sc.DailyCheckin, a.Trigger(scheduler.DailyCheckinJob)); err != nil {
		return err
	}
	if err := s.RegisterCalendarWatcher(sc.CalendarIntervalMinutes, a.Trigger(scheduler.CalendarWatcherJob)); err != nil {
		return err
	}
	return s.RegisterTask(KPIJob, fmt.Sprintf("%dm", sc.CheckIntervalMinutes), a.Trigger(KPIJob))
}

func (Director) Action(trigger string) Action {
	switch trigger {
	case scheduler.DailyCheckinJob:
		return dailyCheckin
	case scheduler.CalendarWatcherJob:
		return prepareMeetings
	case KPIJob:
		return checkKPIs
	}
	return nil
}

// dailyCheckin summarizes project health, notifies the user and stores the
// summary under LastCheckinKey. The summary and its risk alert are written
// together.
func dailyCheckin(ctx context.Context, a *Agent) error {
	var summary string
	err := a.retry(ctx, "daily check-in", func(ctx context.Context) error {
		background, err := a.ProjectContext(ctx)
		if err != nil {
			return err
		}
		background += "\n### Today's meetings\n" + todaysMeetings(ctx, a)
		summary, err = a.Reason(ctx, background, checkinPrompt)
		return err
	})
	if err != nil {
		return err
	}
	day := a.now().Format("2006-01-02")
	a.Notify(ctx, messaging.HumanRecipient, fmt.Sprintf("Daily check-in %s\n\n%s", day, summary))

	var level, alert string
	lower := strings.ToLower(summary)
	for _, w := range checkinRiskWords {
		if strings.Contains(lower, w) {
			level, alert = models.AlertWarning, "Daily check-in identified issues requiring attention"
			break
		}
	}
	return a.retry(ctx, "record check-in", func(ctx context.Context) error {
		return a.store.SetContextWithAlert(ctx, LastCheckinKey, day+"\n\n"+summary, level, alert, a.name)
	})
}

// todaysMeetings lists today's events. Calendar failures degrade to a note.
func todaysMeetings(ctx context.Context, a *Agent) string {
	events, err := a.cal.EventsToday(ctx)
	if err != nil {
		log.Printf("agent: %s: calendar: %v", a.name, err)
		return "(calendar unavailable)\n"
	}
	if len(events) == 0 {
		return "(none)\n"
	}
	var b strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&b, "- %s-%s %s\n", ev.Start.Format("15:04"), ev.End.Format("15:04"), ev.Title)
	}
	return b.String()
}

// prepareMeetings writes a brief for every event starting within the lead
// time that has none yet.
func prepareMeetings(ctx context.Context, a *Agent) error {
	lead := time.Duration(a.cfg.Schedule.MeetingPrepLeadMinutes) * time.Minute
	events, err := a.cal.UpcomingEvents(ctx, lead)
	if err != nil {
		log.Printf("agent: %s: calendar: %v", a.name, err)
		return nil
	}

	var errs []error
	for _, ev := range events {
		var prepared bool
		err := a.retry(ctx, "meeting prep lookup", func(ctx context.Context) error {
			var err error
			_, prepared, err = a.store.GetMeetingPrep(ctx, ev.ID)
			return err
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prepared {
			continue
		}
		if err := prepareMeeting(ctx, a, ev); err != nil {
			errs = append(errs, fmt.Errorf("meeting %s: %w", ev.ID, err))
		}
	}
	return errors.Join(errs...)
}

func prepareMeeting(ctx context.Context, a *Agent, ev calendar.Event) error {
	var brief string
	err := a.retry(ctx, "meeting brief "+ev.ID, func(ctx context.Context) error {
		background, err := a.ProjectContext(ctx)
		if err != nil {
			return err
		}
		brief, err = a.Reason(ctx, background, meetingPrompt(ev))
		return err
	})
	if err != nil {
		return err
	}
	a.Notify(ctx, messaging.HumanRecipient,
		fmt.Sprintf("Meeting brief: %s at %s\n\n%s", ev.Title, ev.Start.Local().Format("15:04"), brief))
	return a.retry(ctx, "record meeting brief "+ev.ID, func(ctx context.Context) error {
		_, err := a.store.RecordMeetingPrep(ctx, ev.ID, brief, a.name)
		return err
	})
}

func meetingPrompt(ev calendar.Event) string {
	var names []string
	for _, at := range ev.Attendees {
		if at.Name != "" {
			names = append(names, at.Name)
		} else {
			names = append(names, at.Email)
		}
	}
	location := ev.Location
	if ev.IsOnline && ev.JoinURL != "" {
		location = strings.TrimSpace(location + " " + ev.JoinURL)
	}
	if location == "" {
		location = "Unknown"
	}

	var b strings.Builder
	b.WriteString("Prepare a briefing for this upcoming meeting:\n\n")
	fmt.Fprintf(&b, "Meeting: %s\n", ev.Title)
	fmt.Fprintf(&b, "Time: %s\n", ev.Start.Format(time.RFC3339))
	fmt.Fprintf(&b, "Organizer: %s\n", ev.Organizer)
	fmt.Fprintf(&b, "Attendees: %s\n", strings.Join(names, ", "))
	fmt.Fprintf(&b, "Location: %s\n", location)
	if ev.BodyPreview != "" {
		fmt.Fprintf(&b, "Description: %s\n", ev.BodyPreview)
	}
	b.WriteString(`
Please provide:
1. **Meeting Brief**: Key context and background
2. **Suggested Agenda**: Discussion topics in priority order
3. **Key Points to Address**: Items that must be covered
4. **Potential Questions**: Questions that might come up
5. **Recommended Actions**: Outcomes to aim for
6. **Supporting Data**: Relevant metrics or status updates`)
	return b.String()
}

// checkKPIs records completion rate, block rate and task count snapshots
// as one batch.
func checkKPIs(ctx context.Context, a *Agent) error {
	var tasks []models.Task
	err := a.retry(ctx, "list tasks", func(ctx context.Context) error {
		var err error
		tasks, err = a.store.ListTasks(ctx, state.TaskFilter{})
		return err
	})
	if err != nil {
		return err
	}
	var completed, blocked int
	for _, t := range tasks {
		switch t.Status {
		case models.TaskCompleted:
			completed++
		case models.TaskBlocked:
			blocked++
		}
	}
	total := len(tasks)
	var completionRate, blockRate float64
	if total > 0 {
		completionRate = float64(completed) / float64(total) * 100
		blockRate = float64(blocked) / float64(total) * 100
	}

	readings := []state.KPIReading{
		{Metric: MetricCompletionRate, Value: completionRate},
		{Metric: MetricBlockRate, Value: blockRate},
		{Metric: MetricTotalTasks, Value: float64(total)},
	}
	ts := a.now().UTC()
	return a.retry(ctx, "record kpis", func(ctx context.Context) error {
		return a.store.AddKPISnapshots(ctx, readings, ts)
	})
}

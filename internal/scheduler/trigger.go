package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/fda/internal/models"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// trigger computes a job's fire times.
type trigger interface {
	kind() string
	spec() string
	// first is the initial fire time for a job with no persisted state.
	first(now time.Time) time.Time
	// restore adjusts a persisted fire time loaded at startup.
	restore(persisted, now time.Time) time.Time
	// after returns the fire time following a fire at now; false means the
	// job is finished.
	after(now time.Time) (time.Time, bool)
}

type dailyTrigger struct {
	hour, minute int
	loc          *time.Location
}

func parseDaily(timeOfDay string, loc *time.Location) (dailyTrigger, error) {
	t, err := time.Parse("15:04", timeOfDay)
	if err != nil {
		return dailyTrigger{}, fmt.Errorf("scheduler: invalid time of day %q, want HH:MM", timeOfDay)
	}
	return dailyTrigger{hour: t.Hour(), minute: t.Minute(), loc: loc}, nil
}

func (d dailyTrigger) kind() string { return models.JobDaily }
func (d dailyTrigger) spec() string { return fmt.Sprintf("%02d:%02d", d.hour, d.minute) }

// first is today at HH:MM if that has not passed yet, else tomorrow.
func (d dailyTrigger) first(now time.Time) time.Time {
	local := now.In(d.loc)
	y, m, day := local.Date()
	at := time.Date(y, m, day, d.hour, d.minute, 0, 0, d.loc)
	if !at.After(local) {
		at = time.Date(y, m, day+1, d.hour, d.minute, 0, 0, d.loc)
	}
	return at.UTC()
}

func (d dailyTrigger) restore(persisted, _ time.Time) time.Time { return persisted }

// after recomputes from the wall clock so missed days never queue up.
func (d dailyTrigger) after(now time.Time) (time.Time, bool) { return d.first(now), true }

type intervalTrigger struct {
	every time.Duration
}

func (i intervalTrigger) kind() string { return models.JobInterval }
func (i intervalTrigger) spec() string { return i.every.String() }

func (i intervalTrigger) first(now time.Time) time.Time { return now.Add(i.every).UTC() }

// restore clamps a fire time more than one interval stale to now.
func (i intervalTrigger) restore(persisted, now time.Time) time.Time {
	if persisted.Before(now.Add(-i.every)) {
		return now.UTC()
	}
	return persisted
}

func (i intervalTrigger) after(now time.Time) (time.Time, bool) { return now.Add(i.every).UTC(), true }

// cronTrigger evaluates its expression in loc, like daily times.
type cronTrigger struct {
	expr  string
	sched cron.Schedule
	loc   *time.Location
}

func (c cronTrigger) kind() string                             { return models.JobCron }
func (c cronTrigger) spec() string                             { return c.expr }
func (c cronTrigger) first(now time.Time) time.Time            { return c.next(now) }
func (c cronTrigger) restore(persisted, _ time.Time) time.Time { return persisted }
func (c cronTrigger) after(now time.Time) (time.Time, bool)    { return c.next(now), true }

func (c cronTrigger) next(now time.Time) time.Time {
	if c.loc != nil {
		now = now.In(c.loc)
	}
	return c.sched.Next(now).UTC()
}

type oneShotTrigger struct {
	at time.Time
}

func (o oneShotTrigger) kind() string                             { return models.JobOneShot }
func (o oneShotTrigger) spec() string                             { return o.at.Format(time.RFC3339) }
func (o oneShotTrigger) first(time.Time) time.Time                { return o.at }
func (o oneShotTrigger) restore(persisted, _ time.Time) time.Time { return persisted }
func (o oneShotTrigger) after(time.Time) (time.Time, bool)        { return time.Time{}, false }

// parseTrigger accepts "15m", "@every 15m", a cron descriptor such as
// "@hourly", or a 5-field cron expression. Cron fields are read in loc.
func parseTrigger(s string, loc *time.Location) (trigger, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("scheduler: empty schedule")
	}
	raw := strings.TrimPrefix(s, "@every ")
	if d, err := time.ParseDuration(strings.TrimSpace(raw)); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("scheduler: interval must be positive, got %s", s)
		}
		return intervalTrigger{every: d}, nil
	}
	if raw != s {
		return nil, fmt.Errorf("scheduler: invalid interval %q", s)
	}
	sched, err := cronParser.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", s, err)
	}
	return cronTrigger{expr: s, sched: sched, loc: loc}, nil
}

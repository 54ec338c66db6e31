// Package scheduler runs the agents' timers: a daily check-in, interval and
// cron jobs, and one-shot reminders. Each job's next fire time is persisted
// before its callback runs, so a restarted process neither replays a
// backlog of missed occurrences nor skips the one that was due.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/zulandar/fda/internal/models"
)

// Well-known job names.
const (
	DailyCheckinJob    = "daily_checkin"
	CalendarWatcherJob = "calendar_watcher"
)

const (
	defaultMaxConcurrent = 4
	// maxSleep bounds a single wait so wall-clock jumps (suspend, NTP) are
	// noticed within a minute.
	maxSleep     = time.Minute
	storeTimeout = 10 * time.Second
)

// Callback is the work a job performs when it fires.
type Callback func(ctx context.Context) error

// JobStore persists job timing across restarts.
type JobStore interface {
	LoadJob(ctx context.Context, name string) (models.ScheduledJob, bool, error)
	SaveJob(ctx context.Context, job models.ScheduledJob) error
	DeleteJob(ctx context.Context, name string) error
}

// Options configures a Scheduler.
type Options struct {
	Store         JobStore         // nil keeps timing in memory only
	Now           func() time.Time // defaults to time.Now
	Location      *time.Location   // zone for daily times and cron fields; defaults to time.Local
	MaxConcurrent int              // callback pool size; defaults to 4
}

// JobStatus is a snapshot of one registered job.
type JobStatus struct {
	Name      string
	Kind      string
	Spec      string
	NextFire  time.Time
	LastFired *time.Time
	Running   bool
}

type job struct {
	name    string
	trigger trigger
	cb      Callback
	next    time.Time
	last    *time.Time
	running bool
}

// Scheduler dispatches job callbacks as they come due.
type Scheduler struct {
	store JobStore
	now   func() time.Time
	loc   *time.Location

	mu      sync.Mutex
	jobs    map[string]*job
	cbCtx   context.Context
	stopped bool

	sem      chan struct{}
	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	inflight sync.WaitGroup
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	return &Scheduler{
		store:  opts.Store,
		now:    opts.Now,
		loc:    opts.Location,
		jobs:   make(map[string]*job),
		cbCtx:  context.Background(),
		sem:    make(chan struct{}, opts.MaxConcurrent),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// RegisterDailyCheckin fires cb once a day at timeOfDay ("HH:MM").
func (s *Scheduler) RegisterDailyCheckin(timeOfDay string, cb Callback) error {
	t, err := parseDaily(timeOfDay, s.loc)
	if err != nil {
		return err
	}
	return s.register(DailyCheckinJob, t, cb)
}

// RegisterCalendarWatcher fires cb every intervalMinutes.
func (s *Scheduler) RegisterCalendarWatcher(intervalMinutes int, cb Callback) error {
	if intervalMinutes <= 0 {
		return fmt.Errorf("scheduler: calendar watcher interval must be positive, got %d", intervalMinutes)
	}
	return s.register(CalendarWatcherJob, intervalTrigger{every: time.Duration(intervalMinutes) * time.Minute}, cb)
}

// RegisterTask fires cb on intervalOrCron: a Go duration ("15m"), an
// "@every 15m" descriptor, or a 5-field cron expression.
func (s *Scheduler) RegisterTask(name, intervalOrCron string, cb Callback) error {
	if name == "" {
		return fmt.Errorf("scheduler: job name is required")
	}
	t, err := parseTrigger(intervalOrCron, s.loc)
	if err != nil {
		return err
	}
	return s.register(name, t, cb)
}

// RegisterOneShot fires cb once at at, then forgets the job. A time in the
// past fires on the next tick.
func (s *Scheduler) RegisterOneShot(name string, at time.Time, cb Callback) error {
	if name == "" {
		return fmt.Errorf("scheduler: job name is required")
	}
	return s.register(name, oneShotTrigger{at: at.UTC()}, cb)
}

func (s *Scheduler) register(name string, t trigger, cb Callback) error {
	if cb == nil {
		return fmt.Errorf("scheduler: %s: callback is required", name)
	}
	now := s.now()
	j := &job{name: name, trigger: t, cb: cb}

	restored := false
	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		rec, ok, err := s.store.LoadJob(ctx, name)
		cancel()
		if err != nil {
			return fmt.Errorf("scheduler: load %s: %w", name, err)
		}
		if ok && rec.Kind == t.kind() && rec.Spec == t.spec() && !rec.NextFire.IsZero() {
			j.next = t.restore(rec.NextFire, now)
			j.last = rec.LastFired
			restored = true
		}
	}
	if !restored {
		j.next = t.first(now)
		if err := s.persist(j.record(), false); err != nil {
			return fmt.Errorf("scheduler: save %s: %w", name, err)
		}
	}

	s.mu.Lock()
	if old, ok := s.jobs[name]; ok {
		j.running = old.running
	}
	s.jobs[name] = j
	s.mu.Unlock()
	s.poke()
	return nil
}

// Unregister removes a job and its persisted timing. An in-flight callback
// is allowed to finish.
func (s *Scheduler) Unregister(name string) error {
	s.mu.Lock()
	delete(s.jobs, name)
	s.mu.Unlock()
	s.poke()
	if s.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.store.DeleteJob(ctx, name); err != nil {
		return fmt.Errorf("scheduler: delete %s: %w", name, err)
	}
	return nil
}

// Status returns every registered job ordered by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobStatus{
			Name:      j.name,
			Kind:      j.trigger.kind(),
			Spec:      j.trigger.spec(),
			NextFire:  j.next,
			LastFired: j.last,
			Running:   j.running,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Run dispatches callbacks until ctx is cancelled or Stop is called, then
// waits for in-flight callbacks and returns. It sleeps between fires.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.cbCtx = ctx
	s.mu.Unlock()

	defer s.inflight.Wait()
	for {
		s.Tick(s.now())

		wait := maxSleep
		if next, ok := s.nextWake(); ok {
			if d := next.Sub(s.now()); d < wait {
				wait = d
			}
		}
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.Stop()
			return nil
		case <-s.stopCh:
			timer.Stop()
			return nil
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Stop cancels pending timers. In-flight callbacks complete; no new ones
// start. Safe to call more than once and from any goroutine.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.stopCh)
	})
}

// Tick fires every job due at now. Each due job's next fire time is
// computed and persisted before its callback is dispatched.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	type firing struct {
		j      *job
		rec    models.ScheduledJob
		remove bool
	}
	var due []firing
	for _, j := range s.jobs {
		if j.running || j.next.After(now) {
			continue
		}
		fired := now
		j.last = &fired
		next, again := j.trigger.after(now)
		if again {
			j.next = next
		} else {
			delete(s.jobs, j.name)
		}
		j.running = true
		due = append(due, firing{j: j, rec: j.record(), remove: !again})
	}
	ctx := s.cbCtx
	s.mu.Unlock()

	sort.Slice(due, func(a, b int) bool { return due[a].j.name < due[b].j.name })
	for _, f := range due {
		if err := s.persist(f.rec, f.remove); err != nil {
			log.Printf("scheduler: persist %s: %v", f.j.name, err)
		}
		s.dispatch(ctx, f.j)
	}
}

// dispatch runs j's callback on the bounded pool without blocking the
// caller.
func (s *Scheduler) dispatch(ctx context.Context, j *job) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.finish(j)

		select {
		case s.sem <- struct{}{}:
		case <-s.stopCh:
			return
		}
		defer func() { <-s.sem }()

		defer func() {
			if r := recover(); r != nil {
				log.Printf("scheduler: job %s panicked: %v\n%s", j.name, r, debug.Stack())
			}
		}()
		if err := j.cb(ctx); err != nil {
			log.Printf("scheduler: job %s: %v", j.name, err)
		}
	}()
}

func (s *Scheduler) finish(j *job) {
	s.mu.Lock()
	j.running = false
	s.mu.Unlock()
	s.poke()
}

// nextWake returns the earliest fire time among idle jobs.
func (s *Scheduler) nextWake() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var earliest time.Time
	found := false
	for _, j := range s.jobs {
		if j.running {
			continue
		}
		if !found || j.next.Before(earliest) {
			earliest = j.next
			found = true
		}
	}
	return earliest, found
}

// persist writes a job's timing, or deletes it once a one-shot has fired.
func (s *Scheduler) persist(rec models.ScheduledJob, remove bool) error {
	if s.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if remove {
		return s.store.DeleteJob(ctx, rec.Name)
	}
	return s.store.SaveJob(ctx, rec)
}

func (j *job) record() models.ScheduledJob {
	return models.ScheduledJob{
		Name:      j.name,
		Kind:      j.trigger.kind(),
		Spec:      j.trigger.spec(),
		NextFire:  j.next,
		LastFired: j.last,
	}
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

package state

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/fda/internal/db"
	"github.com/zulandar/fda/internal/fault"
	"github.com/zulandar/fda/internal/models"
	"gorm.io/gorm"
)

// openStore opens a store on path and initializes its schema.
func openStore(t *testing.T, path string) *Store {
	t.Helper()
	gdb, err := db.OpenSQLite(path, 5*time.Second)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	s := New(gdb)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testStore(t *testing.T) *Store {
	t.Helper()
	return openStore(t, filepath.Join(t.TempDir(), "state.db"))
}

func strPtr(s string) *string { return &s }

// failInsert makes the nth insert into table fail once with a SQLite busy
// error.
func failInsert(t *testing.T, gdb *gorm.DB, table string, nth int) {
	t.Helper()
	var mu sync.Mutex
	seen := 0
	err := gdb.Callback().Create().Before("gorm:create").Register("test:fail_"+table, func(tx *gorm.DB) {
		if tx.Statement.Table != table {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		seen++
		if seen == nth {
			tx.AddError(errors.New("database is locked"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
}

// --- Validation (no database needed) ---

func TestAddTask_MissingTitle(t *testing.T) {
	_, err := New(nil).AddTask(context.Background(), TaskInput{})
	if err == nil {
		t.Fatal("expected error for missing title")
	}
	if got := err.Error(); got != "state: add task: title is required" {
		t.Errorf("error = %q", got)
	}
}

func TestAddTask_InvalidEnums(t *testing.T) {
	tests := []struct {
		name string
		in   TaskInput
		want string
	}{
		{"status", TaskInput{Title: "x", Status: "done"}, `invalid status "done"`},
		{"priority", TaskInput{Title: "x", Priority: "urgent"}, `invalid priority "urgent"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(nil).AddTask(context.Background(), tt.in)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestAddAlert_InvalidLevel(t *testing.T) {
	_, err := New(nil).AddAlert(context.Background(), "panic", "msg", "executor")
	if err == nil || !strings.Contains(err.Error(), `invalid level "panic"`) {
		t.Errorf("error = %v", err)
	}
}

func TestNewTaskID_Format(t *testing.T) {
	id := NewTaskID()
	if !strings.HasPrefix(id, "task_") || len(id) != len("task_")+8 {
		t.Errorf("NewTaskID() = %q", id)
	}
	if NewTaskID() == id {
		t.Error("NewTaskID returned the same id twice")
	}
}

// --- Init ---

func TestInit_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s := openStore(t, path)
	ctx := context.Background()

	if _, err := s.AddTask(ctx, TaskInput{ID: "t1", Title: "survive"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	s2 := openStore(t, path)
	if _, err := s2.GetTask(ctx, "t1"); err != nil {
		t.Errorf("task lost after re-init: %v", err)
	}
}

// --- Tasks ---

func TestTaskLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.AddTask(ctx, TaskInput{Title: "Ship v1", Owner: "executor"})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if !strings.HasPrefix(id, "task_") {
		t.Errorf("generated id = %q", id)
	}
	task, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != models.TaskPending || task.Priority != models.PriorityMedium {
		t.Errorf("defaults = %s/%s", task.Status, task.Priority)
	}

	task, err = s.UpdateTask(ctx, id, TaskUpdate{Status: strPtr(models.TaskInProgress), Owner: strPtr("fda")})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if task.Status != models.TaskInProgress || task.Owner != "fda" {
		t.Errorf("after update = %s/%s", task.Status, task.Owner)
	}
}

func TestUpdateTask_CompletedIsTerminal(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if _, err := s.AddTask(ctx, TaskInput{ID: "t1", Title: "finish"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if _, err := s.UpdateTask(ctx, "t1", TaskUpdate{Status: strPtr(models.TaskCompleted)}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	for _, status := range []string{models.TaskInProgress, models.TaskCompleted, models.TaskPending} {
		_, err := s.UpdateTask(ctx, "t1", TaskUpdate{Status: strPtr(status)})
		if !errors.Is(err, fault.ErrConflict) {
			t.Errorf("update to %s after completion: err = %v, want ErrConflict", status, err)
		}
	}
	_, err := s.UpdateTask(ctx, "t1", TaskUpdate{Owner: strPtr("librarian")})
	if !errors.Is(err, fault.ErrConflict) {
		t.Errorf("owner change after completion: err = %v, want ErrConflict", err)
	}
}

func TestUpdateTask_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.UpdateTask(context.Background(), "nope", TaskUpdate{Status: strPtr(models.TaskBlocked)})
	if !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetTask(context.Background(), "nope"); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("GetTask err = %v, want ErrNotFound", err)
	}
}

func TestAddTask_DuplicateID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if _, err := s.AddTask(ctx, TaskInput{ID: "t1", Title: "a"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if _, err := s.AddTask(ctx, TaskInput{ID: "t1", Title: "b"}); !errors.Is(err, fault.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestListTasks_Filter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for _, in := range []TaskInput{
		{ID: "a", Title: "a", Owner: "executor"},
		{ID: "b", Title: "b", Owner: "fda", Status: models.TaskBlocked},
		{ID: "c", Title: "c", Owner: "executor", Status: models.TaskBlocked},
		{ID: "d", Title: "d"},
	} {
		if _, err := s.AddTask(ctx, in); err != nil {
			t.Fatalf("AddTask %s: %v", in.ID, err)
		}
	}

	tests := []struct {
		name   string
		filter TaskFilter
		want   []string
	}{
		{"all", TaskFilter{}, []string{"a", "b", "c", "d"}},
		{"blocked", TaskFilter{Status: models.TaskBlocked}, []string{"b", "c"}},
		{"executor blocked", TaskFilter{Status: models.TaskBlocked, Owner: "executor"}, []string{"c"}},
		{"executor", TaskFilter{Owner: "executor"}, []string{"a", "c"}},
		{"executor or unowned", TaskFilter{Owner: "executor", IncludeUnowned: true}, []string{"a", "c", "d"}},
		{"pending executor or unowned", TaskFilter{Status: models.TaskPending, Owner: "executor", IncludeUnowned: true}, []string{"a", "d"}},
		{"none", TaskFilter{Status: models.TaskCompleted}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := s.ListTasks(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListTasks: %v", err)
			}
			var got []string
			for _, task := range tasks {
				got = append(got, task.ID)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ids = %v, want %v", got, tt.want)
			}
		})
	}
}

// --- KPIs ---

func TestGetLatestKPI(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetLatestKPI(ctx, "velocity"); err != nil || ok {
		t.Fatalf("empty metric: ok=%v err=%v, want no data", ok, err)
	}

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	// Inserted out of order: latest must follow timestamp, not insertion.
	for _, r := range []struct {
		offset time.Duration
		value  float64
	}{
		{time.Hour, 20},
		{2 * time.Hour, 30},
		{0, 10},
	} {
		if _, _, err := s.AddKPISnapshot(ctx, "velocity", r.value, base.Add(r.offset)); err != nil {
			t.Fatalf("AddKPISnapshot: %v", err)
		}
	}
	if _, _, err := s.AddKPISnapshot(ctx, "burn", 99, base.Add(5*time.Hour)); err != nil {
		t.Fatalf("AddKPISnapshot: %v", err)
	}

	snap, ok, err := s.GetLatestKPI(ctx, "velocity")
	if err != nil || !ok {
		t.Fatalf("GetLatestKPI: ok=%v err=%v", ok, err)
	}
	if snap.Value != 30 {
		t.Errorf("latest value = %v, want 30", snap.Value)
	}
	if !snap.Timestamp.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("latest timestamp = %v", snap.Timestamp)
	}

	hist, err := s.KPIHistory(ctx, "velocity", 2)
	if err != nil {
		t.Fatalf("KPIHistory: %v", err)
	}
	if len(hist) != 2 || hist[0].Value != 30 || hist[1].Value != 20 {
		t.Errorf("history = %+v", hist)
	}

	metrics, err := s.ListMetrics(ctx)
	if err != nil {
		t.Fatalf("ListMetrics: %v", err)
	}
	if strings.Join(metrics, ",") != "burn,velocity" {
		t.Errorf("metrics = %v", metrics)
	}
}

func TestGetLatestKPI_TieGoesToLastInsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.AddKPISnapshot(ctx, "velocity", 1, ts)
	s.AddKPISnapshot(ctx, "velocity", 2, ts)

	snap, ok, err := s.GetLatestKPI(ctx, "velocity")
	if err != nil || !ok {
		t.Fatalf("GetLatestKPI: ok=%v err=%v", ok, err)
	}
	if snap.Value != 2 {
		t.Errorf("value = %v, want 2", snap.Value)
	}
}

func TestAddKPISnapshots_AllOrNothing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	readings := []KPIReading{{"completion_rate", 50}, {"block_rate", 25}, {"total_tasks", 4}}
	failInsert(t, s.DB(), "kpi_snapshots", 2)

	err := s.AddKPISnapshots(ctx, readings, ts)
	if !errors.Is(err, fault.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	if metrics, _ := s.ListMetrics(ctx); len(metrics) != 0 {
		t.Fatalf("metrics after failed batch = %v, want none", metrics)
	}

	if err := s.AddKPISnapshots(ctx, readings, ts); err != nil {
		t.Fatalf("AddKPISnapshots: %v", err)
	}
	for _, r := range readings {
		hist, err := s.KPIHistory(ctx, r.Metric, 0)
		if err != nil {
			t.Fatalf("KPIHistory: %v", err)
		}
		if len(hist) != 1 || hist[0].Value != r.Value || !hist[0].Timestamp.Equal(ts) {
			t.Errorf("%s history = %+v", r.Metric, hist)
		}
	}
	if err := s.AddKPISnapshots(ctx, []KPIReading{{" ", 1}}, ts); err == nil {
		t.Error("expected error for empty metric")
	}
}

// --- Alerts ---

func TestAlerts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.AddAlert(ctx, models.AlertWarning, "disk filling", "executor")
	if err != nil {
		t.Fatalf("AddAlert: %v", err)
	}
	if _, err := s.AddAlert(ctx, models.AlertCritical, "db down", "fda"); err != nil {
		t.Fatalf("AddAlert: %v", err)
	}

	if err := s.AcknowledgeAlert(ctx, first); err != nil {
		t.Fatalf("AcknowledgeAlert: %v", err)
	}
	if err := s.AcknowledgeAlert(ctx, first); err != nil {
		t.Errorf("second AcknowledgeAlert: %v", err)
	}
	if err := s.AcknowledgeAlert(ctx, 999); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("unknown alert err = %v, want ErrNotFound", err)
	}

	unacked := false
	open, err := s.ListAlerts(ctx, AlertFilter{Acknowledged: &unacked})
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(open) != 1 || open[0].Message != "db down" {
		t.Errorf("open alerts = %+v", open)
	}

	all, err := s.ListAlerts(ctx, AlertFilter{})
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(all) != 2 || all[0].ID != first {
		t.Errorf("all alerts not in insertion order: %+v", all)
	}
	if all[0].AcknowledgedAt == nil {
		t.Error("AcknowledgedAt not set")
	}
}

// --- Decisions, meeting prep, context ---

func TestDecisions_InsertionOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for _, title := range []string{"one", "two", "three"} {
		if _, err := s.AddDecision(ctx, title, "because", "fda", ""); err != nil {
			t.Fatalf("AddDecision: %v", err)
		}
	}

	all, _ := s.ListDecisions(ctx, 0)
	if len(all) != 3 || all[0].Title != "one" || all[2].Title != "three" {
		t.Errorf("all = %+v", all)
	}
	recent, _ := s.ListDecisions(ctx, 2)
	if len(recent) != 2 || recent[0].Title != "two" || recent[1].Title != "three" {
		t.Errorf("recent = %+v", recent)
	}
}

func TestMeetingPrep_Latest(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, ok, _ := s.GetMeetingPrep(ctx, "evt-1"); ok {
		t.Fatal("expected no prep yet")
	}
	s.RecordMeetingPrep(ctx, "evt-1", "draft", "fda")
	s.RecordMeetingPrep(ctx, "evt-1", "final", "fda")

	p, ok, err := s.GetMeetingPrep(ctx, "evt-1")
	if err != nil || !ok {
		t.Fatalf("GetMeetingPrep: ok=%v err=%v", ok, err)
	}
	if p.Brief != "final" {
		t.Errorf("brief = %q, want final", p.Brief)
	}
}

func TestContext_LastWriteWins(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, ok, _ := s.GetContext(ctx, "phase"); ok {
		t.Fatal("expected missing key")
	}
	if err := s.SetContext(ctx, "phase", "alpha"); err != nil {
		t.Fatalf("SetContext: %v", err)
	}
	if err := s.SetContext(ctx, "phase", "beta"); err != nil {
		t.Fatalf("SetContext overwrite: %v", err)
	}
	s.SetContext(ctx, "owner", "ops")

	v, ok, err := s.GetContext(ctx, "phase")
	if err != nil || !ok || v != "beta" {
		t.Errorf("GetContext = %q, %v, %v", v, ok, err)
	}
	entries, _ := s.ListContext(ctx)
	if len(entries) != 2 || entries[0].Key != "owner" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestSetContextWithAlert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	failInsert(t, s.DB(), "context", 1)

	err := s.SetContextWithAlert(ctx, "last_daily_checkin", "at risk", models.AlertWarning, "check-in found issues", "fda")
	if !errors.Is(err, fault.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	alerts, _ := s.ListAlerts(ctx, AlertFilter{})
	if len(alerts) != 0 {
		t.Fatalf("alerts after rollback = %+v, want none", alerts)
	}

	if err := s.SetContextWithAlert(ctx, "last_daily_checkin", "at risk", models.AlertWarning, "check-in found issues", "fda"); err != nil {
		t.Fatalf("SetContextWithAlert: %v", err)
	}
	if err := s.SetContextWithAlert(ctx, "last_daily_checkin", "all good", "", "", ""); err != nil {
		t.Fatalf("SetContextWithAlert without alert: %v", err)
	}
	v, _, _ := s.GetContext(ctx, "last_daily_checkin")
	if v != "all good" {
		t.Errorf("context = %q, want all good", v)
	}
	alerts, _ = s.ListAlerts(ctx, AlertFilter{})
	if len(alerts) != 1 || alerts[0].Source != "fda" || alerts[0].Level != models.AlertWarning {
		t.Errorf("alerts = %+v, want one warning", alerts)
	}
	if err := s.SetContextWithAlert(ctx, "k", "v", "loud", "m", "fda"); err == nil {
		t.Error("expected error for invalid alert level")
	}
}

// --- Agent status and jobs ---

func TestAgentStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.AgentHeartbeat(ctx, "fda"); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("heartbeat before status: err = %v", err)
	}
	if err := s.SetAgentStatus(ctx, "fda", models.AgentRunning, ""); err != nil {
		t.Fatalf("SetAgentStatus: %v", err)
	}
	if err := s.AgentHeartbeat(ctx, "fda"); err != nil {
		t.Errorf("AgentHeartbeat: %v", err)
	}
	if err := s.SetAgentStatus(ctx, "fda", models.AgentStopped, "shutdown"); err != nil {
		t.Fatalf("SetAgentStatus: %v", err)
	}
	rows, _ := s.ListAgentStatus(ctx)
	if len(rows) != 1 || rows[0].Status != models.AgentStopped || rows[0].Detail != "shutdown" {
		t.Errorf("rows = %+v", rows)
	}
	if err := s.SetAgentStatus(ctx, "fda", "sleeping", ""); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestJobs_SaveLoadDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	next := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if err := s.SaveJob(ctx, models.ScheduledJob{Name: "daily-checkin", Kind: models.JobDaily, Spec: "09:00", NextFire: next}); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	fired := next
	if err := s.SaveJob(ctx, models.ScheduledJob{Name: "daily-checkin", Kind: models.JobDaily, Spec: "09:00", NextFire: next.Add(24 * time.Hour), LastFired: &fired}); err != nil {
		t.Fatalf("SaveJob update: %v", err)
	}

	job, ok, err := s.LoadJob(ctx, "daily-checkin")
	if err != nil || !ok {
		t.Fatalf("LoadJob: ok=%v err=%v", ok, err)
	}
	if !job.NextFire.Equal(next.Add(24*time.Hour)) || job.LastFired == nil || !job.LastFired.Equal(fired) {
		t.Errorf("job = %+v", job)
	}

	if err := s.DeleteJob(ctx, "daily-checkin"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, ok, _ := s.LoadJob(ctx, "daily-checkin"); ok {
		t.Error("job still present after delete")
	}
}

// --- Cross-process atomicity ---

// Two handles on the same file stand in for two agent processes.
func TestConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	a := openStore(t, path)
	b := openStore(t, path)
	ctx := context.Background()

	if _, err := a.AddTask(ctx, TaskInput{ID: "t1", Title: "shared"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := a.UpdateTask(ctx, "t1", TaskUpdate{Status: strPtr(models.TaskInProgress)})
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := b.AddAlert(ctx, models.AlertWarning, "slow build", "executor")
		errs <- err
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent write: %v", err)
		}
	}

	task, err := b.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != models.TaskInProgress {
		t.Errorf("status = %s, want in_progress", task.Status)
	}
	alerts, _ := a.ListAlerts(ctx, AlertFilter{})
	if len(alerts) != 1 {
		t.Errorf("alerts = %d, want 1", len(alerts))
	}
}

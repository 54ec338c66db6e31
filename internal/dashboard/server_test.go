package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/fda/internal/db"
	"github.com/zulandar/fda/internal/messaging"
	"github.com/zulandar/fda/internal/models"
	"github.com/zulandar/fda/internal/state"
)

func testStore(t *testing.T) *state.Store {
	t.Helper()
	gdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "state.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	s := state.New(gdb)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testBus(t *testing.T) *messaging.Bus {
	t.Helper()
	bus, err := messaging.Open(filepath.Join(t.TempDir(), "message_bus.json"), messaging.Options{})
	if err != nil {
		t.Fatalf("messaging.Open: %v", err)
	}
	return bus
}

func get(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStart_NilStore(t *testing.T) {
	err := Start(context.Background(), StartOpts{Store: nil})
	if err == nil {
		t.Fatal("expected error for nil store")
	}
	if !strings.Contains(err.Error(), "store is required") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "store is required")
	}
}

func TestStartOpts_ZeroValue(t *testing.T) {
	opts := StartOpts{}
	if opts.Store != nil || opts.Bus != nil || opts.Port != 0 || opts.Out != nil {
		t.Error("zero-value StartOpts should have nil/zero fields")
	}
}

func TestSummary(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	store.AddTask(ctx, state.TaskInput{Title: "a"})
	store.AddTask(ctx, state.TaskInput{Title: "b", Status: models.TaskBlocked})
	store.AddAlert(ctx, models.AlertCritical, "db down", "fda")
	ackID, _ := store.AddAlert(ctx, models.AlertWarning, "slow", "executor")
	store.AcknowledgeAlert(ctx, ackID)
	store.AddKPISnapshot(ctx, "total_tasks", 2, time.Now())
	store.SetAgentStatus(ctx, models.AgentDirector, models.AgentRunning, "")

	w := get(t, newRouter(store, nil), "/api/summary")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var sum Summary
	decode(t, w, &sum)
	if sum.TotalTasks != 2 || sum.Tasks[models.TaskPending] != 1 || sum.Tasks[models.TaskBlocked] != 1 {
		t.Errorf("tasks = %d %v", sum.TotalTasks, sum.Tasks)
	}
	if sum.Tasks[models.TaskCompleted] != 0 {
		t.Errorf("completed = %d", sum.Tasks[models.TaskCompleted])
	}
	if sum.OpenAlerts != 1 || sum.Critical != 1 {
		t.Errorf("alerts open=%d critical=%d, want 1/1", sum.OpenAlerts, sum.Critical)
	}
	if len(sum.KPIs) != 1 || sum.KPIs[0].Value != 2 {
		t.Errorf("kpis = %+v", sum.KPIs)
	}
	if len(sum.Agents) != 1 || sum.Agents[0].Stale {
		t.Errorf("agents = %+v", sum.Agents)
	}
}

func TestTasksRoutes(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	id, _ := store.AddTask(ctx, state.TaskInput{Title: "Deploy", Owner: models.AgentExecutor})
	store.AddTask(ctx, state.TaskInput{Title: "Index", Owner: models.AgentLibrarian})
	router := newRouter(store, nil)

	tests := []struct {
		path     string
		wantCode int
		wantN    int
	}{
		{"/api/tasks", http.StatusOK, 2},
		{"/api/tasks?owner=executor", http.StatusOK, 1},
		{"/api/tasks?status=completed", http.StatusOK, 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(t, router, tt.path)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d", w.Code)
			}
			var tasks []models.Task
			decode(t, w, &tasks)
			if len(tasks) != tt.wantN {
				t.Errorf("tasks = %d, want %d", len(tasks), tt.wantN)
			}
		})
	}

	w := get(t, router, "/api/tasks/"+id)
	var task models.Task
	decode(t, w, &task)
	if w.Code != http.StatusOK || task.Title != "Deploy" {
		t.Errorf("GET task: %d %+v", w.Code, task)
	}
	if w := get(t, router, "/api/tasks/task_missing"); w.Code != http.StatusNotFound {
		t.Errorf("missing task status = %d, want 404", w.Code)
	}
}

func TestAlertsRoute(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	store.AddAlert(ctx, models.AlertWarning, "one", "fda")
	id, _ := store.AddAlert(ctx, models.AlertCritical, "two", "fda")
	store.AcknowledgeAlert(ctx, id)
	router := newRouter(store, nil)

	tests := []struct {
		path     string
		wantCode int
		wantN    int
	}{
		{"/api/alerts", http.StatusOK, 2},
		{"/api/alerts?acknowledged=false", http.StatusOK, 1},
		{"/api/alerts?level=critical", http.StatusOK, 1},
		{"/api/alerts?acknowledged=maybe", http.StatusBadRequest, -1},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(t, router, tt.path)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantN < 0 {
				return
			}
			var alerts []models.Alert
			decode(t, w, &alerts)
			if len(alerts) != tt.wantN {
				t.Errorf("alerts = %d, want %d", len(alerts), tt.wantN)
			}
		})
	}
}

func TestKPIAndDecisionRoutes(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		store.AddKPISnapshot(ctx, "completion_rate", float64(i*10), base.Add(time.Duration(i)*time.Hour))
	}
	store.AddDecision(ctx, "Use SQLite", "single host", "fda", "low")
	router := newRouter(store, nil)

	w := get(t, router, "/api/kpis/completion_rate?limit=2")
	var history []models.KPISnapshot
	decode(t, w, &history)
	if len(history) != 2 || history[0].Value != 20 {
		t.Errorf("history = %+v, want newest first", history)
	}
	if w := get(t, router, "/api/kpis/completion_rate?limit=zero"); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}

	w = get(t, router, "/api/kpis")
	var latest []KPIValue
	decode(t, w, &latest)
	if len(latest) != 1 || latest[0].Value != 20 {
		t.Errorf("latest = %+v", latest)
	}

	w = get(t, router, "/api/decisions")
	var decisions []models.Decision
	decode(t, w, &decisions)
	if len(decisions) != 1 || decisions[0].Title != "Use SQLite" {
		t.Errorf("decisions = %+v", decisions)
	}
}

func TestAgentsRoute_Stale(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	store.SetAgentStatus(ctx, models.AgentExecutor, models.AgentRunning, "")
	store.SetAgentStatus(ctx, models.AgentLibrarian, models.AgentStopped, "")

	rows, err := AgentSummary(ctx, store, time.Now().Add(10*time.Minute))
	if err != nil {
		t.Fatalf("AgentSummary: %v", err)
	}
	got := map[string]bool{}
	for _, r := range rows {
		got[r.Name] = r.Stale
	}
	if !got[models.AgentExecutor] {
		t.Error("running agent without heartbeat should be stale")
	}
	if got[models.AgentLibrarian] {
		t.Error("stopped agent should not be stale")
	}
}

func TestMessagesRoutes(t *testing.T) {
	store := testStore(t)
	bus := testBus(t)
	ctx := context.Background()
	id, _ := bus.Send(ctx, "executor", "fda", models.MsgRequest, "help", "", "", messaging.SendOpts{})
	bus.Send(ctx, "fda", "executor", models.MsgResponse, "Re: help", "ok", "", messaging.SendOpts{ReplyTo: id})
	router := newRouter(store, bus)

	var msgs []models.Message
	decode(t, get(t, router, "/api/messages/fda"), &msgs)
	if len(msgs) != 2 {
		t.Errorf("all for fda = %d, want 2", len(msgs))
	}
	decode(t, get(t, router, "/api/messages/fda?pending=true"), &msgs)
	if len(msgs) != 1 || msgs[0].ID != id {
		t.Errorf("pending for fda = %+v", msgs)
	}
	decode(t, get(t, router, "/api/threads/"+id), &msgs)
	if len(msgs) != 2 {
		t.Errorf("thread = %d, want 2", len(msgs))
	}
	w := get(t, router, "/api/threads/unknown")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("unknown thread = %d %q", w.Code, w.Body.String())
	}
}

func TestMessagesRoute_NoBus(t *testing.T) {
	w := get(t, newRouter(testStore(t), nil), "/api/messages/fda")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestEvents_StreamsNewAlerts(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	store.AddAlert(ctx, models.AlertWarning, "old news", "fda")

	router := gin.New()
	router.GET("/api/events", handleEvents(store, 10*time.Millisecond))

	reqCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	go func() {
		time.Sleep(50 * time.Millisecond)
		store.AddAlert(ctx, models.AlertCritical, "fresh", "executor")
	}()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(reqCtx)
	router.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(w.Header().Get("Content-Type"), "text/event-stream") {
		t.Errorf("content-type = %q", w.Header().Get("Content-Type"))
	}
	if !strings.HasPrefix(body, "event: connected\n") {
		t.Errorf("body does not start with connected event: %q", body)
	}
	if !strings.Contains(body, "event: alert\n") || !strings.Contains(body, `"message":"fresh"`) {
		t.Errorf("missing fresh alert event: %q", body)
	}
	if strings.Contains(body, "old news") {
		t.Errorf("alert raised before connect was streamed: %q", body)
	}
}

func TestUnknownRoute_Returns404(t *testing.T) {
	w := get(t, newRouter(testStore(t), nil), "/nonexistent")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

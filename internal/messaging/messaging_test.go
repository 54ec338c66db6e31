package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/fda/internal/fault"
	"github.com/zulandar/fda/internal/models"
	"pgregory.net/rapid"
)

func testBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := Open(filepath.Join(t.TempDir(), "message_bus.json"), Options{LockTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return bus
}

func send(t *testing.T, bus *Bus, from, to, msgType, subject string, opts SendOpts) string {
	t.Helper()
	id, err := bus.Send(context.Background(), from, to, msgType, subject, "", models.PriorityMedium, opts)
	if err != nil {
		t.Fatalf("Send %q: %v", subject, err)
	}
	return id
}

// --- Send validation tests ---

func TestSend_Validation(t *testing.T) {
	bus := testBus(t)
	tests := []struct {
		name                                 string
		from, to, msgType, subject, priority string
		want                                 string
	}{
		{"missing from", "", "fda", "task", "s", "", "messaging: from is required"},
		{"missing to", "executor", "", "task", "s", "", "messaging: to is required"},
		{"missing subject", "executor", "fda", "task", "", "", "messaging: subject is required"},
		{"bad type", "executor", "fda", "gossip", "s", "", `messaging: invalid message type "gossip"`},
		{"bad priority", "executor", "fda", "task", "s", "urgent", `messaging: invalid priority "urgent"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bus.Send(context.Background(), tt.from, tt.to, tt.msgType, tt.subject, "", tt.priority, SendOpts{})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := err.Error(); got != tt.want {
				t.Errorf("error = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpen_CreatesEmptyLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "message_bus.json")
	if _, err := Open(path, Options{}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log not created: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("log is not JSON: %v", err)
	}
	if doc["version"] != float64(1) {
		t.Errorf("version = %v, want 1", doc["version"])
	}
	if msgs, ok := doc["messages"].([]interface{}); !ok || len(msgs) != 0 {
		t.Errorf("messages = %v, want empty array", doc["messages"])
	}
}

// --- End to end ---

func TestBlockerScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "message_bus.json")
	executor, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	director, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	if _, err := executor.Send(ctx, "executor", "fda", models.MsgAlert, "Blocker", "DB down", models.PriorityHigh, SendOpts{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	pending, err := director.GetPending("fda")
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 1 || pending[0].Subject != "Blocker" {
		t.Fatalf("pending = %+v, want one Blocker", pending)
	}
	if err := director.MarkRead(ctx, pending[0].ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	pending, err = director.GetPending("fda")
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after mark read = %+v, want empty", pending)
	}
}

func TestGetPending_ArrivalOrderIgnoresPriority(t *testing.T) {
	bus := testBus(t)
	ctx := context.Background()
	low, _ := bus.Send(ctx, "a", "fda", models.MsgTask, "first", "", models.PriorityLow, SendOpts{})
	high, _ := bus.Send(ctx, "a", "fda", models.MsgTask, "second", "", models.PriorityHigh, SendOpts{})
	send(t, bus, "a", "executor", models.MsgTask, "not mine", SendOpts{})

	pending, err := bus.GetPending("fda")
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != low || pending[1].ID != high {
		t.Errorf("pending = %v, want [%s %s]", ids(pending), low, high)
	}
}

func TestMarkRead_Idempotent(t *testing.T) {
	bus := testBus(t)
	ctx := context.Background()
	id := send(t, bus, "executor", "fda", models.MsgTask, "do it", SendOpts{})

	if err := bus.MarkRead(ctx, id); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	first, _ := bus.Get(id)
	if err := bus.MarkRead(ctx, id); err != nil {
		t.Fatalf("second MarkRead: %v", err)
	}
	second, _ := bus.Get(id)

	if !second.Read || second.ReadAt == nil || !second.ReadAt.Equal(*first.ReadAt) {
		t.Errorf("read state changed on second call: %+v -> %+v", first, second)
	}
	all, _ := bus.AllForAgent("fda")
	if len(all) != 1 {
		t.Errorf("log has %d messages, want 1", len(all))
	}
}

func TestMarkRead_NotFound(t *testing.T) {
	bus := testBus(t)
	if err := bus.MarkRead(context.Background(), "missing"); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBroadcast_PerReader(t *testing.T) {
	bus := testBus(t)
	ctx := context.Background()
	send(t, bus, "fda", models.Broadcast, models.MsgStatus, "standup moved", SendOpts{})

	for _, agent := range []string{"executor", "librarian"} {
		pending, _ := bus.GetPending(agent)
		if len(pending) != 1 {
			t.Fatalf("%s pending = %d, want 1", agent, len(pending))
		}
	}

	pending, _ := bus.GetPending("executor")
	if err := bus.Ack(ctx, pending[0], "executor"); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if got, _ := bus.GetPending("executor"); len(got) != 0 {
		t.Errorf("executor still sees broadcast")
	}
	if got, _ := bus.GetPending("librarian"); len(got) != 1 {
		t.Errorf("librarian lost the broadcast")
	}
}

// --- Threads ---

func TestGetThread(t *testing.T) {
	bus := testBus(t)
	root := send(t, bus, "fda", "librarian", models.MsgRequest, "what changed?", SendOpts{})
	other := send(t, bus, "fda", "executor", models.MsgTask, "unrelated", SendOpts{})
	reply := send(t, bus, "librarian", "fda", models.MsgResponse, "re: what changed?", SendOpts{ReplyTo: root})
	followUp := send(t, bus, "fda", "librarian", models.MsgRequest, "more?", SendOpts{ReplyTo: reply})

	thread, err := bus.GetThread(followUp)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	want := []string{root, reply, followUp}
	if fmt.Sprint(ids(thread)) != fmt.Sprint(want) {
		t.Errorf("thread = %v, want %v", ids(thread), want)
	}

	if thread, _ := bus.GetThread(other); len(thread) != 1 {
		t.Errorf("unrelated thread = %v", ids(thread))
	}
	if thread, err := bus.GetThread("unknown"); err != nil || len(thread) != 0 {
		t.Errorf("unknown thread = %v, %v", thread, err)
	}
}

func TestSend_ReplyToUnknown(t *testing.T) {
	bus := testBus(t)
	_, err := bus.Send(context.Background(), "a", "b", models.MsgResponse, "re", "", "", SendOpts{ReplyTo: "ghost"})
	if !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetThread_Property(t *testing.T) {
	dir := t.TempDir()
	n := 0
	rapid.Check(t, func(rt *rapid.T) {
		n++
		bus, err := Open(filepath.Join(dir, fmt.Sprintf("bus-%d.json", n)), Options{})
		if err != nil {
			rt.Fatalf("Open: %v", err)
		}
		ctx := context.Background()

		count := rapid.IntRange(1, 8).Draw(rt, "count")
		var sent []string
		root := map[string]string{}
		for i := 0; i < count; i++ {
			var opts SendOpts
			if len(sent) > 0 && rapid.Bool().Draw(rt, "reply") {
				opts.ReplyTo = sent[rapid.IntRange(0, len(sent)-1).Draw(rt, "parent")]
			}
			id, err := bus.Send(ctx, "a", "b", models.MsgRequest, fmt.Sprintf("m%d", i), "", "", opts)
			if err != nil {
				rt.Fatalf("Send: %v", err)
			}
			if opts.ReplyTo != "" {
				root[id] = root[opts.ReplyTo]
			} else {
				root[id] = id
			}
			sent = append(sent, id)
		}

		for _, id := range sent {
			var want []string
			for _, other := range sent {
				if root[other] == root[id] {
					want = append(want, other)
				}
			}
			thread, err := bus.GetThread(id)
			if err != nil {
				rt.Fatalf("GetThread: %v", err)
			}
			if fmt.Sprint(ids(thread)) != fmt.Sprint(want) {
				rt.Fatalf("thread(%s) = %v, want %v", id, ids(thread), want)
			}
		}
	})
}

// --- Concurrency and failure modes ---

// Each goroutine opens its own handle, so the flock contention is the same
// as between separate processes.
func TestConcurrentSends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "message_bus.json")
	if _, err := Open(path, Options{}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	const n = 20

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bus, err := Open(path, Options{LockTimeout: 30 * time.Second})
			if err != nil {
				errs <- err
				return
			}
			_, err = bus.Send(context.Background(), fmt.Sprintf("agent-%d", i), "fda", models.MsgTask,
				fmt.Sprintf("subject %d", i), "body", models.PriorityMedium, SendOpts{})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent send: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("log is not well-formed: %v", err)
	}
	if len(doc.Messages) != n {
		t.Fatalf("log has %d messages, want %d", len(doc.Messages), n)
	}
	seen := map[string]bool{}
	for _, m := range doc.Messages {
		if m.ID == "" || m.From == "" || m.Subject == "" || m.ThreadID != m.ID || m.Timestamp.IsZero() {
			t.Errorf("malformed message: %+v", m)
		}
		if seen[m.ID] {
			t.Errorf("duplicate id %s", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestCorruptLog(t *testing.T) {
	bus := testBus(t)
	send(t, bus, "a", "fda", models.MsgTask, "before", SendOpts{})

	torn := []byte(`{"version":1,"messages":[{"id":"x","from":"a"`)
	if err := os.WriteFile(bus.Path(), torn, 0o644); err != nil {
		t.Fatalf("write torn log: %v", err)
	}

	if _, err := bus.GetPending("fda"); !errors.Is(err, fault.ErrCorruption) {
		t.Errorf("GetPending err = %v, want ErrCorruption", err)
	}
	_, err := bus.Send(context.Background(), "a", "fda", models.MsgTask, "after", "", "", SendOpts{})
	if !errors.Is(err, fault.ErrCorruption) {
		t.Errorf("Send err = %v, want ErrCorruption", err)
	}

	data, _ := os.ReadFile(bus.Path())
	if string(data) != string(torn) {
		t.Error("corrupt log was overwritten")
	}
}

func TestLockTimeout_Busy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "message_bus.json")
	bus, err := Open(path, Options{LockTimeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	unlock, err := acquireLock(context.Background(), path+".lock", time.Second)
	if err != nil {
		t.Fatalf("acquireLock: %v", err)
	}
	defer unlock()

	start := time.Now()
	_, err = bus.Send(context.Background(), "a", "fda", models.MsgTask, "blocked", "", "", SendOpts{})
	if !errors.Is(err, fault.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Send waited %s, want about the lock timeout", elapsed)
	}

	// Readers do not need the lock.
	if _, err := bus.GetPending("fda"); err != nil {
		t.Errorf("GetPending while locked: %v", err)
	}
}

func TestCleanup(t *testing.T) {
	bus := testBus(t)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	bus.now = func() time.Time { return now.Add(-40 * 24 * time.Hour) }
	send(t, bus, "a", "fda", models.MsgTask, "old", SendOpts{})
	bus.now = func() time.Time { return now }
	recent := send(t, bus, "a", "fda", models.MsgTask, "new", SendOpts{})

	removed, err := bus.Cleanup(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	all, _ := bus.AllForAgent("fda")
	if len(all) != 1 || all[0].ID != recent {
		t.Errorf("remaining = %v", ids(all))
	}
}

func TestCleanup_RejectsNonPositiveRetention(t *testing.T) {
	bus := testBus(t)
	send(t, bus, "a", "fda", models.MsgTask, "fresh", SendOpts{})

	for _, d := range []time.Duration{0, -24 * time.Hour} {
		if _, err := bus.Cleanup(context.Background(), d); err == nil {
			t.Errorf("Cleanup(%s) expected error", d)
		}
	}
	if pending, _ := bus.GetPending("fda"); len(pending) != 1 {
		t.Errorf("pending = %d, want the fresh message kept", len(pending))
	}
}

func TestAllForAgent(t *testing.T) {
	bus := testBus(t)
	send(t, bus, "fda", "executor", models.MsgTask, "out", SendOpts{})
	send(t, bus, "executor", "fda", models.MsgStatus, "in", SendOpts{})
	send(t, bus, "librarian", "executor", models.MsgStatus, "elsewhere", SendOpts{})

	all, err := bus.AllForAgent("fda")
	if err != nil {
		t.Fatalf("AllForAgent: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("AllForAgent = %d messages, want 2", len(all))
	}
}

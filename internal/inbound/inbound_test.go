package inbound

import (
	"context"
	"testing"

	"github.com/webrelay/webrelay/internal/store"
)

func seedEndpoint(t *testing.T, st *store.MemoryStore) *store.Endpoint {
	t.Helper()
	e := &store.Endpoint{
		ID:            "ep1",
		TenantID:      "t1",
		Name:          "Stripe Hooks",
		Slug:          "stripe-hooks",
		ForwardURLs:   []string{"https://u1.example.com", "https://u2.example.com"},
		UseQueue:      true,
		RetryAttempts: 3,
		Enabled:       true,
	}
	if err := st.CreateEndpoint(context.Background(), e); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}
	return e
}

func TestReceiveEventFansOutToForwardURLs(t *testing.T) {
	st := store.NewMemoryStore()
	st.PutTenant(&store.Tenant{ID: "t1", Tier: store.TierFree})
	seedEndpoint(t, st)

	d := New(st)
	event, err := d.ReceiveEvent(context.Background(), "stripe-hooks", Request{
		Method:   "POST",
		Body:     `{"x":1}`,
		SourceIP: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("ReceiveEvent: %v", err)
	}
	if len(event.TaskIDs) != 2 {
		t.Fatalf("expected 2 forward tasks, got %d", len(event.TaskIDs))
	}

	tasks, err := st.ListTasks(context.Background(), "t1")
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks persisted, got %d", len(tasks))
	}
	for _, task := range tasks {
		if task.Queue != "stripe-hooks" {
			t.Errorf("task queue = %q, want stripe-hooks", task.Queue)
		}
		if task.Body != `{"x":1}` {
			t.Errorf("task body = %q, want forwarded body", task.Body)
		}
		if task.Method != "POST" {
			t.Errorf("task method = %q, want POST", task.Method)
		}
	}

	execs, err := st.ListExecutions(context.Background(), "t1", tasks[0].ID, 10)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != store.ExecPending {
		t.Fatalf("expected 1 pending execution per forward task, got %+v", execs)
	}
}

func TestReceiveEventRejectsDisabledEndpoint(t *testing.T) {
	st := store.NewMemoryStore()
	st.PutTenant(&store.Tenant{ID: "t1", Tier: store.TierFree})
	e := seedEndpoint(t, st)
	e.Enabled = false
	st.UpdateEndpoint(context.Background(), "t1", e.ID, store.EndpointPatch{Enabled: boolPtr(false)})

	d := New(st)
	if _, err := d.ReceiveEvent(context.Background(), "stripe-hooks", Request{Method: "POST"}); err == nil {
		t.Fatal("expected error for disabled endpoint")
	}
}

func TestReplayRecreatesExecutionsForLiveTasks(t *testing.T) {
	st := store.NewMemoryStore()
	st.PutTenant(&store.Tenant{ID: "t1", Tier: store.TierFree})
	seedEndpoint(t, st)

	d := New(st)
	event, err := d.ReceiveEvent(context.Background(), "stripe-hooks", Request{Method: "POST", Body: "{}"})
	if err != nil {
		t.Fatalf("ReceiveEvent: %v", err)
	}

	execs, err := d.Replay(context.Background(), "t1", event.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("expected 2 replayed executions, got %d", len(execs))
	}
}

func TestReplayReturnsTaskDeletedWhenAllTasksGone(t *testing.T) {
	st := store.NewMemoryStore()
	st.PutTenant(&store.Tenant{ID: "t1", Tier: store.TierFree})
	seedEndpoint(t, st)

	d := New(st)
	event, err := d.ReceiveEvent(context.Background(), "stripe-hooks", Request{Method: "POST"})
	if err != nil {
		t.Fatalf("ReceiveEvent: %v", err)
	}
	for _, taskID := range event.TaskIDs {
		if err := st.SoftDeleteTask(context.Background(), "t1", taskID); err != nil {
			t.Fatalf("SoftDeleteTask: %v", err)
		}
	}

	if _, err := d.Replay(context.Background(), "t1", event.ID); err != ErrAllTasksDeleted {
		t.Fatalf("Replay error = %v, want ErrAllTasksDeleted", err)
	}
}

func boolPtr(b bool) *bool { return &b }

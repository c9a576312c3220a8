package engine

import (
	"context"
	"testing"
	"time"

	"github.com/webrelay/webrelay/internal/inbound"
	"github.com/webrelay/webrelay/internal/monitorcheck"
	"github.com/webrelay/webrelay/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	st.PutTenant(&store.Tenant{ID: "t1", Tier: store.TierFree})
	svc := New(st, inbound.New(st), monitorcheck.New(st, nil, time.Minute))
	return svc, st
}

func TestCreateTaskOnceRequiresScheduledAt(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreateTask(context.Background(), "t1", &store.Task{
		Name:         "ping",
		URL:          "https://example.com",
		ScheduleType: store.ScheduleOnce,
	})
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCreateTaskOnceSucceeds(t *testing.T) {
	svc, _ := newTestService(t)
	at := time.Now().Add(time.Hour)
	task, err := svc.CreateTask(context.Background(), "t1", &store.Task{
		Name:         "ping",
		URL:          "https://example.com",
		ScheduleType: store.ScheduleOnce,
		ScheduledAt:  &at,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.ID == "" || task.Method != "POST" || task.TimeoutMS != 30_000 {
		t.Errorf("unexpected defaults on created task: %+v", task)
	}
}

func TestCreateTaskRejectsPrivateDestinations(t *testing.T) {
	svc, _ := newTestService(t)
	at := time.Now().Add(time.Hour)
	for _, u := range []string{
		"http://127.0.0.1/hook",
		"http://10.0.0.8/hook",
		"http://192.168.1.1/hook",
		"http://localhost:8080/hook",
		"ftp://example.com/hook",
	} {
		_, err := svc.CreateTask(context.Background(), "t1", &store.Task{
			Name:         "bad-dest",
			URL:          u,
			ScheduleType: store.ScheduleOnce,
			ScheduledAt:  &at,
		})
		if _, ok := err.(*ValidationError); !ok {
			t.Errorf("url %q: expected ValidationError, got %v", u, err)
		}
	}
}

func TestCreateTaskRejectsPastScheduledAt(t *testing.T) {
	svc, _ := newTestService(t)
	at := time.Now().Add(-time.Hour)
	_, err := svc.CreateTask(context.Background(), "t1", &store.Task{
		Name:         "stale",
		URL:          "https://example.com",
		ScheduleType: store.ScheduleOnce,
		ScheduledAt:  &at,
	})
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCreateTaskRejectsSubHourlyCronOnFreeTier(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreateTask(context.Background(), "t1", &store.Task{
		Name:           "every-minute",
		URL:            "https://example.com",
		ScheduleType:   store.ScheduleCron,
		CronExpression: "* * * * *",
	})
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Field != "cron_expression" {
		t.Errorf("expected cron_expression field, got %q", ve.Field)
	}
}

func TestCreateTaskAllowsHourlyCronOnFreeTier(t *testing.T) {
	svc, _ := newTestService(t)
	task, err := svc.CreateTask(context.Background(), "t1", &store.Task{
		Name:           "hourly",
		URL:            "https://example.com",
		ScheduleType:   store.ScheduleCron,
		CronExpression: "0 * * * *",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.NextRunAt == nil {
		t.Error("expected next_run_at to be set")
	}
}

func TestCreateBatchRejectsOversizedBatch(t *testing.T) {
	svc, _ := newTestService(t)
	items := make([]BatchItem, maxBatchItems+1)
	_, err := svc.CreateBatch(context.Background(), "t1", &store.Task{
		Name: "batch", URL: "https://example.com", Queue: "q1",
	}, items, time.Now())
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCreateBatchCreatesOneTaskPerItem(t *testing.T) {
	svc, st := newTestService(t)
	items := []BatchItem{{URL: "https://a.example"}, {URL: "https://b.example"}}
	result, err := svc.CreateBatch(context.Background(), "t1", &store.Task{
		Name: "batch", URL: "https://fallback.example", Queue: "q1",
	}, items, time.Now())
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if result.Count != 2 {
		t.Errorf("expected count 2, got %d", result.Count)
	}
	tasks, err := st.ListTasks(context.Background(), "t1")
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Errorf("expected 2 tasks persisted, got %d", len(tasks))
	}
}

func TestCreateBatchRejectedAtMonthlyCap(t *testing.T) {
	svc, st := newTestService(t)
	st.PutTenant(&store.Tenant{ID: "t1", Tier: store.TierFree, MonthlyExecutionCount: 9_999})

	items := []BatchItem{{URL: "https://a.example"}, {URL: "https://b.example"}}
	_, err := svc.CreateBatch(context.Background(), "t1", &store.Task{
		Name: "batch", URL: "https://example.com", Queue: "q1",
	}, items, time.Now())
	if _, ok := err.(*LimitError); !ok {
		t.Fatalf("expected LimitError, got %v", err)
	}
	tasks, err := st.ListTasks(context.Background(), "t1")
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("expected no tasks created past the cap, got %d", len(tasks))
	}
}

func TestCreateMonitorAssignsPingToken(t *testing.T) {
	svc, _ := newTestService(t)
	m, err := svc.CreateMonitor(context.Background(), "t1", &store.Monitor{
		Name:            "nightly-backup",
		ScheduleType:    store.MonitorInterval,
		IntervalSeconds: 3600,
	})
	if err != nil {
		t.Fatalf("CreateMonitor: %v", err)
	}
	if m.PingToken == "" {
		t.Error("expected a ping token to be assigned")
	}
	if m.NextExpectedAt == nil {
		t.Error("expected next_expected_at to be set")
	}
}

func TestCreateEndpointRejectsTooManyForwardURLs(t *testing.T) {
	svc, _ := newTestService(t)
	urls := make([]string, 11)
	for i := range urls {
		urls[i] = "https://example.com"
	}
	_, err := svc.CreateEndpoint(context.Background(), "t1", &store.Endpoint{
		Name: "intake", ForwardURLs: urls,
	})
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCreateEndpointDerivesSlugFromName(t *testing.T) {
	svc, _ := newTestService(t)
	e, err := svc.CreateEndpoint(context.Background(), "t1", &store.Endpoint{
		Name:        "Stripe Webhooks!",
		ForwardURLs: []string{"https://example.com"},
	})
	if err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}
	if len(e.Slug) == 0 || e.Slug[:14] != "stripe-webhook" {
		t.Errorf("unexpected slug %q", e.Slug)
	}
}

func TestSyncCreatesUpdatesAndRemovesByName(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	at := time.Now().Add(time.Hour)
	existing, err := svc.CreateTask(ctx, "t1", &store.Task{
		Name: "keep-me", URL: "https://old.example", ScheduleType: store.ScheduleOnce, ScheduledAt: &at,
	})
	if err != nil {
		t.Fatalf("seed CreateTask: %v", err)
	}
	toRemove, err := svc.CreateTask(ctx, "t1", &store.Task{
		Name: "remove-me", URL: "https://gone.example", ScheduleType: store.ScheduleOnce, ScheduledAt: &at,
	})
	if err != nil {
		t.Fatalf("seed CreateTask: %v", err)
	}

	result, err := svc.Sync(ctx, "t1", SyncSpec{
		Tasks: []*store.Task{
			{Name: "keep-me", URL: "https://new.example"},
			{Name: "brand-new", URL: "https://fresh.example", ScheduleType: store.ScheduleOnce, ScheduledAt: &at},
		},
		DeleteRemoved: true,
	})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.TasksApplied != 2 || result.TasksRemoved != 1 {
		t.Errorf("unexpected sync result: %+v", result)
	}

	updated, err := st.GetTask(ctx, "t1", existing.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if updated.URL != "https://new.example" {
		t.Errorf("expected task url to be updated, got %q", updated.URL)
	}

	if _, err := st.GetTask(ctx, "t1", toRemove.ID); err != store.ErrNotFound {
		t.Errorf("expected removed task to be soft-deleted, got err=%v", err)
	}
}

package workerpool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/webrelay/webrelay/internal/counter"
	"github.com/webrelay/webrelay/internal/hostblocker"
	"github.com/webrelay/webrelay/internal/store"
)

type fakeCallbacks struct {
	calls int
}

func (f *fakeCallbacks) Enqueue(ctx context.Context, task *store.Task, exec *store.Execution, event string) {
	f.calls++
}

type fakeAlerts struct {
	failures   int
	recoveries int
}

func (f *fakeAlerts) EnqueueFailureAlert(tenantID string, task *store.Task, exec *store.Execution) {
	f.failures++
}

func (f *fakeAlerts) EnqueueRecoveryAlert(tenantID string, task *store.Task, exec *store.Execution) {
	f.recoveries++
}

func newTestPool(t *testing.T, st store.Store) (*Pool, *fakeCallbacks, *fakeAlerts) {
	t.Helper()
	cb := &fakeCallbacks{}
	al := &fakeAlerts{}
	p := New(st, hostblocker.New(hostblocker.DefaultConfig()), counter.New(st), cb, al, DefaultConfig())
	return p, cb, al
}

func seedTask(t *testing.T, st *store.MemoryStore, url string) (*store.Task, *store.Execution) {
	t.Helper()
	task := &store.Task{
		ID:             uuid.NewString(),
		TenantID:       "t1",
		URL:            url,
		Method:         http.MethodPost,
		ScheduleType:   store.ScheduleOnce,
		Enabled:        true,
		TimeoutMS:      1000,
		RetryAttempts:  2,
		CallbackURL:    "https://hooks.example.com/cb",
		AlertOnFailure: true,
	}
	if err := st.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	exec := &store.Execution{
		ID:           uuid.NewString(),
		TaskID:       task.ID,
		TenantID:     "t1",
		Status:       store.ExecPending,
		ScheduledFor: time.Now(),
		Attempt:      1,
		CallbackURL:  task.CallbackURL,
	}
	if err := st.CreateExecution(context.Background(), exec); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	return task, exec
}

func TestProcessSuccessIncrementsCounterAndEnqueuesCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := store.NewMemoryStore()
	st.PutTenant(&store.Tenant{ID: "t1", Tier: store.TierFree})
	task, exec := seedTask(t, st, srv.URL)

	p, cb, al := newTestPool(t, st)
	p.process(context.Background(), exec, task)

	got, err := st.ListExecutions(context.Background(), "t1", task.ID, 10)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(got) != 1 || got[0].Status != store.ExecSuccess {
		t.Fatalf("expected 1 success execution, got %+v", got)
	}

	tenant, _ := st.GetTenant(context.Background(), "t1")
	// counter is flushed via Counter.Flush, not Increment alone; confirm the
	// delta landed in the pending buffer for the right tenant.
	if p.counter.Pending("t1") != 1 {
		t.Errorf("expected pending counter delta 1, got %d", p.counter.Pending("t1"))
	}
	_ = tenant

	if cb.calls != 1 {
		t.Errorf("expected 1 callback enqueue, got %d", cb.calls)
	}
	if al.failures != 0 {
		t.Errorf("expected no failure alert on success, got %d", al.failures)
	}
}

func TestProcessTransientFailureCreatesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	st := store.NewMemoryStore()
	st.PutTenant(&store.Tenant{ID: "t1", Tier: store.TierFree})
	task, exec := seedTask(t, st, srv.URL)

	p, _, al := newTestPool(t, st)
	p.process(context.Background(), exec, task)

	got, err := st.ListExecutions(context.Background(), "t1", task.ID, 10)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected original + retry execution, got %d", len(got))
	}

	var sawFailed, sawPendingRetry bool
	for _, e := range got {
		if e.ID == exec.ID && e.Status == store.ExecFailed {
			sawFailed = true
		}
		if e.ID != exec.ID && e.Status == store.ExecPending && e.Attempt == 2 {
			sawPendingRetry = true
		}
	}
	if !sawFailed || !sawPendingRetry {
		t.Fatalf("expected failed original + pending attempt-2 retry, got %+v", got)
	}
	if al.failures != 0 {
		t.Errorf("alert should not fire until retries are exhausted, got %d", al.failures)
	}
	if p.counter.Pending("t1") != 1 {
		t.Errorf("first attempt's terminal transition should count the run once, got %d", p.counter.Pending("t1"))
	}
}

func TestProcessPermanentFailureNoRetryAndAlerts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	st := store.NewMemoryStore()
	st.PutTenant(&store.Tenant{ID: "t1", Tier: store.TierFree})
	task, exec := seedTask(t, st, srv.URL)

	p, _, al := newTestPool(t, st)
	p.process(context.Background(), exec, task)

	got, _ := st.ListExecutions(context.Background(), "t1", task.ID, 10)
	if len(got) != 1 {
		t.Fatalf("expected no retry for permanent failure, got %d executions", len(got))
	}
	if got[0].Status != store.ExecFailed {
		t.Errorf("expected failed status, got %s", got[0].Status)
	}
	if al.failures != 1 {
		t.Errorf("expected 1 failure alert, got %d", al.failures)
	}
}

func TestProcessSkipsDispatchWhenHostBlocked(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := store.NewMemoryStore()
	st.PutTenant(&store.Tenant{ID: "t1", Tier: store.TierFree})
	task, exec := seedTask(t, st, srv.URL)

	p, _, _ := newTestPool(t, st)
	p.blocker.Block("t1", hostblocker.Host(srv.URL), time.Minute)

	p.process(context.Background(), exec, task)

	if called {
		t.Fatal("dispatch should not hit a blocked host")
	}
	got, err := st.ListExecutions(context.Background(), "t1", task.ID, 10)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(got) != 1 || got[0].Status != store.ExecPending {
		t.Fatalf("expected execution rescheduled but still pending, got %+v", got)
	}
	if !got[0].ScheduledFor.After(time.Now()) {
		t.Errorf("expected rescheduled execution to be pushed into the future")
	}
}

func TestAssertionsHoldDefaultsTo2xx(t *testing.T) {
	task := &store.Task{}
	if !assertionsHold(200, "", task) {
		t.Error("expected 200 to pass with no explicit expectations")
	}
	if assertionsHold(404, "", task) {
		t.Error("expected 404 to fail with no explicit expectations")
	}
}

func TestAssertionsHoldExplicitStatusList(t *testing.T) {
	task := &store.Task{ExpectedStatusCodes: "201, 202"}
	if !assertionsHold(202, "", task) {
		t.Error("expected 202 to satisfy explicit list")
	}
	if assertionsHold(200, "", task) {
		t.Error("expected 200 to fail when not in explicit list")
	}
}

func TestAssertionsHoldBodyPattern(t *testing.T) {
	task := &store.Task{ExpectedBodyPattern: "\"ok\":true"}
	if !assertionsHold(200, `{"ok":true}`, task) {
		t.Error("expected body containing pattern to pass")
	}
	if assertionsHold(200, `{"ok":false}`, task) {
		t.Error("expected body missing pattern to fail")
	}
}

func TestClassifyTransientStatuses(t *testing.T) {
	task := &store.Task{}
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if got := classify(code, "", task); got != OutcomeTransientFailure {
			t.Errorf("status %d: got outcome %v, want transient", code, got)
		}
	}
	if got := classify(404, "", task); got != OutcomePermanentFailure {
		t.Errorf("status 404: got outcome %v, want permanent", got)
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	d, ok := parseRetryAfter("120")
	if !ok || d != 120*time.Second {
		t.Errorf("parseRetryAfter(120) = %v, %v", d, ok)
	}
	if _, ok := parseRetryAfter(""); ok {
		t.Error("expected no Retry-After for empty header")
	}
}

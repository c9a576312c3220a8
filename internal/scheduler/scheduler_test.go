package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/webrelay/webrelay/internal/store"
)

func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore()
	st.PutTenant(&store.Tenant{ID: "t1", Tier: store.TierFree})
	return st
}

func TestMaterializeOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	scheduledAt := now.Add(-time.Second)

	task := &store.Task{
		ID:           uuid.NewString(),
		TenantID:     "t1",
		ScheduleType: store.ScheduleOnce,
		ScheduledAt:  &scheduledAt,
		Enabled:      true,
		NextRunAt:    &scheduledAt,
		InsertedAt:   now.Add(-time.Hour),
	}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	s := New(st, DefaultConfig(), nil)
	if err := s.Tick(ctx, now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	execs, err := st.ListExecutions(ctx, "t1", task.ID, 10)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(execs))
	}
	if execs[0].Status != store.ExecPending {
		t.Errorf("expected pending, got %s", execs[0].Status)
	}

	got, err := st.GetTask(ctx, "t1", task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.NextRunAt != nil {
		t.Errorf("expected next_run_at cleared after once-task fires")
	}
}

func TestTickIsIdempotentWithNoTimeAdvance(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	scheduledAt := now.Add(-time.Second)

	task := &store.Task{
		ID:           uuid.NewString(),
		TenantID:     "t1",
		ScheduleType: store.ScheduleOnce,
		ScheduledAt:  &scheduledAt,
		Enabled:      true,
		NextRunAt:    &scheduledAt,
		InsertedAt:   now.Add(-time.Hour),
	}
	st.CreateTask(ctx, task)

	s := New(st, DefaultConfig(), nil)
	s.Tick(ctx, now)
	s.Tick(ctx, now)

	execs, _ := st.ListExecutions(ctx, "t1", task.ID, 10)
	if len(execs) != 1 {
		t.Fatalf("expected exactly 1 execution after two ticks, got %d", len(execs))
	}
}

func TestMaterializeCronMissedPastGrace(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	// Pin now 45s past a minute boundary so no match of "* * * * *" falls
	// inside the 30s grace window or the 10s lookahead.
	now := time.Now().Truncate(time.Minute).Add(45 * time.Second)
	nextRun := now.Add(-3 * time.Minute)

	task := &store.Task{
		ID:             uuid.NewString(),
		TenantID:       "t1",
		ScheduleType:   store.ScheduleCron,
		CronExpression: "* * * * *",
		Enabled:        true,
		NextRunAt:      &nextRun,
		InsertedAt:     now.Add(-5 * time.Minute),
	}
	st.CreateTask(ctx, task)

	s := New(st, DefaultConfig(), nil)
	if err := s.Tick(ctx, now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	execs, err := st.ListExecutions(ctx, "t1", task.ID, 10)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	for _, e := range execs {
		if e.Status != store.ExecMissed {
			t.Errorf("expected missed execution, got %s for scheduled_for=%v", e.Status, e.ScheduledFor)
		}
	}
	if len(execs) == 0 {
		t.Fatal("expected at least one missed execution")
	}
}

func TestMonthlyCapBlocksMaterialization(t *testing.T) {
	st := store.NewMemoryStore()
	st.PutTenant(&store.Tenant{ID: "t1", Tier: store.TierFree, MonthlyExecutionCount: 10_000})
	ctx := context.Background()
	now := time.Now()
	scheduledAt := now.Add(-time.Second)

	task := &store.Task{
		ID:           uuid.NewString(),
		TenantID:     "t1",
		ScheduleType: store.ScheduleOnce,
		ScheduledAt:  &scheduledAt,
		Enabled:      true,
		NextRunAt:    &scheduledAt,
		InsertedAt:   now.Add(-time.Hour),
	}
	st.CreateTask(ctx, task)

	s := New(st, DefaultConfig(), nil)
	if err := s.Tick(ctx, now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	execs, _ := st.ListExecutions(ctx, "t1", task.ID, 10)
	if len(execs) != 0 {
		t.Fatalf("expected no executions when over monthly cap, got %d", len(execs))
	}
}

package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/webrelay/webrelay/internal/store"
)

func TestRunPurgesTerminalExecutionsPastTierRetention(t *testing.T) {
	st := store.NewMemoryStore()
	st.PutTenant(&store.Tenant{ID: "free1", Tier: store.TierFree})
	now := time.Now()

	finished := now.AddDate(0, 0, -10)
	old := &store.Execution{
		ID:           uuid.NewString(),
		TaskID:       uuid.NewString(),
		TenantID:     "free1",
		Status:       store.ExecPending,
		ScheduledFor: finished,
		Attempt:      1,
	}
	if err := st.CreateExecution(context.Background(), old); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	if err := st.UpdateExecutionTerminal(context.Background(), old.ID, store.ExecutionTerminalPatch{
		Status: store.ExecSuccess, FinishedAt: finished,
	}); err != nil {
		t.Fatalf("UpdateExecutionTerminal: %v", err)
	}

	recent := &store.Execution{
		ID:           uuid.NewString(),
		TaskID:       uuid.NewString(),
		TenantID:     "free1",
		Status:       store.ExecSuccess,
		ScheduledFor: now,
		Attempt:      1,
	}
	if err := st.CreateExecution(context.Background(), recent); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	c := New(st, DefaultConfig())
	c.Run(context.Background(), now)

	gotOld, err := st.ListExecutions(context.Background(), "free1", old.TaskID, 10)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(gotOld) != 0 {
		t.Errorf("expected execution past free-tier retention to be purged, got %d", len(gotOld))
	}
	got, err := st.ListExecutions(context.Background(), "free1", recent.TaskID, 10)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected recent execution to survive, got %d", len(got))
	}
}

func TestRunPurgesSoftDeletedTasksPastGrace(t *testing.T) {
	st := store.NewMemoryStore()
	st.PutTenant(&store.Tenant{ID: "t1", Tier: store.TierFree})

	task := &store.Task{
		ID:           uuid.NewString(),
		TenantID:     "t1",
		ScheduleType: store.ScheduleOnce,
		Enabled:      true,
		InsertedAt:   time.Now().AddDate(0, 0, -40),
	}
	if err := st.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := st.SoftDeleteTask(context.Background(), "t1", task.ID); err != nil {
		t.Fatalf("SoftDeleteTask: %v", err)
	}

	c := New(st, DefaultConfig())
	c.Run(context.Background(), time.Now().AddDate(0, 0, 31))

	if _, err := st.GetTask(context.Background(), "t1", task.ID); err != store.ErrNotFound {
		t.Fatalf("GetTask after purge: err = %v, want ErrNotFound", err)
	}
}

func TestRunSkipsRecentlySoftDeletedTasks(t *testing.T) {
	st := store.NewMemoryStore()
	st.PutTenant(&store.Tenant{ID: "t1", Tier: store.TierFree})

	task := &store.Task{
		ID:           uuid.NewString(),
		TenantID:     "t1",
		ScheduleType: store.ScheduleOnce,
		Enabled:      true,
	}
	if err := st.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := st.SoftDeleteTask(context.Background(), "t1", task.ID); err != nil {
		t.Fatalf("SoftDeleteTask: %v", err)
	}

	c := New(st, DefaultConfig())
	c.Run(context.Background(), time.Now())

	cutoff := time.Now().AddDate(0, 0, -DefaultConfig().SoftDeleteGraceDays)
	n, err := st.PurgeSoftDeletedTasks(context.Background(), cutoff, 500)
	if err != nil {
		t.Fatalf("PurgeSoftDeletedTasks: %v", err)
	}
	if n != 0 {
		t.Errorf("expected recently soft-deleted task to survive the grace window, purged %d", n)
	}
}

func TestRunResetsMonthlyCountersOnMonthRollover(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now()
	st.PutTenant(&store.Tenant{
		ID: "t1", Tier: store.TierFree,
		MonthlyExecutionCount:   42,
		MonthlyExecutionResetAt: now.AddDate(0, 0, -40),
	})

	c := New(st, DefaultConfig())
	c.Run(context.Background(), now)

	tenant, err := st.GetTenant(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetTenant: %v", err)
	}
	if tenant.MonthlyExecutionCount != 0 {
		t.Errorf("expected counter reset to 0, got %d", tenant.MonthlyExecutionCount)
	}
}

func TestRunLeavesCountersAloneWithinCurrentMonth(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now()
	st.PutTenant(&store.Tenant{
		ID: "t1", Tier: store.TierFree,
		MonthlyExecutionCount:   7,
		MonthlyExecutionResetAt: now,
	})

	c := New(st, DefaultConfig())
	c.Run(context.Background(), now)

	tenant, err := st.GetTenant(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetTenant: %v", err)
	}
	if tenant.MonthlyExecutionCount != 7 {
		t.Errorf("expected counter untouched within the month, got %d", tenant.MonthlyExecutionCount)
	}
}

// Package scheduler materializes due tasks into pending (or missed)
// executions on a fixed tick, gated by a leader lease when replicated.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/webrelay/webrelay/internal/cron"
	"github.com/webrelay/webrelay/internal/observability"
	"github.com/webrelay/webrelay/internal/store"
)

// Config tunes the scheduler tick.
type Config struct {
	TickInterval   time.Duration
	Lookahead      time.Duration
	DefaultGrace   time.Duration
	MonthlyCapFree int64
	MonthlyCapPro  int64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:   time.Second,
		Lookahead:      10 * time.Second,
		DefaultGrace:   30 * time.Second,
		MonthlyCapFree: 10_000,
		MonthlyCapPro:  0, // 0 means uncapped
	}
}

// Decision is a structured log line describing one scheduling action.
type Decision struct {
	Component string `json:"component"`
	Action    string `json:"action"`
	TaskID    string `json:"task_id,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func logDecision(d Decision) {
	d.Component = "scheduler"
	b, _ := json.Marshal(d)
	log.Println(string(b))
}

// Scheduler owns the materialization tick.
type Scheduler struct {
	st     store.Store
	config Config

	// notify is called once per tick that materializes at least one
	// execution, giving the worker pool controller a wakeup signal
	// instead of relying solely on its own poll interval.
	notify func()
}

// New returns a Scheduler backed by st.
func New(st store.Store, config Config, notify func()) *Scheduler {
	if notify == nil {
		notify = func() {}
	}
	return &Scheduler{st: st, config: config, notify: notify}
}

// Run ticks until ctx is cancelled. isLeader is polled each tick so the
// scheduler stays dormant on non-leader replicas.
func (s *Scheduler) Run(ctx context.Context, isLeader func() bool) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !isLeader() {
				continue
			}
			if err := s.Tick(ctx, time.Now()); err != nil {
				log.Printf("scheduler: tick error: %v", err)
			}
		}
	}
}

// Tick materializes every due task's next executions.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	start := time.Now()
	defer func() { observability.SchedulerTickDuration.Observe(time.Since(start).Seconds()) }()

	tasks, err := s.st.ListDueTasks(ctx, now, s.config.Lookahead)
	if err != nil {
		return fmt.Errorf("scheduler: list due tasks: %w", err)
	}

	materialized := false
	for _, t := range tasks {
		created, err := s.materialize(ctx, t, now)
		if err != nil {
			log.Printf("scheduler: materialize task=%s: %v", t.ID, err)
			continue
		}
		if created {
			materialized = true
		}
	}
	if materialized {
		s.notify()
	}
	return nil
}

func (s *Scheduler) materialize(ctx context.Context, t *store.Task, now time.Time) (bool, error) {
	if t.Queue != "" {
		paused, err := s.st.IsQueuePaused(ctx, t.TenantID, t.Queue)
		if err != nil {
			return false, err
		}
		if paused {
			return false, nil
		}
	}
	switch t.ScheduleType {
	case store.ScheduleOnce:
		return s.materializeOnce(ctx, t, now)
	case store.ScheduleCron:
		return s.materializeCron(ctx, t, now)
	default:
		return false, fmt.Errorf("unknown schedule type %q", t.ScheduleType)
	}
}

func (s *Scheduler) materializeOnce(ctx context.Context, t *store.Task, now time.Time) (bool, error) {
	if t.ScheduledAt == nil {
		return false, fmt.Errorf("once-scheduled task %s has no scheduled_at", t.ID)
	}
	underCap, err := s.underMonthlyCap(ctx, t.TenantID)
	if err != nil {
		return false, err
	}
	created := false
	if underCap {
		if err := s.createExecutionIfAbsent(ctx, t, *t.ScheduledAt, now); err != nil {
			return false, err
		}
		created = true
	}
	if err := s.st.AdvanceNextRun(ctx, t.ID, nil, t.Version); err != nil && err != store.ErrVersionConflict {
		return created, err
	}
	return created, nil
}

func (s *Scheduler) materializeCron(ctx context.Context, t *store.Task, now time.Time) (bool, error) {
	if t.NextRunAt == nil {
		return false, nil
	}
	cutoff := now.Add(s.config.Lookahead)
	grace := s.config.DefaultGrace
	if t.IntervalMinutes > 0 {
		half := time.Duration(t.IntervalMinutes*60/2) * time.Second
		if half > grace {
			grace = half
		}
	}

	created := false
	lastMatch := *t.NextRunAt
	match := lastMatch
	for !match.After(cutoff) {
		if match.Before(t.InsertedAt) {
			next, err := cron.NextAfter(t.CronExpression, match)
			if err != nil {
				return created, err
			}
			match = next
			continue
		}

		underCap, err := s.underMonthlyCap(ctx, t.TenantID)
		if err != nil {
			return created, err
		}
		if underCap {
			if now.Sub(match) > grace {
				if err := s.createMissed(ctx, t, match, now); err != nil {
					return created, err
				}
			} else {
				if err := s.createExecutionIfAbsent(ctx, t, match, now); err != nil {
					return created, err
				}
			}
			created = true
		}
		lastMatch = match

		next, err := cron.NextAfter(t.CronExpression, match)
		if err != nil {
			return created, err
		}
		match = next
	}

	nextRun, err := cron.NextAfter(t.CronExpression, lastMatch)
	if err != nil {
		return created, err
	}
	if nextRun.Equal(*t.NextRunAt) {
		return created, nil
	}
	if err := s.st.AdvanceNextRun(ctx, t.ID, &nextRun, t.Version); err != nil && err != store.ErrVersionConflict {
		return created, err
	}
	return created, nil
}

func (s *Scheduler) underMonthlyCap(ctx context.Context, tenantID string) (bool, error) {
	tenant, err := s.st.GetTenant(ctx, tenantID)
	if err != nil {
		return false, err
	}
	var monthlyCap int64
	switch tenant.Tier {
	case store.TierFree:
		monthlyCap = s.config.MonthlyCapFree
	default:
		monthlyCap = s.config.MonthlyCapPro
	}
	if monthlyCap <= 0 {
		return true, nil
	}
	return tenant.MonthlyExecutionCount < monthlyCap, nil
}

func (s *Scheduler) createExecutionIfAbsent(ctx context.Context, t *store.Task, scheduledFor, now time.Time) error {
	exec := &store.Execution{
		ID:           uuid.NewString(),
		TaskID:       t.ID,
		TenantID:     t.TenantID,
		Status:       store.ExecPending,
		ScheduledFor: scheduledFor,
		Attempt:      1,
		CallbackURL:  t.CallbackURL,
	}
	if err := s.st.CreateExecution(ctx, exec); err != nil {
		return err
	}
	observability.SchedulerMaterializations.WithLabelValues("pending").Inc()
	logDecision(Decision{Action: "materialize_pending", TaskID: t.ID, TenantID: t.TenantID})
	return nil
}

func (s *Scheduler) createMissed(ctx context.Context, t *store.Task, scheduledFor, now time.Time) error {
	exec := &store.Execution{
		ID:           uuid.NewString(),
		TaskID:       t.ID,
		TenantID:     t.TenantID,
		Status:       store.ExecMissed,
		ScheduledFor: scheduledFor,
		Attempt:      1,
	}
	if err := s.st.CreateExecution(ctx, exec); err != nil {
		return err
	}
	finished := now
	if err := s.st.UpdateExecutionTerminal(ctx, exec.ID, store.ExecutionTerminalPatch{
		Status:     store.ExecMissed,
		FinishedAt: finished,
	}); err != nil {
		return err
	}
	observability.SchedulerMaterializations.WithLabelValues("missed").Inc()
	logDecision(Decision{Action: "materialize_missed", TaskID: t.ID, TenantID: t.TenantID, Reason: "past grace window"})
	return nil
}

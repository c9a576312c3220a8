package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that find no row, including cross-tenant
// lookups; callers never distinguish "forbidden" from "not found".
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned by optimistic-locked updates when the
// expected version no longer matches the stored row.
var ErrVersionConflict = errors.New("version conflict")

// ErrNoWork is returned by ClaimNextExecution when no claimable execution
// exists. Distinguished from error so callers can treat it as idle, not fail.
var ErrNoWork = errors.New("no work")

// Store defines the transactional substrate every other component operates
// through. It abstracts over the concrete PostgreSQL-backed implementation
// and the in-memory test double.
type Store interface {
	// Task operations
	CreateTask(ctx context.Context, task *Task) error
	UpdateTask(ctx context.Context, tenantID, taskID string, patch TaskPatch, expectedVersion int) error
	SoftDeleteTask(ctx context.Context, tenantID, taskID string) error
	ToggleTask(ctx context.Context, tenantID, taskID string, enabled bool) error
	GetTask(ctx context.Context, tenantID, taskID string) (*Task, error)
	ListTasks(ctx context.Context, tenantID string) ([]*Task, error)
	ListDueTasks(ctx context.Context, now time.Time, lookahead time.Duration) ([]*Task, error)
	AdvanceNextRun(ctx context.Context, taskID string, nextRunAt *time.Time, expectedVersion int) error
	SoftDeleteTasksByQueue(ctx context.Context, tenantID, queue string) (int, error)
	PurgeSoftDeletedTasks(ctx context.Context, olderThan time.Time, batch int) (int, error)

	// Execution operations
	CreateExecution(ctx context.Context, exec *Execution) error
	ClaimNextExecution(ctx context.Context) (*Execution, *Task, error)
	UpdateExecutionTerminal(ctx context.Context, execID string, patch ExecutionTerminalPatch) error
	RescheduleExecution(ctx context.Context, execID string, scheduledFor time.Time) error
	ListExecutions(ctx context.Context, tenantID, taskID string, limit int) ([]*Execution, error)
	CountPendingExecutions(ctx context.Context) (int, error)
	CancelByQueue(ctx context.Context, tenantID, queue string) (int, error)
	SweepOrphanedRunning(ctx context.Context, olderThan time.Time) (int, error)
	PurgeTerminalExecutions(ctx context.Context, tenantID string, olderThan time.Time, batch int) (int, error)

	// Usage counter operations
	BumpMonthlyCounter(ctx context.Context, tenantID string, delta int64) error
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)
	ListTenants(ctx context.Context) ([]*Tenant, error)
	ResetMonthlyCounters(ctx context.Context, now time.Time) (int, error)

	// Monitor operations
	CreateMonitor(ctx context.Context, m *Monitor) error
	UpdateMonitor(ctx context.Context, tenantID, monitorID string, patch MonitorPatch) error
	DeleteMonitor(ctx context.Context, tenantID, monitorID string) error
	ToggleMonitor(ctx context.Context, tenantID, monitorID string, enabled bool) error
	GetMonitorByToken(ctx context.Context, token string) (*Monitor, error)
	ListMonitors(ctx context.Context, tenantID string) ([]*Monitor, error)
	ListOverdueMonitors(ctx context.Context, now time.Time) ([]*Monitor, error)
	RecordPing(ctx context.Context, monitorID string, pingAt, nextExpectedAt time.Time, status MonitorStatus) error
	TransitionMonitorStatus(ctx context.Context, monitorID string, status MonitorStatus) error

	// Endpoint + inbound event operations
	CreateEndpoint(ctx context.Context, e *Endpoint) error
	UpdateEndpoint(ctx context.Context, tenantID, endpointID string, patch EndpointPatch) error
	DeleteEndpoint(ctx context.Context, tenantID, endpointID string) error
	GetEndpointBySlug(ctx context.Context, slug string) (*Endpoint, error)
	ListEndpoints(ctx context.Context, tenantID string) ([]*Endpoint, error)
	CreateInboundEvent(ctx context.Context, e *InboundEvent) error
	GetInboundEvent(ctx context.Context, tenantID, eventID string) (*InboundEvent, error)
	RecordEventTaskIDs(ctx context.Context, eventID string, taskIDs []string) error
	PurgeInboundEvents(ctx context.Context, tenantID string, olderThan time.Time, batch int) (int, error)

	// Queue operations
	PauseQueue(ctx context.Context, tenantID, queue string) error
	ResumeQueue(ctx context.Context, tenantID, queue string) error
	IsQueuePaused(ctx context.Context, tenantID, queue string) (bool, error)

	// Coordination support (durable, crash-safe fencing epoch)
	IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error)
	GetDurableEpoch(ctx context.Context, resourceID string) (int64, error)
}

// TaskPatch carries optional fields for UpdateTask; nil fields are unchanged.
type TaskPatch struct {
	Name                *string
	URL                 *string
	Method              *string
	Headers             Headers
	Body                *string
	CronExpression      *string
	ScheduledAt         *time.Time
	Queue               *string
	TimeoutMS           *int
	RetryAttempts       *int
	ExpectedStatusCodes *string
	ExpectedBodyPattern *string
	CallbackURL         *string
	AlertOnFailure      *bool
	AlertOnRecovery     *bool
	Muted               *bool
}

// ExecutionTerminalPatch carries the fields a worker writes on completion.
type ExecutionTerminalPatch struct {
	Status       ExecutionStatus
	FinishedAt   time.Time
	StatusCode   int
	DurationMS   int64
	ResponseBody string
	ErrorMessage string
}

// MonitorPatch carries optional fields for UpdateMonitor.
type MonitorPatch struct {
	Name               *string
	IntervalSeconds    *int
	CronExpression     *string
	GracePeriodSeconds *int
	Muted              *bool
}

// EndpointPatch carries optional fields for UpdateEndpoint.
type EndpointPatch struct {
	Name          *string
	ForwardURLs   []string
	UseQueue      *bool
	RetryAttempts *int
	OnFailureURL  *string
	OnRecoveryURL *string
	Enabled       *bool
}

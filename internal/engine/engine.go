// Package engine is the command surface a transport layer (HTTP, CLI,
// whatever calls it) drives: it decodes input into the store's own
// struct types, fills defaults, checks required fields, then calls into
// the Store, delegating to the inbound dispatcher and monitor checker
// where those already own the logic.
package engine

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/webrelay/webrelay/internal/cron"
	"github.com/webrelay/webrelay/internal/inbound"
	"github.com/webrelay/webrelay/internal/monitorcheck"
	"github.com/webrelay/webrelay/internal/store"
)

const (
	maxBatchItems         = 1000
	defaultMonthlyCapFree = 10_000
)

// Service is the command surface backing the transport layer.
type Service struct {
	st       store.Store
	inbound  *inbound.Dispatcher
	monitors *monitorcheck.Checker

	// MonthlyCapFree is the free-tier monthly execution cap enforced on
	// batch creation. Zero disables the check.
	MonthlyCapFree int64
}

// New returns a Service wired to its collaborators.
func New(st store.Store, inboundDispatcher *inbound.Dispatcher, monitorChecker *monitorcheck.Checker) *Service {
	return &Service{
		st:             st,
		inbound:        inboundDispatcher,
		monitors:       monitorChecker,
		MonthlyCapFree: defaultMonthlyCapFree,
	}
}

// -- Tasks --

// CreateTask validates required fields, assigns server-owned fields, and
// persists task. tenantID always wins over any tenant_id already set on
// the struct.
func (s *Service) CreateTask(ctx context.Context, tenantID string, task *store.Task) (*store.Task, error) {
	task.TenantID = tenantID
	if task.Name == "" {
		return nil, validationErr("name", "required")
	}
	if task.URL == "" {
		return nil, validationErr("url", "required")
	}
	if err := validateDestinationURL(task.URL); err != nil {
		return nil, err
	}
	if task.Method == "" {
		task.Method = "POST"
	}
	if task.TimeoutMS <= 0 {
		task.TimeoutMS = 30_000
	}

	switch task.ScheduleType {
	case store.ScheduleOnce:
		if task.ScheduledAt == nil {
			return nil, validationErr("scheduled_at", "required for a once-scheduled task")
		}
		if task.ScheduledAt.Before(time.Now().Add(-5 * time.Second)) {
			return nil, validationErr("scheduled_at", "must be in the future")
		}
		task.NextRunAt = task.ScheduledAt
	case store.ScheduleCron:
		if task.CronExpression == "" {
			return nil, validationErr("cron_expression", "required for a cron-scheduled task")
		}
		tenant, err := s.st.GetTenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		estimate, err := cron.EstimateIntervalMinutes(task.CronExpression, time.Now())
		if err != nil {
			return nil, validationErr("cron_expression", err.Error())
		}
		if tenant.Tier == store.TierFree && estimate < 60 {
			return nil, validationErr("cron_expression", "sub-hourly schedules require the pro tier")
		}
		task.IntervalMinutes = estimate
		next, err := cron.NextAfter(task.CronExpression, time.Now())
		if err != nil {
			return nil, validationErr("cron_expression", err.Error())
		}
		task.NextRunAt = &next
	default:
		return nil, validationErr("schedule_type", "must be \"once\" or \"cron\"")
	}

	task.ID = uuid.NewString()
	task.Enabled = true
	task.InsertedAt = time.Now()
	if err := s.st.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// validateDestinationURL enforces http/https and rejects destinations
// that point into private or loopback address space.
func validateDestinationURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return validationErr("url", "not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return validationErr("url", "scheme must be http or https")
	}
	host := u.Hostname()
	if host == "" {
		return validationErr("url", "missing host")
	}
	if host == "localhost" {
		return validationErr("url", "destination must not be a private address")
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return validationErr("url", "destination must not be a private address")
		}
	}
	return nil
}

// UpdateTask applies patch to task, enforcing the same free-tier cron
// cadence floor on a changed cron_expression.
func (s *Service) UpdateTask(ctx context.Context, tenantID, taskID string, patch store.TaskPatch, expectedVersion int) error {
	if patch.URL != nil {
		if err := validateDestinationURL(*patch.URL); err != nil {
			return err
		}
	}
	if patch.CronExpression != nil {
		tenant, err := s.st.GetTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		estimate, err := cron.EstimateIntervalMinutes(*patch.CronExpression, time.Now())
		if err != nil {
			return validationErr("cron_expression", err.Error())
		}
		if tenant.Tier == store.TierFree && estimate < 60 {
			return validationErr("cron_expression", "sub-hourly schedules require the pro tier")
		}
	}
	return s.st.UpdateTask(ctx, tenantID, taskID, patch, expectedVersion)
}

// SoftDeleteTask marks task deleted; the cleanup job purges it (and its
// executions) after the retention grace period.
func (s *Service) SoftDeleteTask(ctx context.Context, tenantID, taskID string) error {
	return s.st.SoftDeleteTask(ctx, tenantID, taskID)
}

// ToggleTask flips a task's enabled flag without touching its schedule.
func (s *Service) ToggleTask(ctx context.Context, tenantID, taskID string, enabled bool) error {
	return s.st.ToggleTask(ctx, tenantID, taskID, enabled)
}

// TriggerTask creates an immediate ad hoc execution for task, independent
// of its configured schedule.
func (s *Service) TriggerTask(ctx context.Context, tenantID, taskID string, at time.Time) (*store.Execution, error) {
	task, err := s.st.GetTask(ctx, tenantID, taskID)
	if err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = time.Now()
	}
	exec := &store.Execution{
		ID:           uuid.NewString(),
		TaskID:       task.ID,
		TenantID:     tenantID,
		Status:       store.ExecPending,
		ScheduledFor: at,
		Attempt:      1,
		CallbackURL:  task.CallbackURL,
	}
	if err := s.st.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// BatchResult summarizes a CreateBatch call.
type BatchResult struct {
	Queue        string    `json:"queue"`
	Count        int       `json:"count"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// BatchItem overrides the shared spec's URL/body per item; any zero value
// falls back to the shared spec.
type BatchItem struct {
	URL  string
	Body string
}

// CreateBatch creates up to maxBatchItems tasks sharing a spec and queue,
// each scheduled once at scheduledFor.
func (s *Service) CreateBatch(ctx context.Context, tenantID string, shared *store.Task, items []BatchItem, scheduledFor time.Time) (*BatchResult, error) {
	if len(items) == 0 {
		return nil, validationErr("items", "must contain at least one item")
	}
	if len(items) > maxBatchItems {
		return nil, validationErr("items", fmt.Sprintf("must not exceed %d items", maxBatchItems))
	}
	if shared.Queue == "" {
		return nil, validationErr("queue", "required for a batch")
	}
	if scheduledFor.IsZero() {
		scheduledFor = time.Now()
	}

	tenant, err := s.st.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant.Tier == store.TierFree && s.MonthlyCapFree > 0 &&
		tenant.MonthlyExecutionCount+int64(len(items)) > s.MonthlyCapFree {
		return nil, &LimitError{Limit: "monthly executions"}
	}

	for _, item := range items {
		task := *shared
		if item.URL != "" {
			task.URL = item.URL
		}
		if item.Body != "" {
			task.Body = item.Body
		}
		task.ScheduleType = store.ScheduleOnce
		task.ScheduledAt = &scheduledFor
		if _, err := s.CreateTask(ctx, tenantID, &task); err != nil {
			return nil, err
		}
	}

	return &BatchResult{Queue: shared.Queue, Count: len(items), ScheduledFor: scheduledFor}, nil
}

// CancelByQueue cancels every pending execution queued under queue and
// soft-deletes the tasks that fed it, returning the number of executions
// cancelled.
func (s *Service) CancelByQueue(ctx context.Context, tenantID, queue string) (int, error) {
	cancelled, err := s.st.CancelByQueue(ctx, tenantID, queue)
	if err != nil {
		return 0, err
	}
	if _, err := s.st.SoftDeleteTasksByQueue(ctx, tenantID, queue); err != nil {
		return cancelled, err
	}
	return cancelled, nil
}

// PauseQueue stops the scheduler from materializing new executions for
// queue; already-pending executions still dispatch.
func (s *Service) PauseQueue(ctx context.Context, tenantID, queue string) error {
	return s.st.PauseQueue(ctx, tenantID, queue)
}

// ResumeQueue clears a prior PauseQueue.
func (s *Service) ResumeQueue(ctx context.Context, tenantID, queue string) error {
	return s.st.ResumeQueue(ctx, tenantID, queue)
}

// -- Monitors --

// CreateMonitor validates required fields and assigns a fresh ping token.
func (s *Service) CreateMonitor(ctx context.Context, tenantID string, m *store.Monitor) (*store.Monitor, error) {
	m.TenantID = tenantID
	if m.Name == "" {
		return nil, validationErr("name", "required")
	}
	switch m.ScheduleType {
	case store.MonitorInterval:
		if m.IntervalSeconds <= 0 {
			return nil, validationErr("interval_seconds", "required for an interval monitor")
		}
	case store.MonitorCron:
		if m.CronExpression == "" {
			return nil, validationErr("cron_expression", "required for a cron monitor")
		}
		if _, err := cron.Parse(m.CronExpression); err != nil {
			return nil, validationErr("cron_expression", err.Error())
		}
	default:
		return nil, validationErr("schedule_type", "must be \"interval\" or \"cron\"")
	}
	if m.GracePeriodSeconds <= 0 {
		m.GracePeriodSeconds = 60
	}

	m.ID = uuid.NewString()
	m.PingToken = uuid.NewString()
	m.Status = store.MonitorNew
	m.Enabled = true
	next, err := monitorcheck.NextExpected(m, time.Now())
	if err != nil {
		return nil, err
	}
	m.NextExpectedAt = &next

	if err := s.st.CreateMonitor(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateMonitor applies patch to monitor.
func (s *Service) UpdateMonitor(ctx context.Context, tenantID, monitorID string, patch store.MonitorPatch) error {
	return s.st.UpdateMonitor(ctx, tenantID, monitorID, patch)
}

// DeleteMonitor removes a monitor permanently; monitors have no soft-delete
// grace period since they carry no execution history to preserve.
func (s *Service) DeleteMonitor(ctx context.Context, tenantID, monitorID string) error {
	return s.st.DeleteMonitor(ctx, tenantID, monitorID)
}

// ToggleMonitor flips a monitor's enabled flag.
func (s *Service) ToggleMonitor(ctx context.Context, tenantID, monitorID string, enabled bool) error {
	return s.st.ToggleMonitor(ctx, tenantID, monitorID, enabled)
}

// RecordPing delegates to the monitor checker, which owns the
// ping-resolution and next-expected-at computation.
func (s *Service) RecordPing(ctx context.Context, token string) (*store.Monitor, error) {
	return s.monitors.RecordPing(ctx, token)
}

// -- Endpoints --

// CreateEndpoint validates required fields and derives a URL-safe slug.
func (s *Service) CreateEndpoint(ctx context.Context, tenantID string, e *store.Endpoint) (*store.Endpoint, error) {
	e.TenantID = tenantID
	if e.Name == "" {
		return nil, validationErr("name", "required")
	}
	if len(e.ForwardURLs) == 0 {
		return nil, validationErr("forward_urls", "must contain at least one URL")
	}
	if len(e.ForwardURLs) > 10 {
		return nil, validationErr("forward_urls", "must not exceed 10 URLs")
	}

	e.ID = uuid.NewString()
	e.Slug = slugify(e.Name) + "-" + e.ID[:8]
	e.Enabled = true
	if err := s.st.CreateEndpoint(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateEndpoint applies patch to endpoint.
func (s *Service) UpdateEndpoint(ctx context.Context, tenantID, endpointID string, patch store.EndpointPatch) error {
	return s.st.UpdateEndpoint(ctx, tenantID, endpointID, patch)
}

// DeleteEndpoint removes endpoint; already-recorded inbound events and the
// tasks they spawned are unaffected.
func (s *Service) DeleteEndpoint(ctx context.Context, tenantID, endpointID string) error {
	return s.st.DeleteEndpoint(ctx, tenantID, endpointID)
}

// ReceiveEvent delegates to the inbound dispatcher, which owns fan-out.
func (s *Service) ReceiveEvent(ctx context.Context, slug string, req inbound.Request) (*store.InboundEvent, error) {
	return s.inbound.ReceiveEvent(ctx, slug, req)
}

// ReplayEvent delegates to the inbound dispatcher, which owns re-creating
// executions for a previously recorded event.
func (s *Service) ReplayEvent(ctx context.Context, tenantID, eventID string) ([]*store.Execution, error) {
	return s.inbound.Replay(ctx, tenantID, eventID)
}

func slugify(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastDash := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

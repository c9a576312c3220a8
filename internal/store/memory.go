package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and local development.
// It implements the full claim protocol with a single mutex rather than
// row-level locking, which is sufficient because Go mutexes already give
// exclusive access per claim.
type MemoryStore struct {
	mu          sync.RWMutex
	tenants     map[string]*Tenant
	tasks       map[string]*Task
	executions  map[string]*Execution
	monitors    map[string]*Monitor
	endpoints   map[string]*Endpoint
	inbound     map[string]*InboundEvent
	queueStates map[string]bool
	epochs      map[string]int64
}

// NewMemoryStore initializes an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:     make(map[string]*Tenant),
		tasks:       make(map[string]*Task),
		executions:  make(map[string]*Execution),
		monitors:    make(map[string]*Monitor),
		endpoints:   make(map[string]*Endpoint),
		inbound:     make(map[string]*InboundEvent),
		queueStates: make(map[string]bool),
		epochs:      make(map[string]int64),
	}
}

// PutTenant seeds a tenant directly; used by tests, not part of Store.
func (s *MemoryStore) PutTenant(t *Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

func queueKey(tenantID, queue string) string { return tenantID + "\x00" + queue }

// --- Task operations ---

func (s *MemoryStore) CreateTask(ctx context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	cp.Version = 1
	if cp.InsertedAt.IsZero() {
		cp.InsertedAt = time.Now()
	}
	cp.UpdatedAt = cp.InsertedAt
	s.tasks[t.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, tenantID, taskID string, patch TaskPatch, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.TenantID != tenantID || t.DeletedAt != nil {
		return ErrNotFound
	}
	if t.Version != expectedVersion {
		return ErrVersionConflict
	}
	if patch.Name != nil {
		t.Name = *patch.Name
	}
	if patch.URL != nil {
		t.URL = *patch.URL
	}
	if patch.Method != nil {
		t.Method = *patch.Method
	}
	if patch.Headers != nil {
		t.Headers = patch.Headers
	}
	if patch.Body != nil {
		t.Body = *patch.Body
	}
	if patch.CronExpression != nil {
		t.CronExpression = *patch.CronExpression
	}
	if patch.ScheduledAt != nil {
		t.ScheduledAt = patch.ScheduledAt
	}
	if patch.Queue != nil {
		t.Queue = *patch.Queue
	}
	if patch.TimeoutMS != nil {
		t.TimeoutMS = *patch.TimeoutMS
	}
	if patch.RetryAttempts != nil {
		t.RetryAttempts = *patch.RetryAttempts
	}
	if patch.ExpectedStatusCodes != nil {
		t.ExpectedStatusCodes = *patch.ExpectedStatusCodes
	}
	if patch.ExpectedBodyPattern != nil {
		t.ExpectedBodyPattern = *patch.ExpectedBodyPattern
	}
	if patch.CallbackURL != nil {
		t.CallbackURL = *patch.CallbackURL
	}
	if patch.AlertOnFailure != nil {
		t.AlertOnFailure = *patch.AlertOnFailure
	}
	if patch.AlertOnRecovery != nil {
		t.AlertOnRecovery = *patch.AlertOnRecovery
	}
	if patch.Muted != nil {
		t.Muted = *patch.Muted
	}
	t.Version++
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SoftDeleteTask(ctx context.Context, tenantID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.TenantID != tenantID || t.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now()
	t.DeletedAt = &now
	t.Enabled = false
	t.NextRunAt = nil
	t.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ToggleTask(ctx context.Context, tenantID, taskID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.TenantID != tenantID || t.DeletedAt != nil {
		return ErrNotFound
	}
	t.Enabled = enabled
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, tenantID, taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok || t.TenantID != tenantID || t.DeletedAt != nil {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, tenantID string) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Task
	for _, t := range s.tasks {
		if t.TenantID == tenantID && t.DeletedAt == nil {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InsertedAt.Before(out[j].InsertedAt) })
	return out, nil
}

func (s *MemoryStore) ListDueTasks(ctx context.Context, now time.Time, lookahead time.Duration) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := now.Add(lookahead)
	var out []*Task
	for _, t := range s.tasks {
		if t.Enabled && t.DeletedAt == nil && t.NextRunAt != nil && !t.NextRunAt.After(cutoff) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(*out[j].NextRunAt) })
	return out, nil
}

func (s *MemoryStore) AdvanceNextRun(ctx context.Context, taskID string, nextRunAt *time.Time, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	if t.Version != expectedVersion {
		return ErrVersionConflict
	}
	t.NextRunAt = nextRunAt
	t.Version++
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SoftDeleteTasksByQueue(ctx context.Context, tenantID, queue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := time.Now()
	for _, t := range s.tasks {
		if t.TenantID == tenantID && t.Queue == queue && t.DeletedAt == nil {
			t.DeletedAt = &now
			t.Enabled = false
			t.NextRunAt = nil
			t.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// PurgeSoftDeletedTasks hard-deletes tasks soft-deleted before olderThan,
// cascading to their executions.
func (s *MemoryStore) PurgeSoftDeletedTasks(ctx context.Context, olderThan time.Time, batch int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.tasks {
		if n >= batch {
			break
		}
		if t.DeletedAt == nil || !t.DeletedAt.Before(olderThan) {
			continue
		}
		for execID, e := range s.executions {
			if e.TaskID == id {
				delete(s.executions, execID)
			}
		}
		delete(s.tasks, id)
		n++
	}
	return n, nil
}

// --- Execution operations ---

func (s *MemoryStore) CreateExecution(ctx context.Context, e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.executions {
		if existing.TaskID == e.TaskID && existing.ScheduledFor.Equal(e.ScheduledFor) {
			return nil // mirrors ON CONFLICT DO NOTHING
		}
	}
	cp := *e
	cp.CreatedAt = time.Now()
	s.executions[e.ID] = &cp
	return nil
}

// ClaimNextExecution walks pending executions in (scheduled_for, created_at)
// order and returns the first one whose task is live, whose queue is not
// paused, and which is not blocked by an earlier pending/running execution
// in the same tenant+queue.
func (s *MemoryStore) ClaimNextExecution(ctx context.Context) (*Execution, *Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var candidates []*Execution
	for _, e := range s.executions {
		if e.Status == ExecPending && !e.ScheduledFor.After(now) {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].ScheduledFor.Equal(candidates[j].ScheduledFor) {
			return candidates[i].ScheduledFor.Before(candidates[j].ScheduledFor)
		}
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	for _, e := range candidates {
		t, ok := s.tasks[e.TaskID]
		if !ok || t.DeletedAt != nil || !t.Enabled {
			continue
		}
		if t.Queue != "" && s.queueStates[queueKey(e.TenantID, t.Queue)] {
			continue
		}
		if t.Queue != "" && s.blockedByQueueOrder(e, t) {
			continue
		}
		e.Status = ExecRunning
		e.StartedAt = &now
		tc := *t
		ec := *e
		return &ec, &tc, nil
	}
	return nil, nil, ErrNoWork
}

func (s *MemoryStore) blockedByQueueOrder(e *Execution, t *Task) bool {
	for _, other := range s.executions {
		if other.ID == e.ID {
			continue
		}
		ot, ok := s.tasks[other.TaskID]
		if !ok || ot.Queue != t.Queue || other.TenantID != e.TenantID {
			continue
		}
		if other.Status == ExecRunning {
			return true
		}
		if other.Status == ExecPending {
			if other.CreatedAt.Before(e.CreatedAt) || (other.CreatedAt.Equal(e.CreatedAt) && other.ID < e.ID) {
				return true
			}
		}
	}
	return false
}

func (s *MemoryStore) UpdateExecutionTerminal(ctx context.Context, execID string, patch ExecutionTerminalPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[execID]
	if !ok {
		return ErrNotFound
	}
	e.Status = patch.Status
	finishedAt := patch.FinishedAt
	e.FinishedAt = &finishedAt
	e.StatusCode = patch.StatusCode
	e.DurationMS = patch.DurationMS
	e.ResponseBody = patch.ResponseBody
	e.ErrorMessage = patch.ErrorMessage
	return nil
}

func (s *MemoryStore) RescheduleExecution(ctx context.Context, execID string, scheduledFor time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[execID]
	if !ok {
		return ErrNotFound
	}
	e.Status = ExecPending
	e.ScheduledFor = scheduledFor
	e.StartedAt = nil
	return nil
}

func (s *MemoryStore) ListExecutions(ctx context.Context, tenantID, taskID string, limit int) ([]*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Execution
	for _, e := range s.executions {
		if e.TenantID == tenantID && e.TaskID == taskID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CountPendingExecutions(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	n := 0
	for _, e := range s.executions {
		if e.Status == ExecPending && !e.ScheduledFor.After(now) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CancelByQueue(ctx context.Context, tenantID, queue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := time.Now()
	for _, e := range s.executions {
		if e.TenantID != tenantID || e.Status != ExecPending {
			continue
		}
		t, ok := s.tasks[e.TaskID]
		if !ok || t.Queue != queue {
			continue
		}
		e.Status = ExecCancelled
		e.FinishedAt = &now
		n++
	}
	return n, nil
}

func (s *MemoryStore) SweepOrphanedRunning(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := time.Now()
	for _, e := range s.executions {
		if e.Status != ExecRunning || e.StartedAt == nil {
			continue
		}
		t, ok := s.tasks[e.TaskID]
		if !ok {
			continue
		}
		deadline := e.StartedAt.Add(time.Duration(t.TimeoutMS) * time.Millisecond)
		if deadline.Before(olderThan) {
			e.Status = ExecTimeout
			e.FinishedAt = &now
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) PurgeTerminalExecutions(ctx context.Context, tenantID string, olderThan time.Time, batch int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.executions {
		if n >= batch {
			break
		}
		if e.TenantID != tenantID {
			continue
		}
		switch e.Status {
		case ExecSuccess, ExecFailed, ExecTimeout, ExecMissed, ExecCancelled:
		default:
			continue
		}
		ref := e.ScheduledFor
		if e.FinishedAt != nil {
			ref = *e.FinishedAt
		}
		if ref.Before(olderThan) {
			delete(s.executions, id)
			n++
		}
	}
	return n, nil
}

// --- Usage counter operations ---

func (s *MemoryStore) BumpMonthlyCounter(ctx context.Context, tenantID string, delta int64) error {
	if delta == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return ErrNotFound
	}
	t.MonthlyExecutionCount += delta
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTenants(ctx context.Context) ([]*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) ResetMonthlyCounters(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tenants {
		t.MonthlyExecutionCount = 0
		t.MonthlyExecutionResetAt = now
		n++
	}
	return n, nil
}

// --- Monitor operations ---

func (s *MemoryStore) CreateMonitor(ctx context.Context, m *Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.monitors[m.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateMonitor(ctx context.Context, tenantID, monitorID string, patch MonitorPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[monitorID]
	if !ok || m.TenantID != tenantID {
		return ErrNotFound
	}
	if patch.Name != nil {
		m.Name = *patch.Name
	}
	if patch.IntervalSeconds != nil {
		m.IntervalSeconds = *patch.IntervalSeconds
	}
	if patch.CronExpression != nil {
		m.CronExpression = *patch.CronExpression
	}
	if patch.GracePeriodSeconds != nil {
		m.GracePeriodSeconds = *patch.GracePeriodSeconds
	}
	if patch.Muted != nil {
		m.Muted = *patch.Muted
	}
	m.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteMonitor(ctx context.Context, tenantID, monitorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[monitorID]
	if !ok || m.TenantID != tenantID {
		return ErrNotFound
	}
	delete(s.monitors, monitorID)
	return nil
}

func (s *MemoryStore) ToggleMonitor(ctx context.Context, tenantID, monitorID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[monitorID]
	if !ok || m.TenantID != tenantID {
		return ErrNotFound
	}
	m.Enabled = enabled
	m.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetMonitorByToken(ctx context.Context, token string) (*Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.monitors {
		if m.PingToken == token {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListMonitors(ctx context.Context, tenantID string) ([]*Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Monitor
	for _, m := range s.monitors {
		if m.TenantID == tenantID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListOverdueMonitors(ctx context.Context, now time.Time) ([]*Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Monitor
	for _, m := range s.monitors {
		if !m.Enabled || (m.Status != MonitorUp && m.Status != MonitorNew) || m.NextExpectedAt == nil {
			continue
		}
		deadline := m.NextExpectedAt.Add(time.Duration(m.GracePeriodSeconds) * time.Second)
		if deadline.Before(now) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) RecordPing(ctx context.Context, monitorID string, pingAt, nextExpectedAt time.Time, status MonitorStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[monitorID]
	if !ok {
		return ErrNotFound
	}
	m.LastPingAt = &pingAt
	m.NextExpectedAt = &nextExpectedAt
	m.Status = status
	m.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) TransitionMonitorStatus(ctx context.Context, monitorID string, status MonitorStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[monitorID]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	m.UpdatedAt = time.Now()
	return nil
}

// --- Endpoint + inbound event operations ---

func (s *MemoryStore) CreateEndpoint(ctx context.Context, e *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.endpoints[e.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateEndpoint(ctx context.Context, tenantID, endpointID string, patch EndpointPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[endpointID]
	if !ok || e.TenantID != tenantID {
		return ErrNotFound
	}
	if patch.Name != nil {
		e.Name = *patch.Name
	}
	if patch.ForwardURLs != nil {
		e.ForwardURLs = patch.ForwardURLs
	}
	if patch.UseQueue != nil {
		e.UseQueue = *patch.UseQueue
	}
	if patch.RetryAttempts != nil {
		e.RetryAttempts = *patch.RetryAttempts
	}
	if patch.OnFailureURL != nil {
		e.OnFailureURL = *patch.OnFailureURL
	}
	if patch.OnRecoveryURL != nil {
		e.OnRecoveryURL = *patch.OnRecoveryURL
	}
	if patch.Enabled != nil {
		e.Enabled = *patch.Enabled
	}
	e.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteEndpoint(ctx context.Context, tenantID, endpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[endpointID]
	if !ok || e.TenantID != tenantID {
		return ErrNotFound
	}
	delete(s.endpoints, endpointID)
	return nil
}

func (s *MemoryStore) GetEndpointBySlug(ctx context.Context, slug string) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.endpoints {
		if e.Slug == slug {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListEndpoints(ctx context.Context, tenantID string) ([]*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Endpoint
	for _, e := range s.endpoints {
		if e.TenantID == tenantID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateInboundEvent(ctx context.Context, e *InboundEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	cp.ReceivedAt = time.Now()
	s.inbound[e.ID] = &cp
	return nil
}

func (s *MemoryStore) GetInboundEvent(ctx context.Context, tenantID, eventID string) (*InboundEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.inbound[eventID]
	if !ok || e.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) RecordEventTaskIDs(ctx context.Context, eventID string, taskIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.inbound[eventID]
	if !ok {
		return ErrNotFound
	}
	e.TaskIDs = taskIDs
	return nil
}

func (s *MemoryStore) PurgeInboundEvents(ctx context.Context, tenantID string, olderThan time.Time, batch int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.inbound {
		if n >= batch {
			break
		}
		if e.TenantID == tenantID && e.ReceivedAt.Before(olderThan) {
			delete(s.inbound, id)
			n++
		}
	}
	return n, nil
}

// --- Queue operations ---

func (s *MemoryStore) PauseQueue(ctx context.Context, tenantID, queue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueStates[queueKey(tenantID, queue)] = true
	return nil
}

func (s *MemoryStore) ResumeQueue(ctx context.Context, tenantID, queue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueStates[queueKey(tenantID, queue)] = false
	return nil
}

func (s *MemoryStore) IsQueuePaused(ctx context.Context, tenantID, queue string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queueStates[queueKey(tenantID, queue)], nil
}

// --- Coordination support ---

func (s *MemoryStore) IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epochs[resourceID]++
	return s.epochs[resourceID], nil
}

func (s *MemoryStore) GetDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epochs[resourceID], nil
}

// Package inbound receives webhook POSTs against a tenant's endpoints and
// fans them out to the endpoint's forward URLs as one-shot tasks.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/webrelay/webrelay/internal/store"
)

// ErrAllTasksDeleted is returned by Replay when every task recorded
// against the event has since been soft-deleted.
var ErrAllTasksDeleted = errors.New("task_deleted")

const (
	maxForwardURLs  = 10
	maxBodyBytes    = 1 << 20
	dispatchDelay   = time.Second
	forwardedHeader = "X-Forwarded-For"
)

// Dispatcher receives inbound events and synthesizes forward tasks.
type Dispatcher struct {
	st store.Store
}

// New returns a Dispatcher backed by st.
func New(st store.Store) *Dispatcher {
	return &Dispatcher{st: st}
}

// Request is the subset of an inbound HTTP request the dispatcher needs,
// decoupling it from any particular HTTP framework.
type Request struct {
	Method   string
	Headers  map[string]string
	Body     string
	SourceIP string
}

// ReceiveEvent persists the inbound request and fans it out to the
// endpoint's forward URLs.
func (d *Dispatcher) ReceiveEvent(ctx context.Context, slug string, req Request) (*store.InboundEvent, error) {
	endpoint, err := d.st.GetEndpointBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !endpoint.Enabled {
		return nil, fmt.Errorf("endpoint %s is disabled", slug)
	}

	body := req.Body
	if len(body) > maxBodyBytes {
		body = body[:maxBodyBytes]
	}

	event := &store.InboundEvent{
		ID:         uuid.NewString(),
		EndpointID: endpoint.ID,
		TenantID:   endpoint.TenantID,
		Method:     req.Method,
		Headers:    store.Headers(req.Headers),
		Body:       body,
		SourceIP:   req.SourceIP,
		ReceivedAt: time.Now(),
	}
	if err := d.st.CreateInboundEvent(ctx, event); err != nil {
		return nil, err
	}

	taskIDs, err := d.fanOut(ctx, endpoint, body, req.Headers, req.SourceIP)
	if err != nil {
		return event, err
	}
	event.TaskIDs = taskIDs
	if len(taskIDs) > 0 {
		if err := d.st.RecordEventTaskIDs(ctx, event.ID, taskIDs); err != nil {
			return event, err
		}
	}
	return event, nil
}

func (d *Dispatcher) fanOut(ctx context.Context, endpoint *store.Endpoint, body string, headers map[string]string, sourceIP string) ([]string, error) {
	urls := endpoint.ForwardURLs
	if len(urls) > maxForwardURLs {
		urls = urls[:maxForwardURLs]
	}

	queue := ""
	if endpoint.UseQueue {
		queue = slugify(endpoint.Name)
	}

	taskIDs := make([]string, 0, len(urls))
	for _, url := range urls {
		scheduledFor := time.Now().Add(dispatchDelay)
		task := &store.Task{
			ID:             uuid.NewString(),
			TenantID:       endpoint.TenantID,
			Name:           fmt.Sprintf("inbound:%s", endpoint.Slug),
			URL:            url,
			Method:         http.MethodPost,
			Headers:        forwardedHeaders(headers, sourceIP),
			Body:           body,
			ScheduleType:   store.ScheduleOnce,
			ScheduledAt:    &scheduledFor,
			Enabled:        true,
			Queue:          queue,
			RetryAttempts:  endpoint.RetryAttempts,
			CallbackURL:    endpoint.OnFailureURL,
			AlertOnFailure: endpoint.OnFailureURL != "",
			InsertedAt:     time.Now(),
		}
		if err := d.st.CreateTask(ctx, task); err != nil {
			return taskIDs, fmt.Errorf("inbound: create forward task for %s: %w", url, err)
		}

		exec := &store.Execution{
			ID:           uuid.NewString(),
			TaskID:       task.ID,
			TenantID:     endpoint.TenantID,
			Status:       store.ExecPending,
			ScheduledFor: scheduledFor,
			Attempt:      1,
			CallbackURL:  task.CallbackURL,
		}
		if err := d.st.CreateExecution(ctx, exec); err != nil {
			return taskIDs, fmt.Errorf("inbound: create forward execution for %s: %w", url, err)
		}
		// The one-shot schedule already materialized above; clear
		// next_run_at so the scheduler does not also fire it.
		if err := d.st.AdvanceNextRun(ctx, task.ID, nil, task.Version); err != nil && err != store.ErrVersionConflict {
			return taskIDs, err
		}

		taskIDs = append(taskIDs, task.ID)
	}
	return taskIDs, nil
}

// Replay re-creates an execution for each task recorded against event,
// skipping any that have since been soft-deleted.
func (d *Dispatcher) Replay(ctx context.Context, tenantID, eventID string) ([]*store.Execution, error) {
	event, err := d.st.GetInboundEvent(ctx, tenantID, eventID)
	if err != nil {
		return nil, err
	}

	var created []*store.Execution
	anyLive := false
	for _, taskID := range event.TaskIDs {
		task, err := d.st.GetTask(ctx, tenantID, taskID)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return created, err
		}
		if task.DeletedAt != nil {
			continue
		}
		anyLive = true

		exec := &store.Execution{
			ID:           uuid.NewString(),
			TaskID:       task.ID,
			TenantID:     tenantID,
			Status:       store.ExecPending,
			ScheduledFor: time.Now(),
			Attempt:      1,
			CallbackURL:  task.CallbackURL,
		}
		if err := d.st.CreateExecution(ctx, exec); err != nil {
			return created, err
		}
		created = append(created, exec)
	}

	if !anyLive {
		return nil, ErrAllTasksDeleted
	}
	return created, nil
}

func forwardedHeaders(in map[string]string, sourceIP string) store.Headers {
	out := make(store.Headers, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	out[forwardedHeader] = sourceIP
	return out
}

func slugify(name string) string {
	lower := strings.ToLower(name)
	var b strings.Builder
	lastDash := false
	for _, r := range lower {
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

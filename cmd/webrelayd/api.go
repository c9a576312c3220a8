package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/webrelay/webrelay/internal/engine"
	"github.com/webrelay/webrelay/internal/inbound"
	"github.com/webrelay/webrelay/internal/store"
)

// tenantContextKey is a strict type for context keys to prevent collisions.
type tenantContextKey string

const (
	tenantKey    tenantContextKey = "tenant_id"
	tenantHeader                  = "X-Tenant-ID"
)

// api wires the engine command surface and the underlying store (for
// plain reads that don't carry business invariants) to HTTP handlers.
type api struct {
	svc *engine.Service
	st  store.Store
}

func newAPI(svc *engine.Service, st store.Store) *api {
	return &api{svc: svc, st: st}
}

// withTenant extracts the tenant id from X-Tenant-ID and injects it into
// the request context, returning 400 if the header is missing.
func (a *api) withTenant(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get(tenantHeader)
		if tenantID == "" {
			jsonError(w, http.StatusBadRequest, fmt.Sprintf("missing required header: %s", tenantHeader))
			return
		}
		ctx := context.WithValue(r.Context(), tenantKey, tenantID)
		next(w, r.WithContext(ctx))
	}
}

func tenantFromContext(ctx context.Context) (string, error) {
	v, ok := ctx.Value(tenantKey).(string)
	if !ok || v == "" {
		return "", fmt.Errorf("tenant_id not found in context")
	}
	return v, nil
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *engine.ValidationError:
		jsonError(w, http.StatusBadRequest, e.Error())
	case *engine.LimitError:
		jsonError(w, http.StatusUnprocessableEntity, e.Error())
	case *engine.SyncError:
		jsonResponse(w, http.StatusMultiStatus, e)
	default:
		if err == store.ErrNotFound {
			jsonError(w, http.StatusNotFound, "not found")
			return
		}
		if err == store.ErrVersionConflict {
			jsonError(w, http.StatusConflict, "version conflict")
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			// Connection pool saturated: shed load instead of queueing.
			w.Header().Set("Retry-After", "5")
			jsonError(w, http.StatusServiceUnavailable, "temporarily overloaded")
			return
		}
		jsonError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *api) handleTasks(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFromContext(r.Context())
	if err != nil {
		jsonError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	switch r.Method {
	case http.MethodGet:
		tasks, err := a.st.ListTasks(r.Context(), tenantID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		jsonResponse(w, http.StatusOK, tasks)
	case http.MethodPost:
		var task store.Task
		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			jsonError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		created, err := a.svc.CreateTask(r.Context(), tenantID, &task)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		jsonResponse(w, http.StatusCreated, created)
	default:
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTaskByID serves /tasks/{id}, /tasks/{id}/toggle, and
// /tasks/{id}/trigger.
func (a *api) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFromContext(r.Context())
	if err != nil {
		jsonError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/tasks/")
	parts := strings.SplitN(rest, "/", 2)
	taskID := parts[0]
	if taskID == "" {
		jsonError(w, http.StatusBadRequest, "missing task id")
		return
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "toggle":
		var body struct{ Enabled bool `json:"enabled"` }
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			jsonError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := a.svc.ToggleTask(r.Context(), tenantID, taskID, body.Enabled); err != nil {
			writeEngineError(w, err)
			return
		}
		jsonResponse(w, http.StatusOK, map[string]bool{"enabled": body.Enabled})
	case "trigger":
		exec, err := a.svc.TriggerTask(r.Context(), tenantID, taskID, time.Now())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		jsonResponse(w, http.StatusAccepted, exec)
	case "":
		switch r.Method {
		case http.MethodGet:
			task, err := a.st.GetTask(r.Context(), tenantID, taskID)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			jsonResponse(w, http.StatusOK, task)
		case http.MethodPatch:
			var body struct {
				store.TaskPatch
				Version int `json:"version"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				jsonError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if err := a.svc.UpdateTask(r.Context(), tenantID, taskID, body.TaskPatch, body.Version); err != nil {
				writeEngineError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			if err := a.svc.SoftDeleteTask(r.Context(), tenantID, taskID); err != nil {
				writeEngineError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	default:
		jsonError(w, http.StatusNotFound, "not found")
	}
}

func (a *api) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tenantID, err := tenantFromContext(r.Context())
	if err != nil {
		jsonError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body struct {
		Shared       store.Task        `json:"shared"`
		Items        []engine.BatchItem `json:"items"`
		ScheduledFor time.Time         `json:"scheduled_for"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	scheduledFor := body.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = time.Now()
	}
	result, err := a.svc.CreateBatch(r.Context(), tenantID, &body.Shared, body.Items, scheduledFor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, result)
}

func (a *api) handleMonitors(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFromContext(r.Context())
	if err != nil {
		jsonError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	switch r.Method {
	case http.MethodGet:
		monitors, err := a.st.ListMonitors(r.Context(), tenantID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		jsonResponse(w, http.StatusOK, monitors)
	case http.MethodPost:
		var m store.Monitor
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			jsonError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		created, err := a.svc.CreateMonitor(r.Context(), tenantID, &m)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		jsonResponse(w, http.StatusCreated, created)
	default:
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleMonitorByID serves /monitors/{id} and /monitors/{id}/toggle.
func (a *api) handleMonitorByID(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFromContext(r.Context())
	if err != nil {
		jsonError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/monitors/")
	parts := strings.SplitN(rest, "/", 2)
	monitorID := parts[0]
	if monitorID == "" {
		jsonError(w, http.StatusBadRequest, "missing monitor id")
		return
	}

	if len(parts) == 2 && parts[1] == "toggle" {
		var body struct{ Enabled bool `json:"enabled"` }
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			jsonError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := a.svc.ToggleMonitor(r.Context(), tenantID, monitorID, body.Enabled); err != nil {
			writeEngineError(w, err)
			return
		}
		jsonResponse(w, http.StatusOK, map[string]bool{"enabled": body.Enabled})
		return
	}

	if r.Method != http.MethodDelete {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := a.svc.DeleteMonitor(r.Context(), tenantID, monitorID); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePing serves the public /ping/{token} endpoint heartbeat monitors
// call into; it carries no tenant header, the token is its own auth.
func (a *api) handlePing(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, "/ping/")
	if token == "" {
		jsonError(w, http.StatusBadRequest, "missing ping token")
		return
	}
	m, err := a.svc.RecordPing(r.Context(), token)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, m)
}

func (a *api) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFromContext(r.Context())
	if err != nil {
		jsonError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	switch r.Method {
	case http.MethodGet:
		endpoints, err := a.st.ListEndpoints(r.Context(), tenantID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		jsonResponse(w, http.StatusOK, endpoints)
	case http.MethodPost:
		var e store.Endpoint
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			jsonError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		created, err := a.svc.CreateEndpoint(r.Context(), tenantID, &e)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		jsonResponse(w, http.StatusCreated, created)
	default:
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleInbound serves the public /in/{slug} endpoint forward-URL targets
// receive webhook traffic on; like ping tokens, the slug is the auth.
func (a *api) handleInbound(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimPrefix(r.URL.Path, "/in/")
	if slug == "" {
		jsonError(w, http.StatusBadRequest, "missing endpoint slug")
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	event, err := a.svc.ReceiveEvent(r.Context(), slug, inbound.Request{
		Method:   r.Method,
		Headers:  headers,
		Body:     string(body),
		SourceIP: r.RemoteAddr,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	jsonResponse(w, http.StatusAccepted, event)
}

// handleReplayEvent serves POST /events/{id}/replay.
func (a *api) handleReplayEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tenantID, err := tenantFromContext(r.Context())
	if err != nil {
		jsonError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/events/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] != "replay" {
		jsonError(w, http.StatusNotFound, "not found")
		return
	}
	execs, err := a.svc.ReplayEvent(r.Context(), tenantID, parts[0])
	if err != nil {
		writeEngineError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, execs)
}

// handleQueueByName serves /queues/{name}/pause, /queues/{name}/resume,
// and /queues/{name}/cancel.
func (a *api) handleQueueByName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tenantID, err := tenantFromContext(r.Context())
	if err != nil {
		jsonError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/queues/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		jsonError(w, http.StatusBadRequest, "expected /queues/{name}/{pause|resume|cancel}")
		return
	}
	queue, action := parts[0], parts[1]

	switch action {
	case "pause":
		err = a.svc.PauseQueue(r.Context(), tenantID, queue)
	case "resume":
		err = a.svc.ResumeQueue(r.Context(), tenantID, queue)
	case "cancel":
		var cancelled int
		cancelled, err = a.svc.CancelByQueue(r.Context(), tenantID, queue)
		if err == nil {
			jsonResponse(w, http.StatusOK, map[string]int{"cancelled": cancelled})
			return
		}
	default:
		jsonError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tenantID, err := tenantFromContext(r.Context())
	if err != nil {
		jsonError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var spec engine.SyncSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := a.svc.Sync(r.Context(), tenantID, spec)
	if err != nil {
		if _, ok := err.(*engine.SyncError); ok {
			jsonResponse(w, http.StatusMultiStatus, result)
			return
		}
		writeEngineError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

// Package workerpool runs the dynamic-sized pool of goroutines that claim
// pending executions, dispatch the underlying HTTP call, and write back
// the terminal (or retried) result.
package workerpool

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webrelay/webrelay/internal/counter"
	"github.com/webrelay/webrelay/internal/hostblocker"
	"github.com/webrelay/webrelay/internal/observability"
	"github.com/webrelay/webrelay/internal/store"
)

const (
	maxResponseBodyRead   = 64 * 1024
	maxStoredResponseBody = 4 * 1024
	retryBackoffBase      = 30 * time.Second
	retryBackoffCap       = 15 * time.Minute
	orphanSlack           = time.Minute
)

// Outcome classifies a dispatch result.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransientFailure
	OutcomePermanentFailure
)

// CallbackEnqueuer accepts a signed outbound notification for async delivery.
type CallbackEnqueuer interface {
	Enqueue(ctx context.Context, task *store.Task, exec *store.Execution, event string)
}

// AlertEnqueuer accepts throttled alert/recovery email requests.
type AlertEnqueuer interface {
	EnqueueFailureAlert(tenantID string, task *store.Task, exec *store.Execution)
	EnqueueRecoveryAlert(tenantID string, task *store.Task, exec *store.Execution)
}

// Config tunes the pool controller.
type Config struct {
	MinWorkers     int
	MaxWorkers     int
	IdlePolls      int
	PollInterval   time.Duration
	ControllerTick time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MinWorkers:     1,
		MaxWorkers:     50,
		IdlePolls:      30,
		PollInterval:   time.Second,
		ControllerTick: time.Second,
	}
}

// Pool owns the dynamic set of dispatch workers.
type Pool struct {
	st        store.Store
	blocker   *hostblocker.Blocker
	counter   *counter.Counter
	callbacks CallbackEnqueuer
	alerts    AlertEnqueuer
	config    Config
	client    *http.Client

	mu      sync.Mutex
	workers int
	wg      sync.WaitGroup
}

// New returns a Pool wired to its collaborators.
func New(st store.Store, blocker *hostblocker.Blocker, ctr *counter.Counter, callbacks CallbackEnqueuer, alerts AlertEnqueuer, config Config) *Pool {
	return &Pool{
		st:        st,
		blocker:   blocker,
		counter:   ctr,
		callbacks: callbacks,
		alerts:    alerts,
		config:    config,
		client:    &http.Client{},
	}
}

// Run drives the pool controller until ctx is cancelled: it periodically
// checks pending depth and spawns additional workers up to MaxWorkers.
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.config.ControllerTick)
	defer ticker.Stop()

	p.spawnUpTo(ctx, p.config.MinWorkers)

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case <-ticker.C:
			depth, err := p.st.CountPendingExecutions(ctx)
			if err != nil {
				log.Printf("workerpool: count pending: %v", err)
				continue
			}
			observability.PendingQueueDepth.Set(float64(depth))
			observability.HostBlockerOpen.Set(float64(p.blocker.OpenCount()))
			target := depth
			if target < p.config.MinWorkers {
				target = p.config.MinWorkers
			}
			if target > p.config.MaxWorkers {
				target = p.config.MaxWorkers
			}
			p.spawnUpTo(ctx, target)
			observability.ActiveWorkers.Set(float64(p.ActiveWorkers()))

			if n, err := SweepOrphans(ctx, p.st, orphanSlack); err != nil {
				log.Printf("workerpool: sweep orphans: %v", err)
			} else if n > 0 {
				log.Printf("workerpool: promoted %d orphaned executions to timeout", n)
			}
		}
	}
}

func (p *Pool) spawnUpTo(ctx context.Context, target int) {
	p.mu.Lock()
	toSpawn := target - p.workers
	if toSpawn > 0 {
		p.workers += toSpawn
	}
	p.mu.Unlock()

	for i := 0; i < toSpawn; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx)
	}
}

func (p *Pool) runWorker(ctx context.Context) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		p.workers--
		p.mu.Unlock()
	}()

	idlePolls := 0
	for idlePolls < p.config.IdlePolls {
		select {
		case <-ctx.Done():
			return
		default:
		}

		claimStart := time.Now()
		exec, task, err := p.st.ClaimNextExecution(ctx)
		observability.ClaimLatency.Observe(time.Since(claimStart).Seconds())
		if err == store.ErrNoWork {
			idlePolls++
			time.Sleep(p.config.PollInterval)
			continue
		}
		if err != nil {
			log.Printf("workerpool: claim failed: %v", err)
			time.Sleep(p.config.PollInterval)
			continue
		}
		idlePolls = 0
		p.process(ctx, exec, task)
	}
}

func (p *Pool) process(ctx context.Context, exec *store.Execution, task *store.Task) {
	host := hostblocker.Host(task.URL)
	if blocked, until := p.blocker.Blocked(task.TenantID, host); blocked {
		if err := p.st.RescheduleExecution(ctx, exec.ID, until); err != nil && err != store.ErrNotFound {
			log.Printf("workerpool: reschedule blocked execution: %v", err)
		}
		return
	}

	result := p.dispatch(ctx, exec, task)
	p.handleResult(ctx, exec, task, result)
}

type dispatchResult struct {
	outcome      Outcome
	statusCode   int
	durationMS   int64
	responseBody string
	errorMessage string
	retryAfter   time.Duration
	hasRetryAfter bool
}

func (p *Pool) dispatch(ctx context.Context, exec *store.Execution, task *store.Task) dispatchResult {
	timeout := time.Duration(task.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dispatchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if task.Body != "" {
		body = strings.NewReader(task.Body)
	}
	req, err := http.NewRequestWithContext(dispatchCtx, task.Method, task.URL, body)
	if err != nil {
		return dispatchResult{outcome: OutcomePermanentFailure, errorMessage: fmt.Sprintf("build request: %v", err)}
	}
	for k, v := range task.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("X-Task-Id", task.ID)
	req.Header.Set("X-Execution-Id", exec.ID)
	req.Header.Set("X-Attempt", strconv.Itoa(exec.Attempt))

	start := time.Now()
	resp, err := p.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return dispatchResult{
			outcome:      OutcomeTransientFailure,
			durationMS:   duration.Milliseconds(),
			errorMessage: err.Error(),
		}
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseBodyRead)
	respBytes, _ := io.ReadAll(limited)
	respBody := string(respBytes)

	result := dispatchResult{
		statusCode:   resp.StatusCode,
		durationMS:   duration.Milliseconds(),
		responseBody: truncate(respBody, maxStoredResponseBody),
	}

	if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
		result.retryAfter = d
		result.hasRetryAfter = true
	}

	result.outcome = classify(resp.StatusCode, respBody, task)
	observability.DispatchDuration.Observe(duration.Seconds())
	return result
}

func classify(statusCode int, body string, task *store.Task) Outcome {
	if assertionsHold(statusCode, body, task) {
		return OutcomeSuccess
	}
	if isTransientStatus(statusCode) {
		return OutcomeTransientFailure
	}
	return OutcomePermanentFailure
}

func assertionsHold(statusCode int, body string, task *store.Task) bool {
	if task.ExpectedStatusCodes != "" {
		if !statusInList(statusCode, task.ExpectedStatusCodes) {
			return false
		}
	} else if statusCode < 200 || statusCode >= 300 {
		return false
	}
	if task.ExpectedBodyPattern != "" && !strings.Contains(body, task.ExpectedBodyPattern) {
		return false
	}
	return true
}

func statusInList(statusCode int, list string) bool {
	for _, part := range strings.Split(list, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err == nil && n == statusCode {
			return true
		}
	}
	return false
}

func isTransientStatus(statusCode int) bool {
	switch statusCode {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func backoff(attempt int) time.Duration {
	d := retryBackoffBase * time.Duration(1<<uint(attempt-1))
	if d > retryBackoffCap || d <= 0 {
		d = retryBackoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(retryBackoffBase)))
	return d + jitter
}

func (p *Pool) handleResult(ctx context.Context, exec *store.Execution, task *store.Task, result dispatchResult) {
	host := hostblocker.Host(task.URL)

	switch result.outcome {
	case OutcomeSuccess:
		observability.DispatchOutcomes.WithLabelValues("success").Inc()
	case OutcomeTransientFailure:
		observability.DispatchOutcomes.WithLabelValues("transient_failure").Inc()
	case OutcomePermanentFailure:
		observability.DispatchOutcomes.WithLabelValues("permanent_failure").Inc()
	}

	switch result.statusCode {
	case 429:
		retryAfter := result.retryAfter
		if !result.hasRetryAfter {
			retryAfter = time.Second
		}
		p.blocker.Block(task.TenantID, host, retryAfter)
	case 500, 502, 503, 504:
		p.blocker.RecordFailure(task.TenantID, host)
	}

	wasFailing := exec.Attempt > 1
	if result.outcome == OutcomeSuccess {
		p.blocker.RecordSuccess(task.TenantID, host)
	}

	if result.outcome == OutcomeTransientFailure && exec.Attempt < task.RetryAttempts+1 {
		p.retry(ctx, exec, task, result)
		return
	}

	p.finalize(ctx, exec, task, result, wasFailing)
}

func (p *Pool) retry(ctx context.Context, exec *store.Execution, task *store.Task, result dispatchResult) {
	delay := backoff(exec.Attempt)
	if result.hasRetryAfter {
		delay = result.retryAfter
	}
	next := &store.Execution{
		ID:           uuid.NewString(),
		TaskID:       exec.TaskID,
		TenantID:     exec.TenantID,
		Status:       store.ExecPending,
		ScheduledFor: time.Now().Add(delay),
		Attempt:      exec.Attempt + 1,
		CallbackURL:  exec.CallbackURL,
	}
	if err := p.st.CreateExecution(ctx, next); err != nil {
		log.Printf("workerpool: create retry execution: %v", err)
	}
	status := store.ExecFailed
	if result.errorMessage != "" && result.statusCode == 0 {
		status = store.ExecTimeout
	}
	if err := p.st.UpdateExecutionTerminal(ctx, exec.ID, store.ExecutionTerminalPatch{
		Status:       status,
		FinishedAt:   time.Now(),
		StatusCode:   result.statusCode,
		DurationMS:   result.durationMS,
		ResponseBody: result.responseBody,
		ErrorMessage: result.errorMessage,
	}); err != nil && err != store.ErrNotFound {
		log.Printf("workerpool: update terminal (retry path): %v", err)
	}
	// The logical run is counted once, at the first attempt's terminal
	// transition; the retries it spawns are not counted again.
	if exec.Attempt == 1 {
		p.counter.Increment(task.TenantID)
	}
}

func (p *Pool) finalize(ctx context.Context, exec *store.Execution, task *store.Task, result dispatchResult, wasFailing bool) {
	status := store.ExecSuccess
	switch result.outcome {
	case OutcomeTransientFailure:
		if result.statusCode == 0 {
			status = store.ExecTimeout
		} else {
			status = store.ExecFailed
		}
	case OutcomePermanentFailure:
		status = store.ExecFailed
	}

	if err := p.st.UpdateExecutionTerminal(ctx, exec.ID, store.ExecutionTerminalPatch{
		Status:       status,
		FinishedAt:   time.Now(),
		StatusCode:   result.statusCode,
		DurationMS:   result.durationMS,
		ResponseBody: result.responseBody,
		ErrorMessage: result.errorMessage,
	}); err != nil {
		if err == store.ErrNotFound {
			return // poison execution: row gone, swallow per error taxonomy
		}
		log.Printf("workerpool: update terminal: %v", err)
		return
	}

	if exec.Attempt == 1 {
		p.counter.Increment(task.TenantID)
	}

	exec.Status = status
	if task.CallbackURL != "" && p.callbacks != nil {
		event := "execution.completed"
		switch {
		case status != store.ExecSuccess:
			event = "execution.failed"
		case wasFailing:
			event = "task.recovered"
		}
		p.callbacks.Enqueue(ctx, task, exec, event)
	}

	if p.alerts == nil || task.Muted {
		return
	}
	if status != store.ExecSuccess && task.AlertOnFailure {
		p.alerts.EnqueueFailureAlert(task.TenantID, task, exec)
	} else if status == store.ExecSuccess && wasFailing && task.AlertOnRecovery {
		p.alerts.EnqueueRecoveryAlert(task.TenantID, task, exec)
	}
}

// ActiveWorkers reports the current worker count, for the status surface.
func (p *Pool) ActiveWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// SweepOrphans promotes executions stuck running past their deadline to
// timeout, recovering from a worker that died mid-dispatch.
func SweepOrphans(ctx context.Context, st store.Store, slack time.Duration) (int, error) {
	return st.SweepOrphanedRunning(ctx, time.Now().Add(-slack))
}

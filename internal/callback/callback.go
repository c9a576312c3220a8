// Package callback delivers signed outbound notifications of execution
// outcomes to a task's callback_url.
package callback

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/webrelay/webrelay/internal/observability"
	"github.com/webrelay/webrelay/internal/store"
)

const (
	maxAttempts         = 3
	backoffBase         = time.Second
	queueDepth          = 1024
	dispatchHTTPTimeout = 10 * time.Second
)

// Payload is the JSON body posted to a callback_url.
type Payload struct {
	Event     string           `json:"event"`
	Task      PayloadTask      `json:"task"`
	Execution PayloadExecution `json:"execution"`
}

type PayloadTask struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PayloadExecution struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	StatusCode   int        `json:"status_code,omitempty"`
	DurationMS   int64      `json:"duration_ms,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Attempt      int        `json:"attempt"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ResponseBody string     `json:"response_body,omitempty"`
}

type job struct {
	url      string
	tenantID string
	payload  Payload
}

// Dispatcher queues and delivers signed callbacks, concurrency-bounded by
// a shared token bucket rather than a per-destination one: callback
// volume is a small fraction of task dispatch volume and does not need
// per-host isolation.
type Dispatcher struct {
	st      store.Store
	client  *http.Client
	limiter *rate.Limiter
	jobs    chan job
	wg      sync.WaitGroup
}

// New returns a Dispatcher allowing up to ratePerSecond deliveries/sec,
// bursting up to burst.
func New(st store.Store, ratePerSecond float64, burst int) *Dispatcher {
	return &Dispatcher{
		st:      st,
		client:  &http.Client{Timeout: dispatchHTTPTimeout},
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		jobs:    make(chan job, queueDepth),
	}
}

// Run starts n delivery workers, draining the queue until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Wait blocks until all workers have drained after ctx cancellation.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-d.jobs:
			if !ok {
				return
			}
			d.deliver(ctx, j)
		}
	}
}

// Enqueue builds the callback payload for an execution outcome and queues
// it for delivery, implementing workerpool.CallbackEnqueuer.
func (d *Dispatcher) Enqueue(ctx context.Context, task *store.Task, exec *store.Execution, event string) {
	if task.CallbackURL == "" {
		return
	}
	payload := Payload{
		Event: event,
		Task:  PayloadTask{ID: task.ID, Name: task.Name},
		Execution: PayloadExecution{
			ID:           exec.ID,
			Status:       string(exec.Status),
			StatusCode:   exec.StatusCode,
			DurationMS:   exec.DurationMS,
			ErrorMessage: exec.ErrorMessage,
			Attempt:      exec.Attempt,
			ScheduledFor: exec.ScheduledFor,
			FinishedAt:   exec.FinishedAt,
			ResponseBody: exec.ResponseBody,
		},
	}
	j := job{url: task.CallbackURL, tenantID: task.TenantID, payload: payload}
	select {
	case d.jobs <- j:
	default:
		log.Printf("callback: queue full, dropping callback for execution %s", exec.ID)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	tenant, err := d.st.GetTenant(ctx, j.tenantID)
	if err != nil {
		log.Printf("callback: lookup tenant %s: %v", j.tenantID, err)
		return
	}

	body, err := json.Marshal(j.payload)
	if err != nil {
		log.Printf("callback: marshal payload: %v", err)
		return
	}
	signature := Sign(tenant.WebhookSecret, body)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		if d.attempt(ctx, j, body, signature) {
			observability.CallbackDeliveries.WithLabelValues("delivered").Inc()
			return
		}
		if attempt < maxAttempts {
			time.Sleep(backoffBase * time.Duration(1<<uint(attempt-1)))
		}
	}
	observability.CallbackDeliveries.WithLabelValues("exhausted").Inc()
	log.Printf("callback: exhausted %d attempts delivering to %s", maxAttempts, j.url)
}

func (d *Dispatcher) attempt(ctx context.Context, j job, body []byte, signature string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.url, bytes.NewReader(body))
	if err != nil {
		log.Printf("callback: build request: %v", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", signature)
	req.Header.Set("X-Task-Id", j.payload.Task.ID)
	req.Header.Set("X-Execution-Id", j.payload.Execution.ID)

	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Sign computes the X-Signature header value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Package alert sends throttled failure/recovery notification emails for
// tasks and monitors, mirroring the callback package's queued-worker
// shape but targeting a tenant's alert address instead of a task's
// callback_url.
package alert

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/webrelay/webrelay/internal/store"
)

const queueDepth = 1024

type kind int

const (
	kindTaskFailure kind = iota
	kindTaskRecovery
	kindMonitorDown
	kindMonitorRecovered
)

type job struct {
	kind     kind
	tenantID string
	subject  string
	body     string
}

// Notifier sends mail via smtp.SendMail; *smtp.Auth is passed as nil when
// the relay requires none (e.g. a local mail relay or test sink).
type Notifier interface {
	SendMail(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

type smtpNotifier struct{}

func (smtpNotifier) SendMail(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	return smtp.SendMail(addr, a, from, to, msg)
}

// Alerter queues and delivers throttled alert emails. Each tenant gets
// its own token bucket so one noisy tenant's failures can't starve
// another tenant's notifications out of the shared queue.
type Alerter struct {
	st       store.Store
	notifier Notifier
	smtpAddr string
	from     string

	maxPerWindow int
	window       time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	jobs chan job
	wg   sync.WaitGroup
}

// New returns an Alerter that relays through smtpAddr as from, allowing
// at most maxPerWindow alert emails per tenant per window.
func New(st store.Store, smtpAddr, from string, maxPerWindow int, window time.Duration) *Alerter {
	return &Alerter{
		st:           st,
		notifier:     smtpNotifier{},
		smtpAddr:     smtpAddr,
		from:         from,
		maxPerWindow: maxPerWindow,
		window:       window,
		limiters:     make(map[string]*rate.Limiter),
		jobs:         make(chan job, queueDepth),
	}
}

// Run starts n delivery workers, draining the queue until ctx is done.
func (a *Alerter) Run(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		a.wg.Add(1)
		go a.worker(ctx)
	}
}

// Wait blocks until all workers have drained after ctx cancellation.
func (a *Alerter) Wait() {
	a.wg.Wait()
}

func (a *Alerter) worker(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-a.jobs:
			if !ok {
				return
			}
			a.deliver(ctx, j)
		}
	}
}

func (a *Alerter) limiterFor(tenantID string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(a.maxPerWindow)/a.window.Seconds()), a.maxPerWindow)
		a.limiters[tenantID] = l
	}
	return l
}

func (a *Alerter) enqueue(j job) {
	if !a.limiterFor(j.tenantID).Allow() {
		log.Printf("alert: throttled %v for tenant=%s", j.kind, j.tenantID)
		return
	}
	select {
	case a.jobs <- j:
	default:
		log.Printf("alert: queue full, dropping %v for tenant=%s", j.kind, j.tenantID)
	}
}

// EnqueueFailureAlert implements workerpool.AlertEnqueuer.
func (a *Alerter) EnqueueFailureAlert(tenantID string, task *store.Task, exec *store.Execution) {
	a.enqueue(job{
		kind:     kindTaskFailure,
		tenantID: tenantID,
		subject:  fmt.Sprintf("[webrelay] task %q failed", task.Name),
		body: fmt.Sprintf("Task %s (%s) failed on attempt %d with status %d: %s",
			task.Name, task.URL, exec.Attempt, exec.StatusCode, exec.ErrorMessage),
	})
}

// EnqueueRecoveryAlert implements workerpool.AlertEnqueuer.
func (a *Alerter) EnqueueRecoveryAlert(tenantID string, task *store.Task, exec *store.Execution) {
	a.enqueue(job{
		kind:     kindTaskRecovery,
		tenantID: tenantID,
		subject:  fmt.Sprintf("[webrelay] task %q recovered", task.Name),
		body:     fmt.Sprintf("Task %s (%s) succeeded after a prior failure.", task.Name, task.URL),
	})
}

// EnqueueMonitorDown implements monitorcheck.AlertEnqueuer.
func (a *Alerter) EnqueueMonitorDown(tenantID string, m *store.Monitor) {
	a.enqueue(job{
		kind:     kindMonitorDown,
		tenantID: tenantID,
		subject:  fmt.Sprintf("[webrelay] monitor %q is down", m.Name),
		body:     fmt.Sprintf("Monitor %s missed its expected ping as of %v.", m.Name, m.NextExpectedAt),
	})
}

// EnqueueMonitorRecovered implements monitorcheck.AlertEnqueuer.
func (a *Alerter) EnqueueMonitorRecovered(tenantID string, m *store.Monitor) {
	a.enqueue(job{
		kind:     kindMonitorRecovered,
		tenantID: tenantID,
		subject:  fmt.Sprintf("[webrelay] monitor %q recovered", m.Name),
		body:     fmt.Sprintf("Monitor %s received a ping and is back up.", m.Name),
	})
}

func (a *Alerter) deliver(ctx context.Context, j job) {
	tenant, err := a.st.GetTenant(ctx, j.tenantID)
	if err != nil {
		log.Printf("alert: lookup tenant %s: %v", j.tenantID, err)
		return
	}
	if tenant.AlertEmail == "" {
		return
	}
	switch j.kind {
	case kindTaskFailure, kindMonitorDown:
		if !tenant.NotifyOnFailure {
			return
		}
	case kindTaskRecovery, kindMonitorRecovered:
		if !tenant.NotifyOnRecovery {
			return
		}
	}

	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		a.from, tenant.AlertEmail, j.subject, j.body))
	if err := a.notifier.SendMail(a.smtpAddr, nil, a.from, []string{tenant.AlertEmail}, msg); err != nil {
		log.Printf("alert: send to %s: %v", tenant.AlertEmail, err)
	}
}

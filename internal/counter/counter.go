// Package counter tracks per-tenant monthly execution counts in memory,
// flushing accumulated deltas to the Store on a fixed tick instead of
// writing on every execution.
package counter

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/webrelay/webrelay/internal/observability"
	"github.com/webrelay/webrelay/internal/store"
)

// Counter accumulates per-tenant deltas and periodically flushes them.
type Counter struct {
	mu     sync.Mutex
	deltas map[string]int64
	st     store.Store
}

// New returns a Counter backed by st.
func New(st store.Store) *Counter {
	return &Counter{deltas: make(map[string]int64), st: st}
}

// Increment records one more counted execution for tenantID, to be
// flushed on the next tick.
func (c *Counter) Increment(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deltas[tenantID]++
}

// Pending returns the unflushed delta for tenantID, for combining with
// the persisted value when reporting "current month" usage.
func (c *Counter) Pending(tenantID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deltas[tenantID]
}

// Run flushes accumulated deltas to the Store every interval until ctx
// is cancelled.
func (c *Counter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Flush(ctx)
			return
		case <-ticker.C:
			c.Flush(ctx)
		}
	}
}

// Flush writes every nonzero delta to the Store, one UPDATE per tenant,
// and clears flushed deltas. Tenants whose flush fails keep their delta
// for the next tick rather than losing the count.
func (c *Counter) Flush(ctx context.Context) {
	c.mu.Lock()
	snapshot := c.deltas
	c.deltas = make(map[string]int64, len(snapshot))
	c.mu.Unlock()

	for tenantID, delta := range snapshot {
		if delta == 0 {
			continue
		}
		if err := c.st.BumpMonthlyCounter(ctx, tenantID, delta); err != nil {
			observability.CounterFlush.WithLabelValues("failure").Inc()
			log.Printf("counter: flush failed tenant=%s delta=%d err=%v", tenantID, delta, err)
			c.mu.Lock()
			c.deltas[tenantID] += delta
			c.mu.Unlock()
		} else {
			observability.CounterFlush.WithLabelValues("success").Inc()
		}
	}
}

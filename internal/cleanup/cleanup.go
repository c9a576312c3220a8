// Package cleanup periodically purges terminal executions, soft-deleted
// tasks past their grace period, and stale inbound events.
package cleanup

import (
	"context"
	"log"
	"time"

	"github.com/webrelay/webrelay/internal/observability"
	"github.com/webrelay/webrelay/internal/store"
)

// Config tunes retention windows and purge batching.
type Config struct {
	Interval             time.Duration
	RetentionDaysFree    int
	RetentionDaysPro     int
	SoftDeleteGraceDays  int
	InboundRetentionDays int
	BatchSize            int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:             time.Hour,
		RetentionDaysFree:    7,
		RetentionDaysPro:     30,
		SoftDeleteGraceDays:  30,
		InboundRetentionDays: 30,
		BatchSize:            500,
	}
}

// Cleaner owns the periodic purge job.
type Cleaner struct {
	st     store.Store
	config Config
}

// New returns a Cleaner backed by st.
func New(st store.Store, config Config) *Cleaner {
	return &Cleaner{st: st, config: config}
}

// Start runs the purge loop until ctx is cancelled.
func (c *Cleaner) Start(ctx context.Context) {
	go c.loop(ctx)
}

func (c *Cleaner) loop(ctx context.Context) {
	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Run(ctx, time.Now())
		}
	}
}

// Run executes one purge pass: terminal executions per tenant tier
// retention, inbound events past InboundRetentionDays (the same for every
// tier), then soft-deleted tasks past their global grace period. Never
// touches pending or running rows.
func (c *Cleaner) Run(ctx context.Context, now time.Time) {
	tenants, err := c.st.ListTenants(ctx)
	if err != nil {
		log.Printf("cleanup: list tenants: %v", err)
		return
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	for _, t := range tenants {
		if t.MonthlyExecutionResetAt.Before(monthStart) {
			if n, err := c.st.ResetMonthlyCounters(ctx, now); err != nil {
				log.Printf("cleanup: reset monthly counters: %v", err)
			} else {
				log.Printf("cleanup: reset monthly counters for %d tenants", n)
			}
			break
		}
	}

	for _, t := range tenants {
		retentionDays := c.config.RetentionDaysFree
		if t.Tier == store.TierPro {
			retentionDays = c.config.RetentionDaysPro
		}
		olderThan := now.AddDate(0, 0, -retentionDays)

		if purged, err := c.purgeAllBatches(ctx, t.ID, olderThan, c.st.PurgeTerminalExecutions); err != nil {
			log.Printf("cleanup: purge executions tenant=%s: %v", t.ID, err)
		} else if purged > 0 {
			observability.CleanupPurged.WithLabelValues("executions").Add(float64(purged))
			log.Printf("cleanup: purged %d terminal executions for tenant=%s", purged, t.ID)
		}

		inboundCutoff := now.AddDate(0, 0, -c.config.InboundRetentionDays)
		if purged, err := c.purgeAllBatches(ctx, t.ID, inboundCutoff, c.st.PurgeInboundEvents); err != nil {
			log.Printf("cleanup: purge inbound events tenant=%s: %v", t.ID, err)
		} else if purged > 0 {
			observability.CleanupPurged.WithLabelValues("inbound_events").Add(float64(purged))
			log.Printf("cleanup: purged %d inbound events for tenant=%s", purged, t.ID)
		}
	}

	graceCutoff := now.AddDate(0, 0, -c.config.SoftDeleteGraceDays)
	total := 0
	for {
		n, err := c.st.PurgeSoftDeletedTasks(ctx, graceCutoff, c.config.BatchSize)
		if err != nil {
			log.Printf("cleanup: purge soft-deleted tasks: %v", err)
			break
		}
		total += n
		if n < c.config.BatchSize {
			break
		}
	}
	if total > 0 {
		observability.CleanupPurged.WithLabelValues("tasks").Add(float64(total))
		log.Printf("cleanup: purged %d soft-deleted tasks past grace", total)
	}
}

type batchPurgeFunc func(ctx context.Context, tenantID string, olderThan time.Time, batch int) (int, error)

func (c *Cleaner) purgeAllBatches(ctx context.Context, tenantID string, olderThan time.Time, purge batchPurgeFunc) (int, error) {
	total := 0
	for {
		n, err := purge(ctx, tenantID, olderThan, c.config.BatchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n < c.config.BatchSize {
			return total, nil
		}
	}
}

// Package monitorcheck scans for overdue heartbeat monitors and records
// incoming pings against passive uptime monitors.
package monitorcheck

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/webrelay/webrelay/internal/cron"
	"github.com/webrelay/webrelay/internal/observability"
	"github.com/webrelay/webrelay/internal/store"
)

// ErrMonitorDisabled is returned by RecordPing when the token resolves to
// a disabled monitor.
var ErrMonitorDisabled = errors.New("monitor disabled")

// AlertEnqueuer accepts monitor up/down transition notifications.
type AlertEnqueuer interface {
	EnqueueMonitorDown(tenantID string, m *store.Monitor)
	EnqueueMonitorRecovered(tenantID string, m *store.Monitor)
}

// Checker periodically scans for overdue monitors and handles pings.
type Checker struct {
	st       store.Store
	alerts   AlertEnqueuer
	interval time.Duration
}

// New returns a Checker scanning every interval.
func New(st store.Store, alerts AlertEnqueuer, interval time.Duration) *Checker {
	return &Checker{st: st, alerts: alerts, interval: interval}
}

// Start runs the scan loop until ctx is cancelled.
func (c *Checker) Start(ctx context.Context) {
	go c.loop(ctx)
}

func (c *Checker) loop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ScanOverdue(ctx, time.Now())
		}
	}
}

// ScanOverdue transitions every monitor whose grace window has elapsed
// without a ping to down.
func (c *Checker) ScanOverdue(ctx context.Context, now time.Time) {
	monitors, err := c.st.ListOverdueMonitors(ctx, now)
	if err != nil {
		log.Printf("monitorcheck: list overdue: %v", err)
		return
	}
	for _, m := range monitors {
		if err := c.st.TransitionMonitorStatus(ctx, m.ID, store.MonitorDown); err != nil {
			log.Printf("monitorcheck: transition %s down: %v", m.ID, err)
			continue
		}
		observability.MonitorStatusTransitions.WithLabelValues("down").Inc()
		if c.alerts != nil && !m.Muted {
			c.alerts.EnqueueMonitorDown(m.TenantID, m)
		}
	}
}

// RecordPing resolves token to a monitor, records the ping, recomputes
// next_expected_at, and transitions the monitor to up, firing a
// recovery notification if it was previously down.
func (c *Checker) RecordPing(ctx context.Context, token string) (*store.Monitor, error) {
	m, err := c.st.GetMonitorByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !m.Enabled {
		return nil, ErrMonitorDisabled
	}

	now := time.Now()
	next, err := NextExpected(m, now)
	if err != nil {
		return nil, err
	}

	wasDown := m.Status == store.MonitorDown
	if err := c.st.RecordPing(ctx, m.ID, now, next, store.MonitorUp); err != nil {
		return nil, err
	}
	m.LastPingAt = &now
	m.NextExpectedAt = &next
	m.Status = store.MonitorUp
	observability.MonitorStatusTransitions.WithLabelValues("up").Inc()

	if wasDown && c.alerts != nil && !m.Muted {
		c.alerts.EnqueueMonitorRecovered(m.TenantID, m)
	}
	return m, nil
}

// NextExpected computes the next instant by which monitor m must receive a
// ping, given it last reset from from. Exported for engine.CreateMonitor,
// which needs the same computation when a monitor is first created.
func NextExpected(m *store.Monitor, from time.Time) (time.Time, error) {
	switch m.ScheduleType {
	case store.MonitorInterval:
		if m.IntervalSeconds <= 0 {
			return time.Time{}, fmt.Errorf("monitor %s has no interval_seconds", m.ID)
		}
		return from.Add(time.Duration(m.IntervalSeconds) * time.Second), nil
	case store.MonitorCron:
		return cron.NextAfter(m.CronExpression, from)
	default:
		return time.Time{}, fmt.Errorf("monitor %s has unknown schedule type %q", m.ID, m.ScheduleType)
	}
}

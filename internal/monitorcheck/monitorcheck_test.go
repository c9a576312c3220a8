package monitorcheck

import (
	"context"
	"testing"
	"time"

	"github.com/webrelay/webrelay/internal/store"
)

type fakeAlerts struct {
	down       []string
	recoveries []string
}

func (f *fakeAlerts) EnqueueMonitorDown(tenantID string, m *store.Monitor) {
	f.down = append(f.down, m.ID)
}

func (f *fakeAlerts) EnqueueMonitorRecovered(tenantID string, m *store.Monitor) {
	f.recoveries = append(f.recoveries, m.ID)
}

func seedMonitor(t *testing.T, st *store.MemoryStore, status store.MonitorStatus, nextExpected time.Time) *store.Monitor {
	t.Helper()
	m := &store.Monitor{
		ID:                 "mon1",
		TenantID:           "t1",
		Name:               "heartbeat",
		PingToken:          "tok1",
		ScheduleType:       store.MonitorInterval,
		IntervalSeconds:    3600,
		GracePeriodSeconds: 60,
		Status:             status,
		NextExpectedAt:     &nextExpected,
		Enabled:            true,
	}
	if err := st.CreateMonitor(context.Background(), m); err != nil {
		t.Fatalf("CreateMonitor: %v", err)
	}
	return m
}

func TestScanOverdueTransitionsToDownAndAlerts(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now()
	seedMonitor(t, st, store.MonitorUp, now.Add(-2*time.Minute))

	alerts := &fakeAlerts{}
	c := New(st, alerts, time.Second)
	c.ScanOverdue(context.Background(), now)

	m, err := st.GetMonitorByToken(context.Background(), "tok1")
	if err != nil {
		t.Fatalf("GetMonitorByToken: %v", err)
	}
	if m.Status != store.MonitorDown {
		t.Errorf("status = %s, want down", m.Status)
	}
	if len(alerts.down) != 1 {
		t.Errorf("expected 1 down alert, got %d", len(alerts.down))
	}
}

func TestScanOverdueSkipsWithinGrace(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now()
	seedMonitor(t, st, store.MonitorUp, now.Add(-30*time.Second))

	alerts := &fakeAlerts{}
	c := New(st, alerts, time.Second)
	c.ScanOverdue(context.Background(), now)

	m, _ := st.GetMonitorByToken(context.Background(), "tok1")
	if m.Status != store.MonitorUp {
		t.Errorf("status = %s, want still up within grace", m.Status)
	}
}

func TestRecordPingTransitionsUpAndComputesNextExpected(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now()
	seedMonitor(t, st, store.MonitorNew, now.Add(time.Hour))

	alerts := &fakeAlerts{}
	c := New(st, alerts, time.Second)

	m, err := c.RecordPing(context.Background(), "tok1")
	if err != nil {
		t.Fatalf("RecordPing: %v", err)
	}
	if m.Status != store.MonitorUp {
		t.Errorf("status = %s, want up", m.Status)
	}
	if m.NextExpectedAt == nil || !m.NextExpectedAt.After(time.Now().Add(59*time.Minute)) {
		t.Errorf("expected next_expected_at roughly 1h out, got %v", m.NextExpectedAt)
	}
}

func TestRecordPingFiresRecoveryWhenPreviouslyDown(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now()
	seedMonitor(t, st, store.MonitorDown, now.Add(-time.Hour))

	alerts := &fakeAlerts{}
	c := New(st, alerts, time.Second)

	if _, err := c.RecordPing(context.Background(), "tok1"); err != nil {
		t.Fatalf("RecordPing: %v", err)
	}
	if len(alerts.recoveries) != 1 {
		t.Errorf("expected 1 recovery alert, got %d", len(alerts.recoveries))
	}
}

func TestRecordPingRejectsUnknownToken(t *testing.T) {
	st := store.NewMemoryStore()
	c := New(st, nil, time.Second)
	if _, err := c.RecordPing(context.Background(), "missing"); err != store.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

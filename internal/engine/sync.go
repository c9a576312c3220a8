package engine

import (
	"context"

	"github.com/webrelay/webrelay/internal/store"
)

// SyncSpec is the desired state for one tenant's tasks, monitors, and
// endpoints. Each section is optional; omitted sections are left
// untouched. DeleteRemoved, when true, removes existing items of a
// section that aren't named in the desired list.
type SyncSpec struct {
	Tasks         []*store.Task
	Monitors      []*store.Monitor
	Endpoints     []*store.Endpoint
	DeleteRemoved bool
}

// SyncResult tallies what Sync did, per kind.
type SyncResult struct {
	TasksApplied      int
	TasksFailed       int
	TasksRemoved      int
	MonitorsApplied   int
	MonitorsFailed    int
	MonitorsRemoved   int
	EndpointsApplied  int
	EndpointsFailed   int
	EndpointsRemoved  int
}

// Sync reconciles tenant's tasks/monitors/endpoints against spec, matching
// existing rows to desired rows by name within (tenant, kind): an existing
// row with a matching name is updated, an unmatched desired row is
// created, and (if DeleteRemoved) an existing row with no matching desired
// entry is removed.
func (s *Service) Sync(ctx context.Context, tenantID string, spec SyncSpec) (*SyncResult, error) {
	result := &SyncResult{}

	if spec.Tasks != nil {
		existing, err := s.st.ListTasks(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		byName := make(map[string]*store.Task, len(existing))
		for _, t := range existing {
			byName[t.Name] = t
		}
		seen := make(map[string]bool, len(spec.Tasks))
		for _, desired := range spec.Tasks {
			seen[desired.Name] = true
			if cur, ok := byName[desired.Name]; ok {
				if err := s.syncTask(ctx, tenantID, cur, desired); err != nil {
					result.TasksFailed++
					continue
				}
				result.TasksApplied++
			} else {
				if _, err := s.CreateTask(ctx, tenantID, desired); err != nil {
					result.TasksFailed++
					continue
				}
				result.TasksApplied++
			}
		}
		if spec.DeleteRemoved {
			for name, t := range byName {
				if seen[name] {
					continue
				}
				if err := s.st.SoftDeleteTask(ctx, tenantID, t.ID); err != nil {
					result.TasksFailed++
					continue
				}
				result.TasksRemoved++
			}
		}
	}

	if spec.Monitors != nil {
		existing, err := s.st.ListMonitors(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		byName := make(map[string]*store.Monitor, len(existing))
		for _, m := range existing {
			byName[m.Name] = m
		}
		seen := make(map[string]bool, len(spec.Monitors))
		for _, desired := range spec.Monitors {
			seen[desired.Name] = true
			if cur, ok := byName[desired.Name]; ok {
				patch := store.MonitorPatch{
					IntervalSeconds:    intPtrIfNonZero(desired.IntervalSeconds),
					CronExpression:     strPtrIfNonEmpty(desired.CronExpression),
					GracePeriodSeconds: intPtrIfNonZero(desired.GracePeriodSeconds),
				}
				if err := s.UpdateMonitor(ctx, tenantID, cur.ID, patch); err != nil {
					result.MonitorsFailed++
					continue
				}
				result.MonitorsApplied++
			} else {
				if _, err := s.CreateMonitor(ctx, tenantID, desired); err != nil {
					result.MonitorsFailed++
					continue
				}
				result.MonitorsApplied++
			}
		}
		if spec.DeleteRemoved {
			for name, m := range byName {
				if seen[name] {
					continue
				}
				if err := s.st.DeleteMonitor(ctx, tenantID, m.ID); err != nil {
					result.MonitorsFailed++
					continue
				}
				result.MonitorsRemoved++
			}
		}
	}

	if spec.Endpoints != nil {
		existing, err := s.st.ListEndpoints(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		byName := make(map[string]*store.Endpoint, len(existing))
		for _, e := range existing {
			byName[e.Name] = e
		}
		seen := make(map[string]bool, len(spec.Endpoints))
		for _, desired := range spec.Endpoints {
			seen[desired.Name] = true
			if cur, ok := byName[desired.Name]; ok {
				patch := store.EndpointPatch{
					ForwardURLs:   desired.ForwardURLs,
					OnFailureURL:  strPtrIfNonEmpty(desired.OnFailureURL),
					OnRecoveryURL: strPtrIfNonEmpty(desired.OnRecoveryURL),
				}
				if err := s.UpdateEndpoint(ctx, tenantID, cur.ID, patch); err != nil {
					result.EndpointsFailed++
					continue
				}
				result.EndpointsApplied++
			} else {
				if _, err := s.CreateEndpoint(ctx, tenantID, desired); err != nil {
					result.EndpointsFailed++
					continue
				}
				result.EndpointsApplied++
			}
		}
		if spec.DeleteRemoved {
			for name, e := range byName {
				if seen[name] {
					continue
				}
				if err := s.st.DeleteEndpoint(ctx, tenantID, e.ID); err != nil {
					result.EndpointsFailed++
					continue
				}
				result.EndpointsRemoved++
			}
		}
	}

	total := result.TasksFailed + result.MonitorsFailed + result.EndpointsFailed
	if total > 0 {
		return result, &SyncError{
			Total:   total + result.TasksApplied + result.MonitorsApplied + result.EndpointsApplied,
			Applied: result.TasksApplied + result.MonitorsApplied + result.EndpointsApplied,
			Failed:  total,
		}
	}
	return result, nil
}

func (s *Service) syncTask(ctx context.Context, tenantID string, cur, desired *store.Task) error {
	patch := store.TaskPatch{
		URL:                 strPtrIfNonEmpty(desired.URL),
		Method:              strPtrIfNonEmpty(desired.Method),
		Body:                &desired.Body,
		CronExpression:      strPtrIfNonEmpty(desired.CronExpression),
		Queue:               strPtrIfNonEmpty(desired.Queue),
		TimeoutMS:           intPtrIfNonZero(desired.TimeoutMS),
		RetryAttempts:       intPtrIfNonZero(desired.RetryAttempts),
		ExpectedStatusCodes: strPtrIfNonEmpty(desired.ExpectedStatusCodes),
		ExpectedBodyPattern: strPtrIfNonEmpty(desired.ExpectedBodyPattern),
		CallbackURL:         strPtrIfNonEmpty(desired.CallbackURL),
	}
	if len(desired.Headers) > 0 {
		patch.Headers = desired.Headers
	}
	return s.UpdateTask(ctx, tenantID, cur.ID, patch, cur.Version)
}

func strPtrIfNonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func intPtrIfNonZero(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

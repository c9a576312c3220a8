package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using a PostgreSQL backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a new PostgresStore with a connection pool.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	// Tuned for worker-pool-driven load: claim contention dominates, so the
	// pool stays warm rather than cycling connections.
	config.MaxConns = 50
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func marshalHeaders(h Headers) ([]byte, error) {
	if h == nil {
		h = Headers{}
	}
	return json.Marshal(h)
}

// --- Task operations ---

func (s *PostgresStore) CreateTask(ctx context.Context, t *Task) error {
	headersJSON, err := marshalHeaders(t.Headers)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO tasks (id, tenant_id, name, url, method, headers, body, schedule_type,
			cron_expression, scheduled_at, enabled, queue, timeout_ms, retry_attempts,
			expected_status_codes, expected_body_pattern, callback_url, alert_on_failure,
			alert_on_recovery, muted, interval_minutes, next_run_at, inserted_at, updated_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,NOW(),NOW(),1)
	`
	_, err = s.pool.Exec(ctx, query,
		t.ID, t.TenantID, t.Name, t.URL, t.Method, headersJSON, t.Body, t.ScheduleType,
		t.CronExpression, t.ScheduledAt, t.Enabled, t.Queue, t.TimeoutMS, t.RetryAttempts,
		t.ExpectedStatusCodes, t.ExpectedBodyPattern, t.CallbackURL, t.AlertOnFailure,
		t.AlertOnRecovery, t.Muted, t.IntervalMinutes, t.NextRunAt,
	)
	return err
}

func (s *PostgresStore) UpdateTask(ctx context.Context, tenantID, taskID string, patch TaskPatch, expectedVersion int) error {
	// Build the SET clause incrementally; the WHERE version = $N guard
	// keeps the update optimistic.
	sets := []string{"updated_at = NOW()", "version = version + 1"}
	args := []interface{}{}
	argN := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, argN))
		args = append(args, val)
		argN++
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.URL != nil {
		add("url", *patch.URL)
	}
	if patch.Method != nil {
		add("method", *patch.Method)
	}
	if patch.Headers != nil {
		hj, err := marshalHeaders(patch.Headers)
		if err != nil {
			return err
		}
		add("headers", hj)
	}
	if patch.Body != nil {
		add("body", *patch.Body)
	}
	if patch.CronExpression != nil {
		add("cron_expression", *patch.CronExpression)
	}
	if patch.ScheduledAt != nil {
		add("scheduled_at", *patch.ScheduledAt)
	}
	if patch.Queue != nil {
		add("queue", *patch.Queue)
	}
	if patch.TimeoutMS != nil {
		add("timeout_ms", *patch.TimeoutMS)
	}
	if patch.RetryAttempts != nil {
		add("retry_attempts", *patch.RetryAttempts)
	}
	if patch.ExpectedStatusCodes != nil {
		add("expected_status_codes", *patch.ExpectedStatusCodes)
	}
	if patch.ExpectedBodyPattern != nil {
		add("expected_body_pattern", *patch.ExpectedBodyPattern)
	}
	if patch.CallbackURL != nil {
		add("callback_url", *patch.CallbackURL)
	}
	if patch.AlertOnFailure != nil {
		add("alert_on_failure", *patch.AlertOnFailure)
	}
	if patch.AlertOnRecovery != nil {
		add("alert_on_recovery", *patch.AlertOnRecovery)
	}
	if patch.Muted != nil {
		add("muted", *patch.Muted)
	}

	query := fmt.Sprintf(
		"UPDATE tasks SET %s WHERE id = $%d AND tenant_id = $%d AND version = $%d AND deleted_at IS NULL",
		joinSets(sets), argN, argN+1, argN+2,
	)
	args = append(args, taskID, tenantID, expectedVersion)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

func (s *PostgresStore) SoftDeleteTask(ctx context.Context, tenantID, taskID string) error {
	query := `UPDATE tasks SET deleted_at = NOW(), enabled = false, next_run_at = NULL, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`
	tag, err := s.pool.Exec(ctx, query, taskID, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ToggleTask(ctx context.Context, tenantID, taskID string, enabled bool) error {
	query := `UPDATE tasks SET enabled = $1, updated_at = NOW() WHERE id = $2 AND tenant_id = $3 AND deleted_at IS NULL`
	tag, err := s.pool.Exec(ctx, query, enabled, taskID, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, tenantID, taskID string) (*Task, error) {
	query := `
		SELECT id, tenant_id, name, url, method, headers, body, schedule_type, cron_expression,
			scheduled_at, enabled, queue, timeout_ms, retry_attempts, expected_status_codes,
			expected_body_pattern, callback_url, alert_on_failure, alert_on_recovery, muted,
			deleted_at, interval_minutes, next_run_at, inserted_at, updated_at, version
		FROM tasks WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`
	return scanTaskRow(s.pool.QueryRow(ctx, query, taskID, tenantID))
}

func (s *PostgresStore) ListTasks(ctx context.Context, tenantID string) ([]*Task, error) {
	query := `
		SELECT id, tenant_id, name, url, method, headers, body, schedule_type, cron_expression,
			scheduled_at, enabled, queue, timeout_ms, retry_attempts, expected_status_codes,
			expected_body_pattern, callback_url, alert_on_failure, alert_on_recovery, muted,
			deleted_at, interval_minutes, next_run_at, inserted_at, updated_at, version
		FROM tasks WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY inserted_at
	`
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *PostgresStore) ListDueTasks(ctx context.Context, now time.Time, lookahead time.Duration) ([]*Task, error) {
	query := `
		SELECT id, tenant_id, name, url, method, headers, body, schedule_type, cron_expression,
			scheduled_at, enabled, queue, timeout_ms, retry_attempts, expected_status_codes,
			expected_body_pattern, callback_url, alert_on_failure, alert_on_recovery, muted,
			deleted_at, interval_minutes, next_run_at, inserted_at, updated_at, version
		FROM tasks
		WHERE enabled = true AND deleted_at IS NULL AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at
	`
	rows, err := s.pool.Query(ctx, query, now.Add(lookahead))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *PostgresStore) AdvanceNextRun(ctx context.Context, taskID string, nextRunAt *time.Time, expectedVersion int) error {
	query := `UPDATE tasks SET next_run_at = $1, updated_at = NOW(), version = version + 1
		WHERE id = $2 AND version = $3`
	tag, err := s.pool.Exec(ctx, query, nextRunAt, taskID, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) SoftDeleteTasksByQueue(ctx context.Context, tenantID, queue string) (int, error) {
	query := `UPDATE tasks SET deleted_at = NOW(), enabled = false, next_run_at = NULL, updated_at = NOW()
		WHERE tenant_id = $1 AND queue = $2 AND deleted_at IS NULL`
	tag, err := s.pool.Exec(ctx, query, tenantID, queue)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) PurgeSoftDeletedTasks(ctx context.Context, olderThan time.Time, batch int) (int, error) {
	query := `
		WITH purged AS (
			SELECT id FROM tasks WHERE deleted_at IS NOT NULL AND deleted_at < $1 LIMIT $2
		), deleted_execs AS (
			DELETE FROM executions WHERE task_id IN (SELECT id FROM purged)
		)
		DELETE FROM tasks WHERE id IN (SELECT id FROM purged)
	`
	tag, err := s.pool.Exec(ctx, query, olderThan, batch)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanTaskRow(row pgx.Row) (*Task, error) {
	var t Task
	var headersJSON []byte
	err := row.Scan(
		&t.ID, &t.TenantID, &t.Name, &t.URL, &t.Method, &headersJSON, &t.Body, &t.ScheduleType,
		&t.CronExpression, &t.ScheduledAt, &t.Enabled, &t.Queue, &t.TimeoutMS, &t.RetryAttempts,
		&t.ExpectedStatusCodes, &t.ExpectedBodyPattern, &t.CallbackURL, &t.AlertOnFailure,
		&t.AlertOnRecovery, &t.Muted, &t.DeletedAt, &t.IntervalMinutes, &t.NextRunAt,
		&t.InsertedAt, &t.UpdatedAt, &t.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &t.Headers); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

// --- Execution operations ---

func (s *PostgresStore) CreateExecution(ctx context.Context, e *Execution) error {
	query := `
		INSERT INTO executions (id, task_id, tenant_id, status, scheduled_for, attempt, callback_url, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
		ON CONFLICT (task_id, scheduled_for) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query, e.ID, e.TaskID, e.TenantID, e.Status, e.ScheduledFor, e.Attempt, e.CallbackURL)
	return err
}

// ClaimNextExecution returns at most one claimable execution,
// atomically transitioned pending -> running, honoring
// task enablement, queue pause state, and per-queue FIFO. FOR UPDATE SKIP
// LOCKED lets concurrent claimers skip rows another transaction already has
// locked instead of blocking on them, so no two workers ever observe the
// same candidate row.
func (s *PostgresStore) ClaimNextExecution(ctx context.Context) (*Execution, *Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	const claimQuery = `
		SELECT e.id, e.task_id, e.tenant_id, e.status, e.scheduled_for, e.attempt, e.callback_url, e.created_at
		FROM executions e
		JOIN tasks t ON t.id = e.task_id
		LEFT JOIN queue_states q ON q.tenant_id = e.tenant_id AND q.queue = t.queue AND t.queue <> ''
		WHERE e.status = 'pending'
		  AND e.scheduled_for <= NOW()
		  AND t.deleted_at IS NULL
		  AND t.enabled = true
		  AND (q.paused IS NULL OR q.paused = false)
		  AND NOT EXISTS (
		      SELECT 1 FROM executions e2
		      JOIN tasks t2 ON t2.id = e2.task_id
		      WHERE t2.tenant_id = e.tenant_id
		        AND t2.queue = t.queue
		        AND t.queue <> ''
		        AND (
		            e2.status = 'running'
		            OR (e2.status = 'pending' AND (e2.created_at, e2.id) < (e.created_at, e.id))
		        )
		  )
		ORDER BY e.scheduled_for, e.created_at
		FOR UPDATE OF e SKIP LOCKED
		LIMIT 1
	`
	var e Execution
	err = tx.QueryRow(ctx, claimQuery).Scan(
		&e.ID, &e.TaskID, &e.TenantID, &e.Status, &e.ScheduledFor, &e.Attempt, &e.CallbackURL, &e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNoWork
	}
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	_, err = tx.Exec(ctx, `UPDATE executions SET status = 'running', started_at = $1 WHERE id = $2 AND status = 'pending'`, now, e.ID)
	if err != nil {
		return nil, nil, err
	}
	e.Status = ExecRunning
	e.StartedAt = &now

	task, err := scanTaskRow(tx.QueryRow(ctx, `
		SELECT id, tenant_id, name, url, method, headers, body, schedule_type, cron_expression,
			scheduled_at, enabled, queue, timeout_ms, retry_attempts, expected_status_codes,
			expected_body_pattern, callback_url, alert_on_failure, alert_on_recovery, muted,
			deleted_at, interval_minutes, next_run_at, inserted_at, updated_at, version
		FROM tasks WHERE id = $1`, e.TaskID))
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return &e, task, nil
}

func (s *PostgresStore) UpdateExecutionTerminal(ctx context.Context, execID string, patch ExecutionTerminalPatch) error {
	query := `
		UPDATE executions SET status = $1, finished_at = $2, status_code = $3, duration_ms = $4,
			response_body = $5, error_message = $6
		WHERE id = $7
	`
	tag, err := s.pool.Exec(ctx, query, patch.Status, patch.FinishedAt, patch.StatusCode, patch.DurationMS,
		patch.ResponseBody, patch.ErrorMessage, execID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Poison execution: row gone (deleted by cleanup, or cancelled
		// concurrently). Callers swallow this per the error taxonomy.
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RescheduleExecution(ctx context.Context, execID string, scheduledFor time.Time) error {
	query := `UPDATE executions SET status = 'pending', scheduled_for = $1, started_at = NULL WHERE id = $2`
	_, err := s.pool.Exec(ctx, query, scheduledFor, execID)
	return err
}

func (s *PostgresStore) ListExecutions(ctx context.Context, tenantID, taskID string, limit int) ([]*Execution, error) {
	query := `
		SELECT id, task_id, tenant_id, status, scheduled_for, started_at, finished_at, status_code,
			duration_ms, response_body, error_message, attempt, callback_url, created_at
		FROM executions WHERE tenant_id = $1 AND task_id = $2 ORDER BY created_at DESC LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, tenantID, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Execution
	for rows.Next() {
		var e Execution
		if err := rows.Scan(&e.ID, &e.TaskID, &e.TenantID, &e.Status, &e.ScheduledFor, &e.StartedAt,
			&e.FinishedAt, &e.StatusCode, &e.DurationMS, &e.ResponseBody, &e.ErrorMessage, &e.Attempt,
			&e.CallbackURL, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, nil
}

func (s *PostgresStore) CountPendingExecutions(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM executions WHERE status = 'pending' AND scheduled_for <= NOW()`).Scan(&n)
	return n, err
}

func (s *PostgresStore) CancelByQueue(ctx context.Context, tenantID, queue string) (int, error) {
	query := `
		UPDATE executions e SET status = 'cancelled', finished_at = NOW()
		FROM tasks t
		WHERE e.task_id = t.id AND t.tenant_id = $1 AND t.queue = $2 AND e.status = 'pending'
	`
	tag, err := s.pool.Exec(ctx, query, tenantID, queue)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) SweepOrphanedRunning(ctx context.Context, olderThan time.Time) (int, error) {
	query := `
		UPDATE executions e SET status = 'timeout', finished_at = NOW()
		FROM tasks t
		WHERE e.task_id = t.id AND e.status = 'running' AND e.started_at IS NOT NULL
		  AND e.started_at + (t.timeout_ms || ' milliseconds')::interval < $1
	`
	tag, err := s.pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) PurgeTerminalExecutions(ctx context.Context, tenantID string, olderThan time.Time, batch int) (int, error) {
	query := `
		DELETE FROM executions WHERE id IN (
			SELECT id FROM executions
			WHERE tenant_id = $1
			  AND status IN ('success','failed','timeout','missed','cancelled')
			  AND COALESCE(finished_at, scheduled_for) < $2
			LIMIT $3
		)
	`
	tag, err := s.pool.Exec(ctx, query, tenantID, olderThan, batch)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// --- Usage counter operations ---

func (s *PostgresStore) BumpMonthlyCounter(ctx context.Context, tenantID string, delta int64) error {
	if delta == 0 {
		return nil
	}
	query := `UPDATE tenants SET monthly_execution_count = monthly_execution_count + $1, updated_at = NOW() WHERE id = $2`
	_, err := s.pool.Exec(ctx, query, delta, tenantID)
	return err
}

func (s *PostgresStore) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	query := `
		SELECT id, tier, webhook_secret, monthly_execution_count, monthly_execution_reset_at,
			notify_on_failure, notify_on_recovery, alert_email, created_at, updated_at
		FROM tenants WHERE id = $1
	`
	var t Tenant
	err := s.pool.QueryRow(ctx, query, tenantID).Scan(
		&t.ID, &t.Tier, &t.WebhookSecret, &t.MonthlyExecutionCount, &t.MonthlyExecutionResetAt,
		&t.NotifyOnFailure, &t.NotifyOnRecovery, &t.AlertEmail, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) ListTenants(ctx context.Context) ([]*Tenant, error) {
	query := `
		SELECT id, tier, webhook_secret, monthly_execution_count, monthly_execution_reset_at,
			notify_on_failure, notify_on_recovery, alert_email, created_at, updated_at
		FROM tenants
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(
			&t.ID, &t.Tier, &t.WebhookSecret, &t.MonthlyExecutionCount, &t.MonthlyExecutionResetAt,
			&t.NotifyOnFailure, &t.NotifyOnRecovery, &t.AlertEmail, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ResetMonthlyCounters(ctx context.Context, now time.Time) (int, error) {
	query := `UPDATE tenants SET monthly_execution_count = 0, monthly_execution_reset_at = $1`
	tag, err := s.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// --- Monitor operations ---

func (s *PostgresStore) CreateMonitor(ctx context.Context, m *Monitor) error {
	query := `
		INSERT INTO monitors (id, tenant_id, name, ping_token, schedule_type, interval_seconds,
			cron_expression, grace_period_seconds, status, enabled, muted, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW(),NOW())
	`
	_, err := s.pool.Exec(ctx, query, m.ID, m.TenantID, m.Name, m.PingToken, m.ScheduleType,
		m.IntervalSeconds, m.CronExpression, m.GracePeriodSeconds, m.Status, m.Enabled, m.Muted)
	return err
}

func (s *PostgresStore) UpdateMonitor(ctx context.Context, tenantID, monitorID string, patch MonitorPatch) error {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{}
	argN := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, argN))
		args = append(args, val)
		argN++
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.IntervalSeconds != nil {
		add("interval_seconds", *patch.IntervalSeconds)
	}
	if patch.CronExpression != nil {
		add("cron_expression", *patch.CronExpression)
	}
	if patch.GracePeriodSeconds != nil {
		add("grace_period_seconds", *patch.GracePeriodSeconds)
	}
	if patch.Muted != nil {
		add("muted", *patch.Muted)
	}
	query := fmt.Sprintf("UPDATE monitors SET %s WHERE id = $%d AND tenant_id = $%d", joinSets(sets), argN, argN+1)
	args = append(args, monitorID, tenantID)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteMonitor(ctx context.Context, tenantID, monitorID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM monitors WHERE id = $1 AND tenant_id = $2`, monitorID, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ToggleMonitor(ctx context.Context, tenantID, monitorID string, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE monitors SET enabled = $1, updated_at = NOW() WHERE id = $2 AND tenant_id = $3`,
		enabled, monitorID, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetMonitorByToken(ctx context.Context, token string) (*Monitor, error) {
	query := `
		SELECT id, tenant_id, name, ping_token, schedule_type, interval_seconds, cron_expression,
			grace_period_seconds, status, last_ping_at, next_expected_at, enabled, muted, created_at, updated_at
		FROM monitors WHERE ping_token = $1
	`
	return scanMonitorRow(s.pool.QueryRow(ctx, query, token))
}

func (s *PostgresStore) ListMonitors(ctx context.Context, tenantID string) ([]*Monitor, error) {
	query := `
		SELECT id, tenant_id, name, ping_token, schedule_type, interval_seconds, cron_expression,
			grace_period_seconds, status, last_ping_at, next_expected_at, enabled, muted, created_at, updated_at
		FROM monitors WHERE tenant_id = $1 ORDER BY created_at
	`
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Monitor
	for rows.Next() {
		m, err := scanMonitorRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *PostgresStore) ListOverdueMonitors(ctx context.Context, now time.Time) ([]*Monitor, error) {
	query := `
		SELECT id, tenant_id, name, ping_token, schedule_type, interval_seconds, cron_expression,
			grace_period_seconds, status, last_ping_at, next_expected_at, enabled, muted, created_at, updated_at
		FROM monitors
		WHERE enabled = true AND status IN ('up','new')
		  AND next_expected_at IS NOT NULL
		  AND next_expected_at + (grace_period_seconds || ' seconds')::interval < $1
	`
	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Monitor
	for rows.Next() {
		m, err := scanMonitorRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *PostgresStore) RecordPing(ctx context.Context, monitorID string, pingAt, nextExpectedAt time.Time, status MonitorStatus) error {
	query := `UPDATE monitors SET last_ping_at = $1, next_expected_at = $2, status = $3, updated_at = NOW() WHERE id = $4`
	_, err := s.pool.Exec(ctx, query, pingAt, nextExpectedAt, status, monitorID)
	return err
}

func (s *PostgresStore) TransitionMonitorStatus(ctx context.Context, monitorID string, status MonitorStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE monitors SET status = $1, updated_at = NOW() WHERE id = $2`, status, monitorID)
	return err
}

func scanMonitorRow(row pgx.Row) (*Monitor, error) {
	var m Monitor
	err := row.Scan(&m.ID, &m.TenantID, &m.Name, &m.PingToken, &m.ScheduleType, &m.IntervalSeconds,
		&m.CronExpression, &m.GracePeriodSeconds, &m.Status, &m.LastPingAt, &m.NextExpectedAt,
		&m.Enabled, &m.Muted, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// --- Endpoint + inbound event operations ---

func (s *PostgresStore) CreateEndpoint(ctx context.Context, e *Endpoint) error {
	query := `
		INSERT INTO endpoints (id, tenant_id, name, slug, forward_urls, use_queue, retry_attempts,
			on_failure_url, on_recovery_url, enabled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW())
	`
	_, err := s.pool.Exec(ctx, query, e.ID, e.TenantID, e.Name, e.Slug, e.ForwardURLs, e.UseQueue,
		e.RetryAttempts, e.OnFailureURL, e.OnRecoveryURL, e.Enabled)
	return err
}

func (s *PostgresStore) UpdateEndpoint(ctx context.Context, tenantID, endpointID string, patch EndpointPatch) error {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{}
	argN := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, argN))
		args = append(args, val)
		argN++
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.ForwardURLs != nil {
		add("forward_urls", patch.ForwardURLs)
	}
	if patch.UseQueue != nil {
		add("use_queue", *patch.UseQueue)
	}
	if patch.RetryAttempts != nil {
		add("retry_attempts", *patch.RetryAttempts)
	}
	if patch.OnFailureURL != nil {
		add("on_failure_url", *patch.OnFailureURL)
	}
	if patch.OnRecoveryURL != nil {
		add("on_recovery_url", *patch.OnRecoveryURL)
	}
	if patch.Enabled != nil {
		add("enabled", *patch.Enabled)
	}
	query := fmt.Sprintf("UPDATE endpoints SET %s WHERE id = $%d AND tenant_id = $%d", joinSets(sets), argN, argN+1)
	args = append(args, endpointID, tenantID)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteEndpoint(ctx context.Context, tenantID, endpointID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM endpoints WHERE id = $1 AND tenant_id = $2`, endpointID, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetEndpointBySlug(ctx context.Context, slug string) (*Endpoint, error) {
	query := `
		SELECT id, tenant_id, name, slug, forward_urls, use_queue, retry_attempts,
			on_failure_url, on_recovery_url, enabled, created_at, updated_at
		FROM endpoints WHERE slug = $1
	`
	var e Endpoint
	err := s.pool.QueryRow(ctx, query, slug).Scan(&e.ID, &e.TenantID, &e.Name, &e.Slug, &e.ForwardURLs,
		&e.UseQueue, &e.RetryAttempts, &e.OnFailureURL, &e.OnRecoveryURL, &e.Enabled, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) ListEndpoints(ctx context.Context, tenantID string) ([]*Endpoint, error) {
	query := `
		SELECT id, tenant_id, name, slug, forward_urls, use_queue, retry_attempts,
			on_failure_url, on_recovery_url, enabled, created_at, updated_at
		FROM endpoints WHERE tenant_id = $1 ORDER BY created_at
	`
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Endpoint
	for rows.Next() {
		var e Endpoint
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Name, &e.Slug, &e.ForwardURLs, &e.UseQueue,
			&e.RetryAttempts, &e.OnFailureURL, &e.OnRecoveryURL, &e.Enabled, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, nil
}

func (s *PostgresStore) CreateInboundEvent(ctx context.Context, e *InboundEvent) error {
	headersJSON, err := marshalHeaders(e.Headers)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO inbound_events (id, endpoint_id, tenant_id, method, headers, body, source_ip, received_at, task_ids)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),$8)
	`
	_, err = s.pool.Exec(ctx, query, e.ID, e.EndpointID, e.TenantID, e.Method, headersJSON, e.Body, e.SourceIP, e.TaskIDs)
	return err
}

func (s *PostgresStore) GetInboundEvent(ctx context.Context, tenantID, eventID string) (*InboundEvent, error) {
	query := `
		SELECT id, endpoint_id, tenant_id, method, headers, body, source_ip, received_at, task_ids
		FROM inbound_events WHERE id = $1 AND tenant_id = $2
	`
	var e InboundEvent
	var headersJSON []byte
	err := s.pool.QueryRow(ctx, query, eventID, tenantID).Scan(
		&e.ID, &e.EndpointID, &e.TenantID, &e.Method, &headersJSON, &e.Body, &e.SourceIP, &e.ReceivedAt, &e.TaskIDs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &e.Headers); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func (s *PostgresStore) RecordEventTaskIDs(ctx context.Context, eventID string, taskIDs []string) error {
	_, err := s.pool.Exec(ctx, `UPDATE inbound_events SET task_ids = $1 WHERE id = $2`, taskIDs, eventID)
	return err
}

func (s *PostgresStore) PurgeInboundEvents(ctx context.Context, tenantID string, olderThan time.Time, batch int) (int, error) {
	query := `
		DELETE FROM inbound_events WHERE id IN (
			SELECT id FROM inbound_events WHERE tenant_id = $1 AND received_at < $2 LIMIT $3
		)
	`
	tag, err := s.pool.Exec(ctx, query, tenantID, olderThan, batch)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// --- Queue operations ---

func (s *PostgresStore) PauseQueue(ctx context.Context, tenantID, queue string) error {
	query := `
		INSERT INTO queue_states (tenant_id, queue, paused) VALUES ($1, $2, true)
		ON CONFLICT (tenant_id, queue) DO UPDATE SET paused = true
	`
	_, err := s.pool.Exec(ctx, query, tenantID, queue)
	return err
}

func (s *PostgresStore) ResumeQueue(ctx context.Context, tenantID, queue string) error {
	query := `
		INSERT INTO queue_states (tenant_id, queue, paused) VALUES ($1, $2, false)
		ON CONFLICT (tenant_id, queue) DO UPDATE SET paused = false
	`
	_, err := s.pool.Exec(ctx, query, tenantID, queue)
	return err
}

func (s *PostgresStore) IsQueuePaused(ctx context.Context, tenantID, queue string) (bool, error) {
	var paused bool
	err := s.pool.QueryRow(ctx, `SELECT paused FROM queue_states WHERE tenant_id = $1 AND queue = $2`, tenantID, queue).Scan(&paused)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return paused, err
}

// --- Coordination support ---

func (s *PostgresStore) IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	query := `
		INSERT INTO leader_epochs (resource_id, epoch)
		VALUES ($1, 1)
		ON CONFLICT (resource_id) DO UPDATE SET epoch = leader_epochs.epoch + 1
		RETURNING epoch
	`
	var epoch int64
	err := s.pool.QueryRow(ctx, query, resourceID).Scan(&epoch)
	return epoch, err
}

func (s *PostgresStore) GetDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	var epoch int64
	err := s.pool.QueryRow(ctx, `SELECT epoch FROM leader_epochs WHERE resource_id = $1`, resourceID).Scan(&epoch)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return epoch, err
}

package store

import "time"

// Tier is a tenant's plan tier.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Tenant owns all other entities and carries plan-level limits.
type Tenant struct {
	ID                       string    `json:"id" db:"id"`
	Tier                     Tier      `json:"tier" db:"tier"`
	WebhookSecret            string    `json:"-" db:"webhook_secret"`
	MonthlyExecutionCount    int64     `json:"monthly_execution_count" db:"monthly_execution_count"`
	MonthlyExecutionResetAt  time.Time `json:"monthly_execution_reset_at" db:"monthly_execution_reset_at"`
	NotifyOnFailure          bool      `json:"notify_on_failure" db:"notify_on_failure"`
	NotifyOnRecovery         bool      `json:"notify_on_recovery" db:"notify_on_recovery"`
	AlertEmail               string    `json:"alert_email,omitempty" db:"alert_email"`
	CreatedAt                time.Time `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time `json:"updated_at" db:"updated_at"`
}

// ScheduleType distinguishes recurring tasks from one-shot tasks.
type ScheduleType string

const (
	ScheduleCron ScheduleType = "cron"
	ScheduleOnce ScheduleType = "once"
)

// Task is a scheduled HTTP call.
type Task struct {
	ID                   string       `json:"id" db:"id"`
	TenantID             string       `json:"tenant_id" db:"tenant_id"`
	Name                 string       `json:"name" db:"name"`
	URL                  string       `json:"url" db:"url"`
	Method               string       `json:"method" db:"method"`
	Headers              Headers      `json:"headers" db:"headers"`
	Body                 string       `json:"body" db:"body"`
	ScheduleType         ScheduleType `json:"schedule_type" db:"schedule_type"`
	CronExpression       string       `json:"cron_expression,omitempty" db:"cron_expression"`
	ScheduledAt          *time.Time   `json:"scheduled_at,omitempty" db:"scheduled_at"`
	Enabled              bool         `json:"enabled" db:"enabled"`
	Queue                string       `json:"queue,omitempty" db:"queue"`
	TimeoutMS            int          `json:"timeout_ms" db:"timeout_ms"`
	RetryAttempts        int          `json:"retry_attempts" db:"retry_attempts"`
	ExpectedStatusCodes  string       `json:"expected_status_codes,omitempty" db:"expected_status_codes"`
	ExpectedBodyPattern  string       `json:"expected_body_pattern,omitempty" db:"expected_body_pattern"`
	CallbackURL          string       `json:"callback_url,omitempty" db:"callback_url"`
	AlertOnFailure       bool         `json:"alert_on_failure" db:"alert_on_failure"`
	AlertOnRecovery      bool         `json:"alert_on_recovery" db:"alert_on_recovery"`
	Muted                bool         `json:"muted" db:"muted"`
	DeletedAt            *time.Time   `json:"deleted_at,omitempty" db:"deleted_at"`
	IntervalMinutes      float64      `json:"interval_minutes,omitempty" db:"interval_minutes"`
	NextRunAt            *time.Time   `json:"next_run_at,omitempty" db:"next_run_at"`
	InsertedAt           time.Time    `json:"inserted_at" db:"inserted_at"`
	UpdatedAt            time.Time    `json:"updated_at" db:"updated_at"`
	Version              int          `json:"version" db:"version"`
}

// Headers is a simple string-to-string header map, stored as JSONB.
type Headers map[string]string

// ExecutionStatus is the lifecycle state of an Execution.
type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecRunning   ExecutionStatus = "running"
	ExecSuccess   ExecutionStatus = "success"
	ExecFailed    ExecutionStatus = "failed"
	ExecTimeout   ExecutionStatus = "timeout"
	ExecMissed    ExecutionStatus = "missed"
	ExecCancelled ExecutionStatus = "cancelled"
)

// Execution is a single attempt (or planned attempt) of a Task.
type Execution struct {
	ID            string          `json:"id" db:"id"`
	TaskID        string          `json:"task_id" db:"task_id"`
	TenantID      string          `json:"tenant_id" db:"tenant_id"`
	Status        ExecutionStatus `json:"status" db:"status"`
	ScheduledFor  time.Time       `json:"scheduled_for" db:"scheduled_for"`
	StartedAt     *time.Time      `json:"started_at,omitempty" db:"started_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
	StatusCode    int             `json:"status_code,omitempty" db:"status_code"`
	DurationMS    int64           `json:"duration_ms,omitempty" db:"duration_ms"`
	ResponseBody  string          `json:"response_body,omitempty" db:"response_body"`
	ErrorMessage  string          `json:"error_message,omitempty" db:"error_message"`
	Attempt       int             `json:"attempt" db:"attempt"`
	CallbackURL   string          `json:"callback_url,omitempty" db:"callback_url"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// MonitorScheduleType mirrors ScheduleType for heartbeat cadence.
type MonitorScheduleType string

const (
	MonitorInterval MonitorScheduleType = "interval"
	MonitorCron     MonitorScheduleType = "cron"
)

// MonitorStatus is the lifecycle state of a Monitor.
type MonitorStatus string

const (
	MonitorNew    MonitorStatus = "new"
	MonitorUp     MonitorStatus = "up"
	MonitorDown   MonitorStatus = "down"
	MonitorPaused MonitorStatus = "paused"
)

// Monitor is a passive heartbeat listener.
type Monitor struct {
	ID                  string              `json:"id" db:"id"`
	TenantID            string              `json:"tenant_id" db:"tenant_id"`
	Name                string              `json:"name" db:"name"`
	PingToken           string              `json:"ping_token" db:"ping_token"`
	ScheduleType        MonitorScheduleType `json:"schedule_type" db:"schedule_type"`
	IntervalSeconds     int                 `json:"interval_seconds,omitempty" db:"interval_seconds"`
	CronExpression      string              `json:"cron_expression,omitempty" db:"cron_expression"`
	GracePeriodSeconds  int                 `json:"grace_period_seconds" db:"grace_period_seconds"`
	Status              MonitorStatus       `json:"status" db:"status"`
	LastPingAt          *time.Time          `json:"last_ping_at,omitempty" db:"last_ping_at"`
	NextExpectedAt      *time.Time          `json:"next_expected_at,omitempty" db:"next_expected_at"`
	Enabled             bool                `json:"enabled" db:"enabled"`
	Muted               bool                `json:"muted" db:"muted"`
	CreatedAt           time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at" db:"updated_at"`
}

// Endpoint is an inbound webhook receiver that fans out to forward URLs.
type Endpoint struct {
	ID              string    `json:"id" db:"id"`
	TenantID        string    `json:"tenant_id" db:"tenant_id"`
	Name            string    `json:"name" db:"name"`
	Slug            string    `json:"slug" db:"slug"`
	ForwardURLs     []string  `json:"forward_urls" db:"forward_urls"`
	UseQueue        bool      `json:"use_queue" db:"use_queue"`
	RetryAttempts   int       `json:"retry_attempts" db:"retry_attempts"`
	OnFailureURL    string    `json:"on_failure_url,omitempty" db:"on_failure_url"`
	OnRecoveryURL   string    `json:"on_recovery_url,omitempty" db:"on_recovery_url"`
	Enabled         bool      `json:"enabled" db:"enabled"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// InboundEvent is one received request against an Endpoint.
type InboundEvent struct {
	ID         string    `json:"id" db:"id"`
	EndpointID string    `json:"endpoint_id" db:"endpoint_id"`
	TenantID   string    `json:"tenant_id" db:"tenant_id"`
	Method     string    `json:"method" db:"method"`
	Headers    Headers   `json:"headers" db:"headers"`
	Body       string    `json:"body" db:"body"`
	SourceIP   string    `json:"source_ip" db:"source_ip"`
	ReceivedAt time.Time `json:"received_at" db:"received_at"`
	TaskIDs    []string  `json:"task_ids" db:"task_ids"`
}

// QueueState holds the pause flag for a (tenant, queue name) pair.
type QueueState struct {
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Queue    string `json:"queue" db:"queue"`
	Paused   bool   `json:"paused" db:"paused"`
}

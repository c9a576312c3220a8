// Package config loads the process-wide tunables from environment
// variables, layering overrides onto each collaborator's own
// DefaultConfig so a bare environment still runs sane defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/webrelay/webrelay/internal/cleanup"
	"github.com/webrelay/webrelay/internal/hostblocker"
	"github.com/webrelay/webrelay/internal/scheduler"
	"github.com/webrelay/webrelay/internal/workerpool"
)

// Config is the full set of recognized runtime options, grouped by the
// collaborator each section configures.
type Config struct {
	WorkerPool  workerpool.Config
	Scheduler   scheduler.Config
	HostBlocker hostblocker.Config
	Cleanup     cleanup.Config

	CounterFlushInterval time.Duration

	// Ambient wiring, not named in the recognized-options list but
	// required to stand the process up.
	DatabaseURL string
	RedisAddr   string
	ListenAddr  string
}

// Load reads recognized environment variables, falling back to each
// collaborator's DefaultConfig for anything unset or unparseable.
func Load() Config {
	cfg := Config{
		WorkerPool:           workerpool.DefaultConfig(),
		Scheduler:            scheduler.DefaultConfig(),
		HostBlocker:          hostblocker.DefaultConfig(),
		Cleanup:              cleanup.DefaultConfig(),
		CounterFlushInterval: 5 * time.Second,
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		ListenAddr:           ":8080",
	}

	if v := os.Getenv("MIN_WORKERS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.WorkerPool.MinWorkers = n
		}
	}
	if v := os.Getenv("MAX_WORKERS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.WorkerPool.MaxWorkers = n
		}
	}
	if v := os.Getenv("WORKER_IDLE_POLLS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.WorkerPool.IdlePolls = n
		}
	}

	if v := os.Getenv("SCHEDULER_TICK_MS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.Scheduler.TickInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("SCHEDULER_LOOKAHEAD_MS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.Scheduler.Lookahead = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("SCHEDULER_GRACE_DEFAULT_S"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.Scheduler.DefaultGrace = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("MONTHLY_CAP_FREE"); v != "" {
		var n int64
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.Scheduler.MonthlyCapFree = n
		}
	}

	if v := os.Getenv("COUNTER_FLUSH_MS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.CounterFlushInterval = time.Duration(n) * time.Millisecond
		}
	}

	if v := os.Getenv("HOST_BLOCKER_FAIL_THRESHOLD"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.HostBlocker.FailureThreshold = n
		}
	}
	if v := os.Getenv("HOST_BLOCKER_BASE_S"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.HostBlocker.BaseBackoff = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("HOST_BLOCKER_CAP_S"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.HostBlocker.CapBackoff = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("RETENTION_DAYS_FREE"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.Cleanup.RetentionDaysFree = n
		}
	}
	if v := os.Getenv("RETENTION_DAYS_PRO"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.Cleanup.RetentionDaysPro = n
		}
	}

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}

	return cfg
}

// Command webrelayd runs the webrelay scheduler/dispatcher process: one
// binary standing up the store connection, leader election, the
// materialization scheduler, the dispatch worker pool, and their
// supporting collaborators (counter flush, callback delivery, alerting,
// monitor checks, retention cleanup) behind a single HTTP listener.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/webrelay/webrelay/internal/alert"
	"github.com/webrelay/webrelay/internal/callback"
	"github.com/webrelay/webrelay/internal/cleanup"
	"github.com/webrelay/webrelay/internal/config"
	"github.com/webrelay/webrelay/internal/coordination"
	"github.com/webrelay/webrelay/internal/counter"
	"github.com/webrelay/webrelay/internal/engine"
	"github.com/webrelay/webrelay/internal/hostblocker"
	"github.com/webrelay/webrelay/internal/inbound"
	"github.com/webrelay/webrelay/internal/monitorcheck"
	"github.com/webrelay/webrelay/internal/observability"
	"github.com/webrelay/webrelay/internal/scheduler"
	"github.com/webrelay/webrelay/internal/store"
	"github.com/webrelay/webrelay/internal/workerpool"
)

func generateNodeID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "webrelayd"
	}
	return hostname + "-" + os.Getenv("HOSTNAME")
}

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("webrelayd: connect to postgres: %v", err)
		}
		st = pg
		log.Printf("webrelayd: connected to postgres")
	} else {
		log.Println("webrelayd: DATABASE_URL unset, running against an in-memory store (single-node only)")
		st = store.NewMemoryStore()
	}

	var elector *coordination.LeaderElector
	if cfg.RedisAddr != "" {
		coord, err := coordination.NewRedisCoordinator(ctx, cfg.RedisAddr, "", 0)
		if err != nil {
			log.Fatalf("webrelayd: connect to redis (required for leader election): %v", err)
		}
		log.Printf("webrelayd: connected to redis at %s for coordination", cfg.RedisAddr)
		elector = coordination.NewLeaderElector(coord, st, "node-"+generateNodeID(), 30*time.Second)
		elector.Start(ctx)
	} else {
		log.Println("webrelayd: REDIS_ADDR unset, running as a standalone leader (unsafe for HA)")
	}
	isLeader := func() bool {
		if elector == nil {
			return true
		}
		return elector.IsLeader()
	}

	blocker := hostblocker.New(cfg.HostBlocker)
	ctr := counter.New(st)
	go ctr.Run(ctx, cfg.CounterFlushInterval)

	callbacks := callback.New(st, 5, 10)
	callbacks.Run(ctx, 4)

	alerter := alert.New(st, os.Getenv("SMTP_ADDR"), "alerts@webrelay.dev", 3, 5*time.Minute)
	alerter.Run(ctx, 2)

	pool := workerpool.New(st, blocker, ctr, callbacks, alerter, cfg.WorkerPool)
	go pool.Run(ctx)

	sched := scheduler.New(st, cfg.Scheduler, func() {})
	go sched.Run(ctx, isLeader)

	monitors := monitorcheck.New(st, alerter, 30*time.Second)
	monitors.Start(ctx)

	cleaner := cleanup.New(st, cfg.Cleanup)
	cleaner.Start(ctx)

	svc := engine.New(st, inbound.New(st), monitors)
	svc.MonthlyCapFree = cfg.Scheduler.MonthlyCapFree
	api := newAPI(svc, st)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/tasks", api.withTenant(api.handleTasks))
	mux.HandleFunc("/tasks/", api.withTenant(api.handleTaskByID))
	mux.HandleFunc("/batches", api.withTenant(api.handleCreateBatch))
	mux.HandleFunc("/monitors", api.withTenant(api.handleMonitors))
	mux.HandleFunc("/monitors/", api.withTenant(api.handleMonitorByID))
	mux.HandleFunc("/ping/", api.handlePing)
	mux.HandleFunc("/endpoints", api.withTenant(api.handleEndpoints))
	mux.HandleFunc("/in/", api.handleInbound)
	mux.HandleFunc("/events/", api.withTenant(api.handleReplayEvent))
	mux.HandleFunc("/sync", api.withTenant(api.handleSync))
	mux.HandleFunc("/queues/", api.withTenant(api.handleQueueByName))

	observability.LeaderStatus.Set(boolToFloat(isLeader()))

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Printf("webrelayd listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("webrelayd: listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("webrelayd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	callbacks.Wait()
	alerter.Wait()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// jsonResponse writes v as a JSON body with the given status code.
func jsonResponse(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	jsonResponse(w, status, map[string]string{"error": msg})
}

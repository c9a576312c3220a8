package coordination

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webrelay/webrelay/internal/observability"
	"github.com/webrelay/webrelay/internal/store"
)

// LockMetadata is the JSON value stored at the lease key, identifying the
// current holder. The fencing epoch is minted after the lease is won, so
// it lives in the durable store rather than here.
type LockMetadata struct {
	OwnerNode string    `json:"owner_node"`
	ReqID     string    `json:"req_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type fencingKey string

const fencingEpochKey fencingKey = "fencing_epoch"
const leaderLockKey = "webrelay:lock:scheduler"

// LeaderElector gates a single-instance component (the scheduler) so only
// one process runs it at a time, even when replicated.
type LeaderElector struct {
	coordinator Coordinator
	store       store.Store
	nodeID      string
	ttl         time.Duration

	mu           sync.RWMutex
	isLeader     bool
	currentValue string
	currentEpoch int64
	leaderCtx    context.Context
	leaderCancel context.CancelFunc

	onElected func(context.Context)
	onLost    func()

	cancel context.CancelFunc
}

// NewLeaderElector returns a LeaderElector identified as nodeID, renewing
// its lease roughly every ttl/3.
func NewLeaderElector(c Coordinator, s store.Store, nodeID string, ttl time.Duration) *LeaderElector {
	return &LeaderElector{
		coordinator: c,
		store:       s,
		nodeID:      nodeID,
		ttl:         ttl,
	}
}

// SetCallbacks registers hooks invoked when leadership is gained or lost.
// onElected receives the fenced context, valid only while leader.
func (l *LeaderElector) SetCallbacks(onElected func(ctx context.Context), onLost func()) {
	l.onElected = onElected
	l.onLost = onLost
}

// FencedContext returns the context carrying the current fencing epoch,
// cancelled the moment leadership is lost. Empty/background before first
// election.
func (l *LeaderElector) FencedContext() context.Context {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.leaderCtx == nil {
		return context.Background()
	}
	return l.leaderCtx
}

// EpochFromContext extracts the fencing epoch carried by FencedContext.
func EpochFromContext(ctx context.Context) (int64, bool) {
	val := ctx.Value(fencingEpochKey)
	if val == nil {
		return 0, false
	}
	epoch, ok := val.(int64)
	return epoch, ok
}

// IsLeader reports whether this process currently holds the lease.
func (l *LeaderElector) IsLeader() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isLeader
}

// Start runs the acquire/renew loop until ctx is cancelled.
func (l *LeaderElector) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	go l.loop(runCtx)
}

// Stop ends the election loop and releases the lease if held.
func (l *LeaderElector) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.IsLeader() {
		l.release()
	}
}

func (l *LeaderElector) loop(ctx context.Context) {
	interval := l.ttl / 3
	minInterval := interval
	maxInterval := 10 * l.ttl

	renewFailures := 0
	const maxRenewFailures = 3

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if l.IsLeader() {
				l.release()
			}
			return
		case <-timer.C:
			var err error
			if l.IsLeader() {
				var renewed bool
				renewed, err = l.renew(ctx)
				if err == nil {
					renewFailures = 0
					if !renewed {
						l.stepDown()
					}
				} else {
					renewFailures++
					log.Printf("coordination: renew failed (%d/%d): %v", renewFailures, maxRenewFailures, err)
					if renewFailures >= maxRenewFailures {
						l.stepDown()
						renewFailures = 0
					}
				}
			} else {
				var acquired bool
				acquired, err = l.acquire(ctx)
				if err == nil && acquired {
					l.becomeLeader()
					renewFailures = 0
				}
			}

			if err != nil {
				interval *= 2
				if interval > maxInterval {
					interval = maxInterval
				}
			} else {
				interval = minInterval
			}
			timer.Reset(interval)
		}
	}
}

func (l *LeaderElector) acquire(ctx context.Context) (bool, error) {
	meta := LockMetadata{
		OwnerNode: l.nodeID,
		ReqID:     uuid.NewString(),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(l.ttl),
	}
	valBytes, err := json.Marshal(meta)
	if err != nil {
		return false, err
	}
	val := string(valBytes)

	acquired, err := l.coordinator.AcquireLease(ctx, leaderLockKey, val, l.ttl)
	if err != nil || !acquired {
		return false, err
	}

	// Mint the fencing epoch only after winning the lease; a losing
	// contender must not advance it, or it would fence out the live
	// leader.
	epoch, err := l.store.IncrementDurableEpoch(ctx, "scheduler_leader")
	if err != nil {
		l.coordinator.ReleaseLease(ctx, leaderLockKey, val)
		return false, err
	}

	l.mu.Lock()
	l.currentEpoch = epoch
	l.currentValue = val
	l.mu.Unlock()
	return true, nil
}

func (l *LeaderElector) renew(ctx context.Context) (bool, error) {
	l.mu.RLock()
	val := l.currentValue
	epoch := l.currentEpoch
	l.mu.RUnlock()
	if val == "" {
		return false, nil
	}
	renewed, err := l.coordinator.RenewLease(ctx, leaderLockKey, val, l.ttl)
	if err != nil || !renewed {
		return renewed, err
	}
	// A later epoch in the durable store means another node won the
	// lease after ours lapsed; holding on risks fenced writes racing
	// theirs.
	latest, err := l.store.GetDurableEpoch(ctx, "scheduler_leader")
	if err != nil {
		return true, nil
	}
	if latest > epoch {
		log.Printf("coordination: durable epoch advanced to %d past ours (%d), stepping down", latest, epoch)
		return false, nil
	}
	return true, nil
}

func (l *LeaderElector) release() {
	l.mu.RLock()
	val := l.currentValue
	l.mu.RUnlock()
	if val == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.coordinator.ReleaseLease(ctx, leaderLockKey, val); err != nil {
		log.Printf("coordination: release failed: %v", err)
	}
}

func (l *LeaderElector) becomeLeader() {
	l.mu.Lock()
	l.isLeader = true
	ctx, cancel := context.WithCancel(context.Background())
	l.leaderCancel = cancel
	l.leaderCtx = context.WithValue(ctx, fencingEpochKey, l.currentEpoch)
	epoch := l.currentEpoch
	l.mu.Unlock()

	log.Printf("coordination: node %s elected leader, epoch %d", l.nodeID, epoch)
	observability.LeaderStatus.Set(1)
	observability.LeaderEpoch.Set(float64(epoch))
	observability.LeaderTransitions.WithLabelValues("elected").Inc()

	if l.onElected != nil {
		go l.onElected(l.leaderCtx)
	}
}

func (l *LeaderElector) stepDown() {
	l.mu.Lock()
	if !l.isLeader {
		l.mu.Unlock()
		return
	}
	l.isLeader = false
	if l.leaderCancel != nil {
		l.leaderCancel()
	}
	l.mu.Unlock()

	log.Printf("coordination: node %s lost leadership", l.nodeID)
	observability.LeaderStatus.Set(0)
	observability.LeaderEpoch.Set(0)
	observability.LeaderTransitions.WithLabelValues("lost").Inc()
	if l.onLost != nil {
		l.onLost()
	}
}

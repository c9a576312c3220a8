package coordination

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/webrelay/webrelay/internal/store"
)

// fakeCoordinator is an in-memory Coordinator used to test LeaderElector
// without a real Redis instance.
type fakeCoordinator struct {
	mu    sync.Mutex
	value string
	until time.Time
}

func (f *fakeCoordinator) AcquireLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.value != "" && time.Now().Before(f.until) {
		return false, nil
	}
	f.value = value
	f.until = time.Now().Add(ttl)
	return true, nil
}

func (f *fakeCoordinator) RenewLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.value != value {
		return false, nil
	}
	f.until = time.Now().Add(ttl)
	return true, nil
}

func (f *fakeCoordinator) ReleaseLease(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.value == value {
		f.value = ""
	}
	return nil
}

func TestLeaderElectorAcquiresAndNotifies(t *testing.T) {
	fc := &fakeCoordinator{}
	st := store.NewMemoryStore()
	elected := make(chan struct{}, 1)

	le := NewLeaderElector(fc, st, "node-a", 300*time.Millisecond)
	le.SetCallbacks(func(ctx context.Context) {
		elected <- struct{}{}
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	le.Start(ctx)

	select {
	case <-elected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for election")
	}

	if !le.IsLeader() {
		t.Fatal("expected IsLeader true after election")
	}

	epoch, ok := EpochFromContext(le.FencedContext())
	if !ok || epoch < 1 {
		t.Fatalf("expected fencing epoch >= 1, got %d ok=%v", epoch, ok)
	}

	le.Stop()
}

func TestLeaderElectorSecondNodeBlocked(t *testing.T) {
	fc := &fakeCoordinator{}
	st := store.NewMemoryStore()

	leA := NewLeaderElector(fc, st, "node-a", 300*time.Millisecond)
	electedA := make(chan struct{}, 1)
	leA.SetCallbacks(func(ctx context.Context) { electedA <- struct{}{} }, nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	leA.Start(ctxA)

	select {
	case <-electedA:
	case <-time.After(2 * time.Second):
		t.Fatal("node-a never elected")
	}

	leB := NewLeaderElector(fc, st, "node-b", 300*time.Millisecond)
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	leB.Start(ctxB)

	time.Sleep(200 * time.Millisecond)
	if leB.IsLeader() {
		t.Fatal("node-b should not acquire leadership while node-a holds it")
	}

	leA.Stop()
	leB.Stop()
}

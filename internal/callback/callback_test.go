package callback

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/webrelay/webrelay/internal/store"
)

func TestSignMatchesHMACSHA256(t *testing.T) {
	body := []byte(`{"event":"execution.completed"}`)
	secret := "s3cret"

	got := Sign(secret, body)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if got != want {
		t.Errorf("Sign() = %q, want %q", got, want)
	}
}

func TestDeliverSignsAndPostsPayload(t *testing.T) {
	var received Payload
	var gotSig string
	var gotBody []byte
	done := make(chan struct{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		json.Unmarshal(gotBody, &received)
		w.WriteHeader(http.StatusOK)
		done <- struct{}{}
	}))
	defer srv.Close()

	st := store.NewMemoryStore()
	st.PutTenant(&store.Tenant{ID: "t1", Tier: store.TierFree, WebhookSecret: "topsecret"})

	d := New(st, 100, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Run(ctx, 1)

	task := &store.Task{ID: "task1", Name: "ping", TenantID: "t1", CallbackURL: srv.URL}
	exec := &store.Execution{ID: "exec1", Status: store.ExecSuccess, Attempt: 1, ScheduledFor: time.Now()}
	d.Enqueue(ctx, task, exec, "execution.completed")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback delivery")
	}

	if received.Event != "execution.completed" {
		t.Errorf("event = %q, want execution.completed", received.Event)
	}
	if received.Task.ID != "task1" {
		t.Errorf("task.id = %q, want task1", received.Task.ID)
	}

	want := Sign("topsecret", gotBody)
	if gotSig != want {
		t.Errorf("X-Signature = %q, want %q", gotSig, want)
	}
}

func TestEnqueueSkipsTaskWithoutCallbackURL(t *testing.T) {
	st := store.NewMemoryStore()
	d := New(st, 100, 10)
	task := &store.Task{ID: "task1", TenantID: "t1"}
	exec := &store.Execution{ID: "exec1"}
	d.Enqueue(context.Background(), task, exec, "execution.completed")

	select {
	case <-d.jobs:
		t.Fatal("expected no job queued when callback_url is empty")
	default:
	}
}

func TestDeliverRetriesOnFailureThenGivesUp(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := store.NewMemoryStore()
	st.PutTenant(&store.Tenant{ID: "t1", Tier: store.TierFree, WebhookSecret: "s"})

	d := New(st, 100, 10)
	task := &store.Task{ID: "task1", TenantID: "t1", CallbackURL: srv.URL}

	d.deliver(context.Background(), job{url: srv.URL, tenantID: "t1", payload: Payload{
		Event: "execution.failed",
		Task:  PayloadTask{ID: task.ID},
	}})

	if attempts.Load() != maxAttempts {
		t.Errorf("attempts = %d, want %d", attempts.Load(), maxAttempts)
	}
}

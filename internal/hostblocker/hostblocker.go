// Package hostblocker tracks per-(tenant, host) dispatch failures and
// imposes an escalating deferral window, keeping one dead destination
// from monopolizing worker capacity.
package hostblocker

import (
	"net/url"
	"sync"
	"time"
)

// Config tunes the escalation ladder.
type Config struct {
	FailureThreshold int
	BaseBackoff      time.Duration
	CapBackoff       time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		BaseBackoff:      30 * time.Second,
		CapBackoff:       24 * time.Hour,
	}
}

type entry struct {
	blockedUntil        time.Time
	consecutiveFailures int
	level               int // number of escalations applied since last success
}

// Blocker is a concurrent-safe, in-process (tenant, host) circuit.
type Blocker struct {
	config  Config
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Blocker tuned by config.
func New(config Config) *Blocker {
	return &Blocker{config: config, entries: make(map[string]*entry)}
}

func key(tenantID, host string) string {
	return tenantID + "\x00" + host
}

// Host extracts the dispatch-relevant host component of a URL.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

// Blocked reports whether (tenant, host) is currently deferred, and until when.
func (b *Blocker) Blocked(tenantID, host string) (bool, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key(tenantID, host)]
	if !ok {
		return false, time.Time{}
	}
	if time.Now().Before(e.blockedUntil) {
		return true, e.blockedUntil
	}
	return false, time.Time{}
}

// Block imposes an explicit deferral window, used for 429 responses where
// Retry-After dictates the duration rather than the escalation ladder.
func (b *Blocker) Block(tenantID, host string, duration time.Duration) time.Time {
	if duration > b.config.CapBackoff {
		duration = b.config.CapBackoff
	}
	if duration < time.Second {
		duration = time.Second
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entryLocked(tenantID, host)
	until := time.Now().Add(duration)
	if until.After(e.blockedUntil) {
		e.blockedUntil = until
	}
	return e.blockedUntil
}

// RecordFailure registers a 5xx (or transient) failure. After
// config.FailureThreshold consecutive failures, it opens a block with
// escalating backoff: base, base*2, base*4, ... capped.
func (b *Blocker) RecordFailure(tenantID, host string) (blocked bool, until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entryLocked(tenantID, host)
	e.consecutiveFailures++
	if e.consecutiveFailures < b.config.FailureThreshold {
		return false, time.Time{}
	}
	backoff := b.config.BaseBackoff << e.level
	if backoff > b.config.CapBackoff || backoff <= 0 {
		backoff = b.config.CapBackoff
	}
	e.level++
	e.blockedUntil = time.Now().Add(backoff)
	return true, e.blockedUntil
}

// RecordSuccess clears the failure count and backoff level for (tenant, host).
func (b *Blocker) RecordSuccess(tenantID, host string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key(tenantID, host)
	delete(b.entries, k)
}

// OpenCount reports how many (tenant, host) pairs are currently deferred.
func (b *Blocker) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	now := time.Now()
	for _, e := range b.entries {
		if now.Before(e.blockedUntil) {
			n++
		}
	}
	return n
}

func (b *Blocker) entryLocked(tenantID, host string) *entry {
	k := key(tenantID, host)
	e, ok := b.entries[k]
	if !ok {
		e = &entry{}
		b.entries[k] = e
	}
	return e
}

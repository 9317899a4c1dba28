package gossip

// breaker.go implements the per-endpoint circuit breaker guarding sync
// pulls. The breaker opens after a run of consecutive failures and closes
// again after a cooldown; while open, the sync worker skips the endpoint.

import (
	"sync"
	"time"

	"github.com/oib/AITBC-sub002/metrics"
)

// A Breaker tracks consecutive failures against one remote endpoint.
type Breaker struct {
	mu        sync.Mutex
	endpoint  string
	threshold int
	cooldown  time.Duration

	failures int
	openedAt time.Time
	open     bool
}

// NewBreaker returns a closed breaker. The breaker opens after threshold
// consecutive failures and stays open for cooldown.
func NewBreaker(endpoint string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &Breaker{
		endpoint:  endpoint,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow reports whether a call may proceed. An open breaker closes again once
// the cooldown has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if time.Since(b.openedAt) >= b.cooldown {
		b.open = false
		b.failures = 0
		metrics.BreakerTransitions.WithLabelValues(b.endpoint, "closed").Inc()
		return true
	}
	return false
}

// Success records a successful call and resets the failure run.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// Failure records a failed call, opening the breaker when the run reaches the
// threshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if !b.open && b.failures >= b.threshold {
		b.open = true
		b.openedAt = time.Now()
		metrics.BreakerTransitions.WithLabelValues(b.endpoint, "open").Inc()
	}
}

// Open reports whether the breaker is currently open.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open && time.Since(b.openedAt) < b.cooldown
}

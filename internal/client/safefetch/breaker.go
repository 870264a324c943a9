// Package safefetch wraps data calls with session repair and bounded retries.
package safefetch

import (
	"sync"

	"github.com/atelier-nova/agency-platform/internal/client/metrics"
	"github.com/atelier-nova/agency-platform/internal/client/session"
)

// DefaultGlobalCeiling bounds failures across every fetcher of a runtime.
const DefaultGlobalCeiling = 10

// Breaker is the failure counter shared by all fetchers of one runtime. Once
// it reaches its ceiling no fetcher issues a call until Reset.
type Breaker struct {
	mu       sync.Mutex
	failures int
	ceiling  int
}

func NewBreaker(ceiling int) *Breaker {
	if ceiling <= 0 {
		ceiling = DefaultGlobalCeiling
	}
	return &Breaker{ceiling: ceiling}
}

// Allow reports whether another attempt may be issued.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures < b.ceiling
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.failures++
	n := b.failures
	b.mu.Unlock()
	metrics.SafeFetchBreakerFailures.Set(float64(n))
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
	metrics.SafeFetchBreakerFailures.Set(0)
}

func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) Ceiling() int { return b.ceiling }

// Watch resets the breaker on every token refresh and sign-out.
func (b *Breaker) Watch(bcast *session.Broadcaster) (unsubscribe func()) {
	return bcast.Subscribe(func(ev session.Event) {
		switch ev {
		case session.EventTokenRefreshed, session.EventSignedOut:
			b.Reset()
		}
	})
}

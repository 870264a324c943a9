package safefetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/atelier-nova/agency-platform/internal/client/metrics"
	"github.com/atelier-nova/agency-platform/internal/client/session"
	"github.com/atelier-nova/agency-platform/internal/core/domain"
	"github.com/atelier-nova/agency-platform/internal/core/ports"
)

const (
	DefaultLocalCeiling = 5
	DefaultMinInterval  = time.Second
	DefaultRetryDelay   = time.Second
)

// Refresher repairs the session.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Reloader re-runs the auth reconciliation after repeated failures.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Freshness probes a cached pair.
type Freshness interface {
	IsFresh(pair *domain.TokenPair) bool
}

// Deps are the runtime-wide collaborators shared by every Fetcher. Only
// Breaker is required.
type Deps struct {
	Breaker   *Breaker
	Tokens    ports.TokenStore
	Prober    Freshness
	Refresher Refresher
	Reloader  Reloader
	Log       zerolog.Logger
}

// Options tune one Fetcher.
type Options struct {
	// Key identifies the dependency list; see SetKey.
	Key          string
	LocalCeiling int
	MinInterval  time.Duration
	RetryDelay   time.Duration
	// OnExhausted runs when a call is refused because a ceiling is reached.
	OnExhausted func(err error)
}

// Snapshot is the observable state of a Fetcher.
type Snapshot[T any] struct {
	Data     T
	HasData  bool
	Loading  bool
	Err      error
	Failures int
	// Resets counts successes that cleared a non-zero failure counter.
	Resets int
}

// Fetcher runs fn with session repair, bounded by a local failure ceiling and
// the shared Breaker.
type Fetcher[T any] struct {
	fn   func(ctx context.Context) (T, error)
	deps Deps
	opts Options
	log  zerolog.Logger

	mu       sync.Mutex
	limiter  *rate.Limiter
	key      string
	gen      int
	inFlight bool
	data     T
	hasData  bool
	lastErr  error
	failures int
	resets   int
}

// New builds a Fetcher. Zero options take the package defaults.
func New[T any](fn func(ctx context.Context) (T, error), deps Deps, opts Options) *Fetcher[T] {
	if opts.LocalCeiling <= 0 {
		opts.LocalCeiling = DefaultLocalCeiling
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if deps.Breaker == nil {
		deps.Breaker = NewBreaker(0)
	}
	return &Fetcher[T]{
		fn:      fn,
		deps:    deps,
		opts:    opts,
		log:     deps.Log.With().Str("fetch_key", opts.Key).Logger(),
		limiter: rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		key:     opts.Key,
	}
}

// Load fetches at most once per MinInterval; a call inside the interval
// returns the cached data with domain.ErrRateLimited.
func (f *Fetcher[T]) Load(ctx context.Context) (T, error) {
	f.mu.Lock()
	limiter := f.limiter
	cached := f.data
	f.mu.Unlock()

	if !limiter.Allow() {
		metrics.SafeFetchAttemptsTotal.WithLabelValues(f.opts.Key, "rate_limited").Inc()
		return cached, domain.ErrRateLimited
	}
	return f.run(ctx)
}

// Refetch fetches immediately, bypassing the rate limit.
func (f *Fetcher[T]) Refetch(ctx context.Context) (T, error) {
	return f.run(ctx)
}

// SetKey records a change of dependencies. A different key drops the cached
// data, the counters and the rate-limit budget; results of calls started
// under the old key are discarded.
func (f *Fetcher[T]) SetKey(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if key == f.key {
		return
	}
	var zero T
	f.key = key
	f.gen++
	f.data, f.hasData = zero, false
	f.lastErr = nil
	f.failures = 0
	f.limiter = rate.NewLimiter(rate.Every(f.opts.MinInterval), 1)
}

// Watch subscribes to session events until ctx is done. A token refresh
// clears the local counter and, when the last attempt failed, refetches in
// the background.
func (f *Fetcher[T]) Watch(ctx context.Context, bcast *session.Broadcaster) {
	unsubscribe := bcast.Subscribe(func(ev session.Event) {
		if ev != session.EventTokenRefreshed {
			return
		}
		f.mu.Lock()
		f.failures = 0
		retry := f.lastErr != nil && !isRejection(f.lastErr) && !f.inFlight
		f.mu.Unlock()
		if retry {
			go func() { _, _ = f.Refetch(ctx) }()
		}
	})
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
}

// Snapshot returns the current state.
func (f *Fetcher[T]) Snapshot() Snapshot[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Snapshot[T]{
		Data:     f.data,
		HasData:  f.hasData,
		Loading:  f.inFlight,
		Err:      f.lastErr,
		Failures: f.failures,
		Resets:   f.resets,
	}
}

func (f *Fetcher[T]) run(ctx context.Context) (T, error) {
	var zero T

	f.mu.Lock()
	if f.inFlight {
		f.mu.Unlock()
		return zero, domain.ErrFetchInFlight
	}
	if err := f.exhaustedLocked(); err != nil {
		f.mu.Unlock()
		f.exhausted(err)
		return zero, err
	}
	f.inFlight = true
	gen := f.gen
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight = false
		f.mu.Unlock()
	}()

	f.preflight(ctx)

	for attempt := 0; ; attempt++ {
		data, err := f.fn(ctx)
		if err == nil {
			f.succeed(gen, data)
			return data, nil
		}

		if isRejection(err) {
			f.reject(gen, err)
			return zero, err
		}

		n, stale := f.fail(gen, err)
		if stale {
			return zero, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}

		if n == 1 && attempt == 0 {
			f.repair(ctx)
			if !sleep(ctx, f.opts.RetryDelay) {
				return zero, ctx.Err()
			}
			f.mu.Lock()
			exErr := f.exhaustedLocked()
			f.mu.Unlock()
			if exErr != nil {
				f.exhausted(exErr)
				return zero, exErr
			}
			continue
		}

		if f.deps.Reloader != nil {
			if rerr := f.deps.Reloader.Reload(ctx); rerr != nil {
				f.log.Warn().Err(rerr).Msg("auth reload after repeated fetch failures failed")
			}
		}
		return zero, err
	}
}

// preflight refreshes a stale session before the call. A failed refresh is
// not fatal; the call itself decides.
func (f *Fetcher[T]) preflight(ctx context.Context) {
	if f.deps.Tokens == nil || f.deps.Prober == nil || f.deps.Refresher == nil {
		return
	}
	pair, err := f.deps.Tokens.Load(ctx)
	if err != nil || !pair.Valid() || f.deps.Prober.IsFresh(pair) {
		return
	}
	if err := f.deps.Refresher.Refresh(ctx); err != nil {
		f.log.Debug().Err(err).Msg("pre-flight refresh failed")
	}
}

func (f *Fetcher[T]) repair(ctx context.Context) {
	if f.deps.Refresher == nil {
		return
	}
	if err := f.deps.Refresher.Refresh(ctx); err != nil {
		f.log.Debug().Err(err).Msg("refresh after failed fetch failed")
	}
}

func (f *Fetcher[T]) succeed(gen int, data T) {
	metrics.SafeFetchAttemptsTotal.WithLabelValues(f.opts.Key, "success").Inc()
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		return
	}
	f.data, f.hasData = data, true
	f.lastErr = nil
	if f.failures > 0 {
		f.failures = 0
		f.resets++
	}
}

// fail records a failed attempt and returns the local failure count. stale
// is true when the key changed while the call ran.
func (f *Fetcher[T]) fail(gen int, err error) (n int, stale bool) {
	metrics.SafeFetchAttemptsTotal.WithLabelValues(f.opts.Key, "failure").Inc()
	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return 0, true
	}
	f.failures++
	f.lastErr = err
	n = f.failures
	f.mu.Unlock()

	f.deps.Breaker.RecordFailure()
	f.log.Warn().Err(err).Int("failures", n).Int("breaker_failures", f.deps.Breaker.Failures()).Msg("fetch failed")
	return n, false
}

// rejections are answers a session repair cannot change.
var rejections = []error{
	domain.ErrForbidden,
	domain.ErrInvalidTransition,
	domain.ErrPaymentIncomplete,
	domain.ErrInvalidCheckout,
	domain.ErrProjectNotFound,
	domain.ErrCheckoutNotFound,
}

func isRejection(err error) bool {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// reject records a business rejection. It counts toward neither ceiling.
func (f *Fetcher[T]) reject(gen int, err error) {
	metrics.SafeFetchAttemptsTotal.WithLabelValues(f.opts.Key, "rejected").Inc()
	f.mu.Lock()
	if gen == f.gen {
		f.lastErr = err
	}
	f.mu.Unlock()
	f.log.Debug().Err(err).Msg("fetch rejected")
}

func (f *Fetcher[T]) exhaustedLocked() error {
	if f.failures < f.opts.LocalCeiling && f.deps.Breaker.Allow() {
		return nil
	}
	if f.lastErr != nil {
		return fmt.Errorf("%w: %w", domain.ErrRetryCeiling, f.lastErr)
	}
	return domain.ErrRetryCeiling
}

func (f *Fetcher[T]) exhausted(err error) {
	metrics.SafeFetchAttemptsTotal.WithLabelValues(f.opts.Key, "blocked").Inc()
	f.log.Warn().Err(err).Msg("fetch blocked by retry ceiling")
	if f.opts.OnExhausted != nil {
		f.opts.OnExhausted(err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

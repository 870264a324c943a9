// Package authstate holds the client's authentication state machine.
package authstate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/atelier-nova/agency-platform/internal/client/session"
	"github.com/atelier-nova/agency-platform/internal/core/domain"
	"github.com/atelier-nova/agency-platform/internal/core/ports"
)

// DefaultSafetyTimeout bounds how long the controller may stay loading.
const DefaultSafetyTimeout = 5 * time.Second

// LoginPath is where a degraded runtime without tokens is sent.
const LoginPath = "/login"

// Refresher repairs a stale session.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Freshness probes a cached pair.
type Freshness interface {
	IsFresh(pair *domain.TokenPair) bool
}

// Resetter is the shared retry breaker.
type Resetter interface {
	Reset()
}

// Deps are the collaborators of a Controller. Profiles, Breaker and Events
// are optional.
type Deps struct {
	Store     *session.Store
	Prober    Freshness
	Refresher Refresher
	Identity  ports.IdentityProvider
	Profiles  ports.ProfileLookup
	Breaker   Resetter
	Events    *session.Broadcaster
	Log       zerolog.Logger
}

// Options tune a Controller.
type Options struct {
	SafetyTimeout time.Duration
	// AppURL prefixes the password-reset redirect.
	AppURL string
}

// Snapshot is the state exposed to views. User is only set in the
// authenticated state and in a degraded state entered after it.
type Snapshot struct {
	State     domain.AuthState
	User      *domain.User
	IsAdmin   bool
	Reason    domain.DegradedReason
	HasTokens bool
	LastError error
	Recovery  []domain.RecoveryAction
}

// Controller reconciles stored tokens with the identity provider and drives
// the sign-in flows. It holds at most one trusted user.
type Controller struct {
	deps Deps
	opts Options

	mu        sync.Mutex
	gen       int
	state     domain.AuthState
	user      *domain.User
	isAdmin   bool
	reason    domain.DegradedReason
	hasTokens bool
	lastErr   error
	nextSub   int
	subs      map[int]func(Snapshot)
}

func New(deps Deps, opts Options) *Controller {
	if opts.SafetyTimeout <= 0 {
		opts.SafetyTimeout = DefaultSafetyTimeout
	}
	opts.AppURL = strings.TrimRight(opts.AppURL, "/")
	return &Controller{
		deps:  deps,
		opts:  opts,
		state: domain.StateLoading,
		subs:  make(map[int]func(Snapshot)),
	}
}

// Init runs the initial reconciliation. If it has not finished within the
// safety timeout the controller moves to degraded; the late result still
// replaces the degraded state.
func (c *Controller) Init(ctx context.Context) error {
	return c.Reload(ctx)
}

// Reload re-runs the reconciliation on demand.
func (c *Controller) Reload(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.state = domain.StateLoading
	c.reason = domain.ReasonNone
	c.lastErr = nil
	c.mu.Unlock()
	c.notify()

	timer := time.AfterFunc(c.opts.SafetyTimeout, func() {
		c.degradeIfLoading(gen)
	})
	defer timer.Stop()

	return c.reconcile(ctx, gen)
}

func (c *Controller) degradeIfLoading(gen int) {
	c.mu.Lock()
	if c.gen != gen || c.state != domain.StateLoading {
		c.mu.Unlock()
		return
	}
	c.state = domain.StateDegraded
	c.reason = domain.ReasonLoadTimeout
	c.mu.Unlock()
	c.deps.Log.Warn().Dur("timeout", c.opts.SafetyTimeout).Msg("auth still loading, entering degraded mode")
	c.notify()
}

func (c *Controller) reconcile(ctx context.Context, gen int) error {
	pair, err := c.deps.Store.Load(ctx)
	if err != nil {
		c.settle(gen, domain.StateUnauthenticated, nil, false, false, err)
		return err
	}
	if !pair.Valid() {
		c.settle(gen, domain.StateUnauthenticated, nil, false, false, nil)
		return nil
	}

	if c.deps.Prober != nil && c.deps.Refresher != nil && !c.deps.Prober.IsFresh(pair) {
		if err := c.deps.Refresher.Refresh(ctx); err != nil {
			if !refreshRejected(err) {
				// The pair may still be usable once the provider is reachable.
				c.deps.Log.Warn().Err(err).Msg("stale session refresh interrupted, keeping tokens")
				c.settle(gen, domain.StateUnauthenticated, nil, false, true, err)
				return err
			}
			c.deps.Log.Info().Err(err).Msg("stale session could not be refreshed")
			c.clearTokens(ctx)
			c.settle(gen, domain.StateUnauthenticated, nil, false, false, err)
			return nil
		}
		if pair, err = c.deps.Store.Load(ctx); err != nil || !pair.Valid() {
			c.settle(gen, domain.StateUnauthenticated, nil, false, false, err)
			return err
		}
	}

	raw, err := c.deps.Identity.GetUser(ctx, pair.AccessToken)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthenticated) {
			c.clearTokens(ctx)
			c.settle(gen, domain.StateUnauthenticated, nil, false, false, nil)
			return nil
		}
		c.deps.Log.Warn().Err(err).Msg("identity provider unreachable")
		c.settle(gen, domain.StateUnauthenticated, nil, false, true, err)
		return err
	}

	return c.acceptUser(ctx, gen, raw, pair.AccessToken)
}

// refreshRejected reports whether the provider refused the refresh token, as
// opposed to a transport failure or an abandoned call.
func refreshRejected(err error) bool {
	return errors.Is(err, domain.ErrUnauthenticated) || errors.Is(err, domain.ErrNoSession)
}

// acceptUser is the single gate between a raw provider value and the
// trusted user.
func (c *Controller) acceptUser(ctx context.Context, gen int, raw []byte, accessToken string) error {
	user, err := domain.DecodeUser(raw)
	switch {
	case errors.Is(err, domain.ErrMalformedUser):
		c.deps.Log.Error().Err(err).Msg("identity provider returned a malformed user, forcing sign-out")
		c.clearTokens(ctx)
		c.settle(gen, domain.StateMalformed, nil, false, false, err)
		return err
	case err != nil:
		c.settle(gen, domain.StateUnauthenticated, nil, false, true, nil)
		return nil
	}

	c.settle(gen, domain.StateAuthenticated, user, c.lookupAdmin(ctx, accessToken), true, nil)
	return nil
}

func (c *Controller) lookupAdmin(ctx context.Context, accessToken string) bool {
	if c.deps.Profiles == nil {
		return false
	}
	p, err := c.deps.Profiles.Profile(ctx, accessToken)
	if err != nil {
		c.deps.Log.Warn().Err(err).Msg("profile lookup failed, treating user as non-admin")
		return false
	}
	return p.IsAdmin()
}

// settle applies the result of generation gen; results of superseded runs
// are dropped.
func (c *Controller) settle(gen int, state domain.AuthState, user *domain.User, admin, hasTokens bool, lastErr error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.user = user
	c.isAdmin = admin
	c.hasTokens = hasTokens
	c.lastErr = lastErr
	c.reason = domain.ReasonNone
	c.mu.Unlock()
	c.notify()
}

// begin supersedes any running reconciliation.
func (c *Controller) begin() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	return c.gen
}

func (c *Controller) clearTokens(ctx context.Context) {
	if err := c.deps.Store.Clear(ctx); err != nil {
		c.deps.Log.Error().Err(err).Msg("failed to clear tokens")
	}
}

// SignIn authenticates with e-mail and password.
func (c *Controller) SignIn(ctx context.Context, email, password string) error {
	gen := c.begin()
	sess, err := c.deps.Identity.SignInWithPassword(ctx, email, password)
	if err != nil {
		c.settle(gen, domain.StateUnauthenticated, nil, false, false, err)
		return err
	}
	return c.adopt(ctx, gen, sess)
}

// SignUp registers an account. confirmationPending is true when the provider
// wants the e-mail confirmed first; the state then stays unauthenticated.
func (c *Controller) SignUp(ctx context.Context, email, password string, metadata map[string]any) (confirmationPending bool, err error) {
	gen := c.begin()
	sess, err := c.deps.Identity.SignUp(ctx, email, password, metadata)
	if err != nil {
		c.settle(gen, domain.StateUnauthenticated, nil, false, false, err)
		return false, err
	}
	if sess == nil {
		c.settle(gen, domain.StateUnauthenticated, nil, false, false, nil)
		return true, nil
	}
	return false, c.adopt(ctx, gen, sess)
}

func (c *Controller) adopt(ctx context.Context, gen int, sess *domain.AuthSession) error {
	if _, err := domain.DecodeUser(sess.User); errors.Is(err, domain.ErrMalformedUser) {
		c.clearTokens(ctx)
		c.settle(gen, domain.StateMalformed, nil, false, false, err)
		return err
	}
	if err := c.deps.Store.Save(ctx, sess.Tokens); err != nil {
		c.settle(gen, domain.StateUnauthenticated, nil, false, false, err)
		return fmt.Errorf("store session: %w", err)
	}
	if err := c.deps.Store.SetPreference(ctx, session.PrefDegradedMode, "false"); err != nil {
		c.deps.Log.Debug().Err(err).Msg("could not reset degraded-mode preference")
	}
	return c.acceptUser(ctx, gen, sess.User, sess.Tokens.AccessToken)
}

// ResetPassword sends the recovery e-mail.
func (c *Controller) ResetPassword(ctx context.Context, email string) error {
	return c.deps.Identity.ResetPasswordForEmail(ctx, email, c.opts.AppURL+"/reset-password")
}

// UpdateProfile updates the signed-in user and replaces the trusted user
// with the provider's answer.
func (c *Controller) UpdateProfile(ctx context.Context, attrs domain.UserAttributes) error {
	pair, err := c.deps.Store.Load(ctx)
	if err != nil {
		return err
	}
	if !pair.Valid() {
		return domain.ErrUnauthenticated
	}
	raw, err := c.deps.Identity.UpdateUser(ctx, pair.AccessToken, attrs)
	if err != nil {
		return err
	}
	return c.acceptUser(ctx, c.begin(), raw, pair.AccessToken)
}

// SignOut revokes the session (best effort), clears the tokens, resets the
// shared retry breaker and announces the sign-out.
func (c *Controller) SignOut(ctx context.Context) error {
	gen := c.begin()
	pair, _ := c.deps.Store.Load(ctx)
	if pair.Valid() {
		if err := c.deps.Identity.SignOut(ctx, pair.AccessToken); err != nil {
			c.deps.Log.Warn().Err(err).Msg("provider sign-out failed, clearing local session anyway")
		}
	}
	err := c.deps.Store.Clear(ctx)
	if c.deps.Breaker != nil {
		c.deps.Breaker.Reset()
	}
	c.settle(gen, domain.StateUnauthenticated, nil, false, false, nil)
	if c.deps.Events != nil {
		c.deps.Events.Publish(session.EventSignedOut)
	}
	return err
}

// EnterDegraded moves to the degraded state with reason. A malformed or
// signed-out controller is left alone.
func (c *Controller) EnterDegraded(reason domain.DegradedReason) {
	c.mu.Lock()
	switch c.state {
	case domain.StateLoading, domain.StateAuthenticated, domain.StateDegraded:
	default:
		c.mu.Unlock()
		return
	}
	c.state = domain.StateDegraded
	c.reason = reason
	c.mu.Unlock()
	c.deps.Log.Warn().Str("reason", string(reason)).Msg("auth degraded")
	c.notify()
}

// Continue is the "continue anyway" action of the degraded state. It returns
// LoginPath when no tokens exist; otherwise it records the degraded-mode
// preference and returns an empty path.
func (c *Controller) Continue(ctx context.Context) (string, error) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != domain.StateDegraded {
		return "", nil
	}

	pair, err := c.deps.Store.Load(ctx)
	if err != nil {
		return "", err
	}
	if !pair.Valid() {
		return LoginPath, nil
	}
	c.mu.Lock()
	c.hasTokens = true
	c.mu.Unlock()
	return "", c.deps.Store.SetPreference(ctx, session.PrefDegradedMode, "true")
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		State:     c.state,
		IsAdmin:   c.isAdmin,
		Reason:    c.reason,
		HasTokens: c.hasTokens,
		LastError: c.lastErr,
	}
	if c.state == domain.StateAuthenticated || c.state == domain.StateDegraded {
		s.User = c.user
	}
	switch c.state {
	case domain.StateDegraded:
		s.Recovery = []domain.RecoveryAction{domain.RecoveryContinue, domain.RecoveryRefreshAuth, domain.RecoverySignOut}
	case domain.StateMalformed:
		s.Recovery = []domain.RecoveryAction{domain.RecoverySignOut}
	}
	return s
}

// Subscribe calls fn after every transition until the returned function is
// called.
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Controller) notify() {
	c.mu.Lock()
	snap := c.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

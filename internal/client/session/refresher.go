package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/atelier-nova/agency-platform/internal/client/metrics"
	"github.com/atelier-nova/agency-platform/internal/core/domain"
	"github.com/atelier-nova/agency-platform/internal/core/ports"
)

const DefaultRefreshTimeout = 10 * time.Second

// Refresher exchanges the stored refresh token for a new pair. Concurrent
// callers share one provider call.
type Refresher struct {
	store   ports.TokenStore
	idp     ports.IdentityProvider
	bcast   *Broadcaster
	timeout time.Duration
	log     zerolog.Logger
	group   singleflight.Group
}

func NewRefresher(store ports.TokenStore, idp ports.IdentityProvider, bcast *Broadcaster, timeout time.Duration, log zerolog.Logger) *Refresher {
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &Refresher{store: store, idp: idp, bcast: bcast, timeout: timeout, log: log}
}

// Refresh returns nil when a new pair was stored. Errors wrap
// domain.ErrNoSession when there is nothing to refresh and
// domain.ErrRefreshFailed when the provider refused. The shared call is not
// cancelled with ctx; only this caller stops waiting.
func (r *Refresher) Refresh(ctx context.Context) error {
	ch := r.group.DoChan("refresh", func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return nil, r.refresh(callCtx)
	})

	select {
	case res := <-ch:
		result := "success"
		if res.Err != nil {
			result = "failure"
		}
		metrics.SessionRefreshTotal.WithLabelValues(result, strconv.FormatBool(res.Shared)).Inc()
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresher) refresh(ctx context.Context) error {
	pair, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	if !pair.CanRefresh() {
		return fmt.Errorf("refresh: %w", domain.ErrNoSession)
	}

	sess, err := r.idp.RefreshSession(ctx, pair.RefreshToken)
	if err != nil {
		r.log.Warn().Err(err).Msg("session refresh failed")
		return fmt.Errorf("%w: %w", domain.ErrRefreshFailed, err)
	}

	next := sess.Tokens
	if next.RefreshToken == "" {
		next.RefreshToken = pair.RefreshToken
	}
	if err := r.store.Save(ctx, next); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRefreshFailed, err)
	}

	r.log.Debug().Int64("expires_at", next.ExpiresAt).Msg("session refreshed")
	if r.bcast != nil {
		r.bcast.Publish(EventTokenRefreshed)
	}
	return nil
}

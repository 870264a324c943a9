package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/atelier-nova/agency-platform/internal/client/authstate"
	"github.com/atelier-nova/agency-platform/internal/client/checkout"
	"github.com/atelier-nova/agency-platform/internal/client/safefetch"
	"github.com/atelier-nova/agency-platform/internal/client/session"
	"github.com/atelier-nova/agency-platform/internal/core/domain"
	"github.com/atelier-nova/agency-platform/internal/core/ports"
	"github.com/atelier-nova/agency-platform/internal/infrastructure/apiclient"
	"github.com/atelier-nova/agency-platform/internal/infrastructure/config"
	redisdb "github.com/atelier-nova/agency-platform/internal/infrastructure/db/redis"
	"github.com/atelier-nova/agency-platform/internal/infrastructure/gotrue"
	"github.com/atelier-nova/agency-platform/pkg/logger"
)

const redisKeyPrefix = "agencyctl:"

// runtime is the client-side object graph shared by every command.
type runtime struct {
	cfg     *config.ClientConfig
	log     zerolog.Logger
	store   *session.Store
	events  *session.Broadcaster
	breaker *safefetch.Breaker
	api     *apiclient.Client
	auth    *authstate.Controller
	flow    *checkout.Flow
	deps    safefetch.Deps
	closers []func()
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.LoadClient(ctx)
	if err != nil {
		return nil, err
	}
	log := logger.Init(logger.Options{
		Level:  cfg.LogLevel,
		Pretty: logger.IsDevelopment(cfg.Env),
		Output: os.Stderr,
	})

	rt := &runtime{cfg: cfg, log: log}

	kv, err := rt.tokenBackend(ctx)
	if err != nil {
		return nil, err
	}
	rt.store = session.NewStore(kv, cfg.ProjectRef(), logger.Component("session"))
	if migrated, err := rt.store.Migrate(ctx); err != nil {
		rt.Close()
		return nil, fmt.Errorf("migrate stored session: %w", err)
	} else if migrated {
		log.Info().Msg("stored session migrated to the current format")
	}

	identity, err := gotrue.NewClient(gotrue.Options{
		BaseURL:        cfg.IdentityURL,
		AnonKey:        cfg.IdentityAnon,
		Logger:         logger.Component("identity"),
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.api, err = apiclient.New(apiclient.Options{
		BaseURL:        cfg.APIURL,
		Tokens:         rt.store,
		Logger:         logger.Component("api"),
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.events = session.NewBroadcaster()
	rt.breaker = safefetch.NewBreaker(cfg.GlobalCeiling)
	rt.closers = append(rt.closers, rt.breaker.Watch(rt.events))

	prober := session.NewProber(cfg.FreshnessMargin)
	refresher := session.NewRefresher(rt.store, identity, rt.events, cfg.RefreshTimeout, logger.Component("refresher"))

	rt.auth = authstate.New(authstate.Deps{
		Store:     rt.store,
		Prober:    prober,
		Refresher: refresher,
		Identity:  identity,
		Profiles:  rt.api,
		Breaker:   rt.breaker,
		Events:    rt.events,
		Log:       logger.Component("auth"),
	}, authstate.Options{SafetyTimeout: cfg.SafetyTimeout, AppURL: cfg.AppURL})

	rt.deps = safefetch.Deps{
		Breaker:   rt.breaker,
		Tokens:    rt.store,
		Prober:    prober,
		Refresher: refresher,
		Reloader:  rt.auth,
		Log:       logger.Component("fetch"),
	}
	rt.flow = checkout.NewFlow(rt.api, rt.deps, rt.fetchOptions(""), logger.Component("checkout"))
	return rt, nil
}

func (rt *runtime) tokenBackend(ctx context.Context) (ports.KV, error) {
	if rt.cfg.TokenBackend != config.BackendRedis {
		return session.NewFileKV(rt.cfg.TokenPath), nil
	}
	client, err := redisdb.Connect(ctx, redisdb.Config{
		Addr:     rt.cfg.TokenRedis.Addr,
		Password: rt.cfg.TokenRedis.Password,
		DB:       rt.cfg.TokenRedis.DB,
	})
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() { _ = client.Close() })
	return redisdb.NewKV(client, redisKeyPrefix), nil
}

// fetchOptions returns fetcher options for key. Hitting a retry ceiling
// degrades the auth controller.
func (rt *runtime) fetchOptions(key string) safefetch.Options {
	return safefetch.Options{
		Key:          key,
		LocalCeiling: rt.cfg.LocalCeiling,
		MinInterval:  rt.cfg.MinInterval,
		OnExhausted: func(error) {
			rt.auth.EnterDegraded(domain.ReasonRetryCeiling)
		},
	}
}

// resolve runs the auth reconciliation and waits for a settled state: either
// the reconciliation returns or the safety timer degrades the controller.
func (rt *runtime) resolve(ctx context.Context) authstate.Snapshot {
	settled := make(chan struct{}, 1)
	unsubscribe := rt.auth.Subscribe(func(s authstate.Snapshot) {
		if s.State == domain.StateDegraded {
			select {
			case settled <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	done := make(chan error, 1)
	go func() { done <- rt.auth.Init(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			rt.log.Debug().Err(err).Msg("auth reconciliation finished with error")
		}
	case <-settled:
	case <-ctx.Done():
	}
	return rt.auth.Snapshot()
}

// requireUser resolves the session and returns the signed-in user.
func (rt *runtime) requireUser(ctx context.Context) (*domain.User, error) {
	snap := rt.resolve(ctx)
	if snap.User == nil {
		if snap.State == domain.StateDegraded {
			return nil, errors.New("session could not be confirmed; run `agencyctl whoami` for recovery options")
		}
		return nil, errors.New("not signed in; run `agencyctl login`")
	}
	return snap.User, nil
}

// Close releases the token backend and subscriptions.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

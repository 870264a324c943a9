// @title           Agency Platform API
// @version         1.0
// @description     Checkout, payment webhooks and project tracking for the agency marketplace.
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"

	"github.com/atelier-nova/agency-platform/internal/api"
	"github.com/atelier-nova/agency-platform/internal/api/handler"
	"github.com/atelier-nova/agency-platform/internal/core/service"
	"github.com/atelier-nova/agency-platform/internal/infrastructure/config"
	mongodb "github.com/atelier-nova/agency-platform/internal/infrastructure/db/mongo"
	redisdb "github.com/atelier-nova/agency-platform/internal/infrastructure/db/redis"
	"github.com/atelier-nova/agency-platform/internal/infrastructure/queue"
	"github.com/atelier-nova/agency-platform/internal/infrastructure/stripe"
	"github.com/atelier-nova/agency-platform/pkg/logger"
)

const (
	appName         = "agency-api"
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "agency-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  logger.IsDevelopment(cfg.Env),
		Service: appName,
	})
	if logger.IsDevelopment(cfg.Env) {
		displayAppname(appName)
	}

	// --- Stores ---
	mongoClient, db, err := mongodb.Connect(ctx, mongodb.Config{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
		AppName:  appName,
	})
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = mongoClient.Disconnect(dctx)
	}()

	rdb, err := redisdb.Connect(ctx, redisdb.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer rdb.Close()

	projectRepo := mongodb.NewProjectRepository(db)
	profileRepo := mongodb.NewProfileRepository(db)
	if err := mongodb.EnsureIndexes(ctx, projectRepo); err != nil {
		return err
	}

	// --- Workers ---
	dispatcher := queue.NewDispatcher(cfg.Workers, logger.Component("dispatcher"))
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	dispatcher.Start(workerCtx)

	// --- Services ---
	gateway := stripe.NewGateway(stripe.Config{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		APIURL:        cfg.Stripe.APIURL,
	}, logger.Component("stripe"))
	projects := service.NewProjectService(projectRepo, profileRepo, gateway, dispatcher, logger.Component("projects"))
	checkout := service.NewCheckoutService(
		gateway,
		stripe.NewWebhookVerifier(cfg.Stripe.WebhookSecret),
		redisdb.NewDedupChecker(rdb),
		projects,
		service.CheckoutConfig{AppURL: cfg.AppURL, Currency: cfg.Stripe.Currency},
		logger.Component("checkout"),
	)

	e, err := api.NewRouter(api.Deps{
		Checkout:   checkout,
		Projects:   projects,
		JWTSecret:  cfg.JWTSecret,
		CORSOrigin: cfg.CORSOrigin,
		Checks:     []handler.DependencyCheck{handler.MongoCheck(db), handler.RedisCheck(rdb)},
		Log:        logger.Component("http"),
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	return shutdown(srv, log)
}

func shutdown(srv *http.Server, log zerolog.Logger) error {
	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

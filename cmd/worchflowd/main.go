// Command worchflowd is the reference process that wires the workflow
// engine's components together: config, stores, worker pool, scheduler,
// and the monitoring dashboard, with signal-driven graceful shutdown.
//
// It registers a small set of demo handlers so the binary is runnable
// out of the box; a real deployment replaces registerDemoHandlers with its
// own handler set.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/banner"

	"github.com/caelum-labs/worchflow/internal/bus"
	"github.com/caelum-labs/worchflow/internal/config"
	"github.com/caelum-labs/worchflow/internal/dashboard"
	"github.com/caelum-labs/worchflow/internal/docstore"
	"github.com/caelum-labs/worchflow/internal/kvstore"
	"github.com/caelum-labs/worchflow/internal/logging"
	"github.com/caelum-labs/worchflow/internal/scheduler"
	"github.com/caelum-labs/worchflow/internal/worker"
	"github.com/caelum-labs/worchflow/internal/workflow"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("WORCHFLOW_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level)
	printBanner(cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	kv, doc, err := connectStores(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect stores")
	}
	defer kv.Close()
	defer doc.Close(context.Background())

	eventBus := bus.New(logger)

	client, err := workflow.NewClient(context.Background(), kv, doc, cfg.QueuePrefix, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct client")
	}

	handlers := registerDemoHandlers()

	pool, err := worker.New(kv, doc, eventBus, handlers, cfg.Worker.Concurrency, cfg.QueuePrefix, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct worker pool")
	}
	if err := pool.Start(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to start worker pool")
	}

	sched, err := startScheduler(cfg, kv, doc, client, eventBus, handlers, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}

	dash, err := dashboard.New(kv, doc, client, eventBus, dashboard.Config{
		Host:          cfg.Dashboard.Host,
		Port:          cfg.Dashboard.Port,
		JWTSecret:     cfg.Dashboard.JWTSecret,
		AdminPassword: cfg.Dashboard.AdminPassword,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct dashboard")
	}

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Dashboard.Host, cfg.Dashboard.Port),
		Handler:      dash,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Dashboard.Port).Msg("dashboard listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("dashboard HTTP server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("dashboard shutdown failed")
	}
	_ = dash.Shutdown(shutdownCtx)

	if sched != nil {
		if err := sched.Stop(); err != nil {
			logger.Error().Err(err).Msg("scheduler stop failed")
		}
	}
	if err := pool.Stop(); err != nil {
		logger.Error().Err(err).Msg("worker pool stop failed")
	}

	logger.Info().Msg("worchflowd stopped")
}

func connectStores(ctx context.Context, cfg *config.Config, logger *logging.Logger) (kvstore.Store, docstore.Store, error) {
	kv, err := kvstore.NewRedisStore(ctx, &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	doc, err := docstore.NewSurreal(ctx, docstore.Config{
		Endpoint:  cfg.Surreal.Endpoint,
		Namespace: cfg.Surreal.Namespace,
		Database:  cfg.Surreal.Database,
		Username:  cfg.Surreal.Username,
		Password:  cfg.Surreal.Password,
	}, logger)
	if err != nil {
		kv.Close()
		return nil, nil, fmt.Errorf("connect surrealdb: %w", err)
	}

	if err := doc.EnsureIndexes(ctx); err != nil {
		kv.Close()
		doc.Close(ctx)
		return nil, nil, fmt.Errorf("ensure indexes: %w", err)
	}

	return kv, doc, nil
}

func startScheduler(cfg *config.Config, kv kvstore.Store, doc docstore.Store, client *workflow.Client, eventBus *bus.Bus, handlers []workflow.Handler, logger *logging.Logger) (*scheduler.Scheduler, error) {
	if !cfg.Scheduler.LeaderElection {
		return nil, nil
	}

	var scheduled []scheduler.Scheduled
	for _, h := range handlers {
		if h.Cron != "" {
			scheduled = append(scheduled, scheduler.Scheduled{FunctionID: h.ID, Cron: h.Cron})
		}
	}
	if len(scheduled) == 0 {
		return nil, nil
	}

	sched, err := scheduler.New(kv, doc, client, eventBus, scheduled, scheduler.Config{
		LeaderCheckInterval: cfg.Scheduler.GetLeaderCheckInterval(),
		LeaderTTL:           cfg.Scheduler.GetLeaderTTL(),
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := sched.Start(context.Background()); err != nil {
		return nil, err
	}
	return sched, nil
}

// printBanner prints the startup banner, adapted from the teacher's
// internal/common/banner.go to worchflowd's config shape (queue prefix and
// dashboard address in place of a portfolio service's URL/storage address).
func printBanner(cfg *config.Config, logger *logging.Logger) {
	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	width := 60
	hr := lineColor + strings.Repeat("═", width) + banner.ColorReset

	fmt.Fprintf(os.Stderr, "\n%s\n", hr)
	fmt.Fprintf(os.Stderr, "%s  WORCHFLOW — durable workflow orchestration engine%s\n", textColor, banner.ColorReset)
	fmt.Fprintf(os.Stderr, "%s\n\n", hr)

	kvPad := 14
	kvLines := [][2]string{
		{"Queue prefix", cfg.QueuePrefix},
		{"Redis", cfg.Redis.Addr},
		{"SurrealDB", cfg.Surreal.Endpoint},
		{"Dashboard", fmt.Sprintf("http://%s:%d", cfg.Dashboard.Host, cfg.Dashboard.Port)},
		{"Concurrency", fmt.Sprintf("%d", cfg.Worker.Concurrency)},
	}
	for _, kv := range kvLines {
		fmt.Fprintf(os.Stderr, "%s  %-*s %s%s\n", textColor, kvPad, kv[0], kv[1], banner.ColorReset)
	}
	fmt.Fprintf(os.Stderr, "\n%s\n\n", hr)

	logger.Info().Str("queuePrefix", cfg.QueuePrefix).Msg("worchflowd starting")
}

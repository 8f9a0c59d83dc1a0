// Command orchestrator-service is the reference, non-core HTTP front
// door for the Multi-Agent Disruption Recovery Orchestrator
// (SPEC_FULL.md §6). It wires every core package together behind a
// small chi-based async API; the orchestration engine itself never
// imports net/http.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/disruption-ops/orchestrator/internal/config"
	"github.com/disruption-ops/orchestrator/pkg/agent"
	"github.com/disruption-ops/orchestrator/pkg/arbitrator"
	"github.com/disruption-ops/orchestrator/pkg/catalogue"
	"github.com/disruption-ops/orchestrator/pkg/datafetcher"
	"github.com/disruption-ops/orchestrator/pkg/gateway"
	"github.com/disruption-ops/orchestrator/pkg/orchestrator"
	"github.com/disruption-ops/orchestrator/pkg/phase"
	"github.com/disruption-ops/orchestrator/pkg/scoring"
)

func main() {
	configPath := "config/orchestrator.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		configPath = v
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator-service: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("orchestrator-service: fatal startup error")
	}
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	cat, err := catalogue.Load(cfg.Catalogue.Path, logger)
	if err != nil {
		return err
	}
	if cfg.Catalogue.HotReload {
		if err := cat.Watch(); err != nil {
			logger.WithError(err).Warn("orchestrator-service: catalogue hot-reload watch failed to start")
		} else {
			defer cat.Stop()
		}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:        cfg.Store.Address,
		Password:    cfg.Store.Password,
		DB:          cfg.Store.DB,
		DialTimeout: cfg.Store.DialTimeout,
	})
	fetcher := datafetcher.New(redisClient, datafetcher.Config{
		Address:          cfg.Store.Address,
		Password:         cfg.Store.Password,
		DB:               cfg.Store.DB,
		DialTimeout:      cfg.Store.DialTimeout,
		RetryMaxAttempts: cfg.Store.RetryMaxAttempts,
		RetryBaseDelay:   cfg.Store.RetryBaseDelay,
	}, logger)

	providers, err := buildProviders(ctx, cfg.Gateway.Providers)
	if err != nil {
		return err
	}

	metricsRegistry := prometheus.NewRegistry()
	gw := gateway.New(providers, gateway.Config{
		BreakerFailureThreshold: float64(cfg.Gateway.BreakerFailureThreshold),
		BreakerResetTimeout:     cfg.Gateway.BreakerResetTimeout,
		Registry:                metricsRegistry,
	}, logger)

	runtime := agent.New(gw, fetcher, cat, logger)

	phase1 := phase.New(phase.Config{
		PerAgentTimeout: cfg.Phase1.PerAgentTimeout,
		PhaseTimeout:    cfg.Phase1.PhaseTimeout,
		MaxConcurrency:  cfg.Phase1.MaxConcurrency,
	}, logger)
	phase2 := phase.New(phase.Config{
		PerAgentTimeout: cfg.Phase2.PerAgentTimeout,
		PhaseTimeout:    cfg.Phase2.PhaseTimeout,
		MaxConcurrency:  cfg.Phase2.MaxConcurrency,
	}, logger)

	policy, err := arbitrator.NewPolicyEvaluator(ctx)
	if err != nil {
		return err
	}
	scorer := scoring.New(cfg.Scoring)
	arb := arbitrator.New(gw, scorer, policy, logger)

	orch := orchestrator.New(orchestrator.Config{
		GlobalTimeout: cfg.Orchestrator.GlobalTimeout,
	}, cat, runtime, phase1, phase2, arb, logger)

	store := newJobStore()
	router := newRouter(orch, store, metricsRegistry, logger)

	apiServer := &http.Server{Addr: ":" + cfg.Server.Port, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("orchestrator-service: listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return apiServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

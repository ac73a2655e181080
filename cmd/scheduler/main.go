package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sellerpulse/automation-hub/internal/config"
	"github.com/sellerpulse/automation-hub/internal/orchestrator"
	"github.com/sellerpulse/automation-hub/internal/repository/postgres"
	"github.com/sellerpulse/automation-hub/internal/scheduler"
	"github.com/sellerpulse/automation-hub/pkg/channel"
	"github.com/sellerpulse/automation-hub/pkg/logger"
	"github.com/sellerpulse/automation-hub/pkg/messaging"
	redisBroker "github.com/sellerpulse/automation-hub/pkg/messaging/redis"
	"github.com/sellerpulse/automation-hub/pkg/metrics"
	"github.com/sellerpulse/automation-hub/pkg/resilience"
	"github.com/sellerpulse/automation-hub/pkg/workflow"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	env, err := config.LoadWorkerEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load environment")
	}
	env.Apply(cfg)

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	appLogger := logger.NewLogger(&logger.Config{
		Level:      level,
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Console:    cfg.Logging.Console,
	})

	var db *sqlx.DB
	if env.DatabaseURL != "" {
		db, err = sqlx.Connect("postgres", env.DatabaseURL)
	} else {
		db, err = postgres.NewDB(cfg.Database)
	}
	if err != nil {
		appLogger.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	broker, err := redisBroker.NewRedisBroker(redisBroker.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, appLogger.Zerolog())
	if err != nil {
		appLogger.Fatal(err, "failed to connect to redis broker")
	}
	defer broker.Close()

	baseRepo := postgres.NewBaseRepository(db)
	eventRepo := postgres.NewEventRepository(baseRepo)

	m := metrics.NewMetrics("automation_hub", "scheduler")

	guard := resilience.NewGuard(resilience.GuardConfig{
		RateLimit: resilience.TokenBucketConfig{
			Capacity:   cfg.Resilience.Limiter.Capacity,
			RefillRate: cfg.Resilience.Limiter.RefillRate,
		},
		Breaker: resilience.BreakerConfig{
			FailureThreshold: cfg.Resilience.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Resilience.Breaker.SuccessThreshold,
			RecoveryTimeout:  cfg.Resilience.Breaker.RecoveryTimeout,
			HalfOpenMaxCalls: cfg.Resilience.Breaker.HalfOpenMaxCalls,
		},
		Retry: resilience.RetryConfig{
			MaxAttempts: cfg.Resilience.Retry.MaxAttempts,
			BaseDelay:   cfg.Resilience.Retry.BaseDelay,
			MaxDelay:    cfg.Resilience.Retry.MaxDelay,
			Jitter:      cfg.Resilience.Retry.Jitter,
		},
	}, appLogger, m)
	guard.OnTransition(func(key string, state resilience.State) {
		// Hooks run under the breaker lock, so publish asynchronously.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			transition := messaging.BreakerTransition{Key: key, State: state.String(), At: time.Now()}
			if err := broker.Publish(ctx, messaging.ChannelTransitions, transition); err != nil {
				appLogger.Warn("failed to publish breaker transition", "key", key, "error", err.Error())
			}
		}()
	})

	engine := workflow.NewClient(workflow.Config{
		BaseURL:    cfg.Workflow.BaseURL,
		WebhookURL: cfg.Workflow.WebhookURL,
		APIKey:     cfg.Workflow.APIKey,
		Timeout:    cfg.Workflow.Timeout,
	}, appLogger)

	channels := channel.NewRegistry(
		channel.NewWhatsAppAdapter(channel.WhatsAppConfig{
			BaseURL:  cfg.Channels.WhatsApp.BaseURL,
			APIKey:   cfg.Channels.WhatsApp.APIKey,
			Instance: cfg.Channels.WhatsApp.Instance,
		}),
		channel.NewInstagramAdapter(channel.InstagramConfig{
			BaseURL:     cfg.Channels.Instagram.BaseURL,
			AccessToken: cfg.Channels.Instagram.AccessToken,
		}),
		channel.NewEmailAdapter(channel.EmailConfig{
			Host:     cfg.Channels.Email.Host,
			Port:     cfg.Channels.Email.Port,
			Username: cfg.Channels.Email.Username,
			Password: cfg.Channels.Email.Password,
			From:     cfg.Channels.Email.From,
		}),
	)

	table, err := cfg.Automations.Table()
	if err != nil {
		appLogger.Fatal(err, "invalid automations config")
	}

	orch := orchestrator.New(table, engine, channels, guard, broker, m, appLogger)
	sched := scheduler.New(eventRepo, orch, scheduler.Config{
		BatchSize:    cfg.Scheduler.BatchSize,
		PollInterval: cfg.Scheduler.PollInterval,
		MaxAttempts:  cfg.Scheduler.MaxAttempts,
		RetryDelay:   cfg.Scheduler.RetryDelay,
	}, appLogger, m)

	setupHealthCheck(env.HealthPort, db, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("shutting down")
		cancel()
	}()

	sched.Start(ctx)
}

func setupHealthCheck(port int, db *sqlx.DB, appLogger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			appLogger.Fatal(err, "health server failed")
		}
	}()
}

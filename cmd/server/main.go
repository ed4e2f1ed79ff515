package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/NikhilSetiya/helpdesk-relay/internal/alerting"
	"github.com/NikhilSetiya/helpdesk-relay/internal/api"
	"github.com/NikhilSetiya/helpdesk-relay/internal/credentials"
	"github.com/NikhilSetiya/helpdesk-relay/internal/crm"
	"github.com/NikhilSetiya/helpdesk-relay/internal/monitoring"
	"github.com/NikhilSetiya/helpdesk-relay/internal/submissions"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/config"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/health"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/logging"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/metrics"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/tracing"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		logging.GetLogger().WithError(err).Fatal("Server exited with error")
	}
}

func run() error {
	// A missing .env is fine; the environment may be set by the platform
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "helpdesk-relay",
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logging.SetGlobalLogger(logger)

	startedAt := time.Now()

	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    "helpdesk-relay",
		ServiceVersion: version,
		Environment:    cfg.Alerting.Environment,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	m := metrics.NewMetrics(&metrics.Config{
		Namespace: cfg.Monitoring.MetricsNamespace,
		Enabled:   true,
	})

	httpClient := tracer.InstrumentHTTPClient(&http.Client{Timeout: cfg.CRM.RequestTimeout})

	tokens := credentials.NewCache(credentials.Config{
		TokenURL:     cfg.CRM.AccountsURL,
		ClientID:     cfg.CRM.ClientID,
		ClientSecret: cfg.CRM.ClientSecret,
		RefreshToken: cfg.CRM.RefreshToken,
		Scopes:       cfg.CRM.Scopes,
	},
		credentials.WithHTTPClient(httpClient),
		credentials.WithLogger(logger),
		credentials.WithMetrics(m),
	)

	helpdesk := crm.NewClient(crm.Config{
		BaseURL:           cfg.CRM.APIBaseURL,
		OrgID:             cfg.CRM.OrgID,
		DepartmentID:      cfg.CRM.DepartmentID,
		AuthScheme:        cfg.CRM.AuthScheme,
		CustomFieldFormat: cfg.CRM.CustomFieldFormat,
		Timeout:           cfg.CRM.RequestTimeout,
	}, tokens,
		crm.WithHTTPClient(httpClient),
		crm.WithLogger(logger),
		crm.WithMetrics(m),
	)

	var evaluator *alerting.Evaluator
	var notifier monitoring.Notifier
	if cfg.Alerting.Enabled {
		manager := alerting.NewManager(alerting.ManagerConfig{
			Environment: cfg.Alerting.Environment,
			ServerName:  cfg.Alerting.ServerName,
			StartedAt:   startedAt,
		})
		manager.AddHandler(alerting.NewLoggingHandler())
		manager.AddHandler(alerting.NewTicketHandler(helpdesk, crm.ContactInput{
			Email:     cfg.Alerting.ContactEmail,
			FirstName: cfg.Alerting.ContactFirstName,
			LastName:  cfg.Alerting.ContactLastName,
		}))

		evaluator = alerting.NewEvaluator(manager,
			alerting.WithCooldown(cfg.Alerting.Cooldown),
			alerting.WithEvaluatorLogger(logger),
			alerting.WithEvaluatorMetrics(m),
		)
		notifier = evaluator
	}

	aggregator := monitoring.NewAggregator(notifier,
		monitoring.WithThresholds(monitoring.Thresholds{
			SlowResponse:      cfg.Alerting.SlowResponseThreshold,
			ErrorRate:         cfg.Alerting.ErrorRateThreshold,
			RateLimitBreaches: cfg.Alerting.RateLimitBreachThreshold,
			MemoryRatio:       cfg.Alerting.MemoryThreshold,
			CPURatio:          cfg.Alerting.CPUThreshold,
		}),
		monitoring.WithWindowSize(cfg.Monitoring.ResponseWindow),
		monitoring.WithMetrics(m),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var monitor *monitoring.ResourceMonitor
	sampler, err := monitoring.NewHostSampler("")
	if err != nil {
		logger.Warn("Host resource sampling disabled", "error", err)
	} else {
		monitor = monitoring.NewResourceMonitor(aggregator, sampler, cfg.Monitoring.ResourceSampleInterval)
		monitor.Start(ctx)
	}

	healthService := health.NewService(logger, &health.Config{
		Timeout:   5 * time.Second,
		StartedAt: startedAt,
		Metadata: map[string]string{
			"version":     version,
			"environment": cfg.Alerting.Environment,
		},
	})
	healthService.RegisterChecker("helpdesk_token", health.NewTokenChecker("helpdesk_token", tokens))
	healthService.RegisterChecker("host_resources", resourceChecker(aggregator, cfg))

	service := submissions.NewService(helpdesk,
		submissions.WithLogger(logger),
		submissions.WithMetrics(m),
		submissions.WithTracing(tracer),
	)

	router := api.NewRouter(api.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Submitter: service,
		Observer:  aggregator,
		Metrics:   m,
		Tracing:   tracer,
		Health:    healthService,
	})

	server := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting helpdesk relay", "addr", server.Addr, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if monitor != nil {
		monitor.Stop()
	}
	if evaluator != nil {
		if err := evaluator.Wait(shutdownCtx); err != nil {
			logger.Warn("Pending alerts not delivered before shutdown", "error", err)
		}
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Failed to flush traces", "error", err)
	}

	logger.Info("Server exited")
	return nil
}

// resourceChecker reports the latest host sample taken by the resource
// monitor against the alert thresholds.
func resourceChecker(aggregator *monitoring.Aggregator, cfg *config.Config) health.Checker {
	return health.NewCustomChecker("host_resources", func(ctx context.Context) (health.Status, string, map[string]string, error) {
		usage, sampledAt, ok := aggregator.LastResourceSample()
		if !ok {
			return health.StatusUnknown, "no resource sample yet", nil, nil
		}

		metadata := map[string]string{
			"memory":     health.FormatRatio(usage.MemoryRatio),
			"cpu":        health.FormatRatio(usage.CPURatio),
			"goroutines": fmt.Sprintf("%d", usage.Goroutines),
			"sampled_at": sampledAt.UTC().Format(time.RFC3339),
		}

		if usage.MemoryRatio > cfg.Alerting.MemoryThreshold || usage.CPURatio > cfg.Alerting.CPUThreshold {
			return health.StatusDegraded, "host under resource pressure", metadata, nil
		}
		return health.StatusHealthy, "host resources within limits", metadata, nil
	})
}

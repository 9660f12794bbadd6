package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/tokenwarden/internal/adapter/driven/provider"
	sqliteadapter "github.com/ericfisherdev/tokenwarden/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/tokenwarden/internal/adapter/driving/http"
	"github.com/ericfisherdev/tokenwarden/internal/application"
	"github.com/ericfisherdev/tokenwarden/internal/config"
	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
	"github.com/ericfisherdev/tokenwarden/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on a missing or malformed secret key).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"refresh_threshold", cfg.RefreshThreshold,
		"retry_budget", cfg.RetryBudget,
		"provider_timeout", cfg.ProviderTimeout,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	version, err := sqliteadapter.RunMigrations(db.Writer)
	if err != nil {
		return err
	}
	slog.Info("migrations complete", "schema_version", version)

	// 5. Wire the encrypted credential store behind the working set.
	sealer, err := sqliteadapter.NewSealer(cfg.SecretKey)
	if err != nil {
		return fmt.Errorf("create sealer: %w", err)
	}
	workingSet := application.NewWorkingSet(sqliteadapter.NewCredentialRepo(db, sealer))

	// 6. Register one adapter per provider.
	registry := buildRegistry(cfg)

	// 7. Metrics.
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(promRegistry)

	// 8. Application services.
	coord := application.NewCoordinator(workingSet, registry, recorder, application.CoordinatorConfig{
		RefreshThreshold: cfg.RefreshThreshold,
		RetryBudget:      cfg.RetryBudget,
		ProviderTimeout:  cfg.ProviderTimeout,
	})
	caller := application.NewAuthenticatedCaller(coord, registry, &http.Client{Timeout: 30 * time.Second}, recorder)
	sessions := application.NewSessionService(workingSet, coord)
	manager := application.NewManager(workingSet, coord, caller, sessions)

	monitor := application.NewExpiryMonitor(workingSet, coord, cfg.MonitorInterval)
	go monitor.Start(ctx)

	// 9. HTTP API.
	apiHandler := httphandler.NewHandler(manager, slog.Default())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, promRegistry, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("tokenwarden started", "listen_addr", cfg.ListenAddr, "monitor_interval", cfg.MonitorInterval)

	// 10. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// buildRegistry wires the adapter variant for every provider. OAuth providers
// without a configured client are left out; their credentials fail to refresh
// with INVALID_CREDENTIAL until one is configured.
func buildRegistry(cfg *config.Config) *provider.Registry {
	registry := provider.NewRegistry()
	client := provider.NewHTTPClient(cfg.ProviderTimeout)

	if cfg.Gmail.Configured() {
		registry.Register(model.ProviderGmail, provider.NewOAuthAdapter(
			provider.OAuthConfig{
				Provider:     model.ProviderGmail,
				ClientID:     cfg.Gmail.ClientID,
				ClientSecret: cfg.Gmail.ClientSecret,
			},
			provider.NewDiscovery(provider.GmailIssuer, "", cfg.ProviderTimeout),
			client,
		))
	} else {
		slog.Info("gmail client not configured, refresh disabled", "provider", model.ProviderGmail)
	}

	if cfg.Outlook.Configured() {
		issuer := fmt.Sprintf(provider.OutlookIssuerTemplate, cfg.OutlookTenant)
		registry.Register(model.ProviderOutlook, provider.NewOAuthAdapter(
			provider.OAuthConfig{
				Provider:     model.ProviderOutlook,
				ClientID:     cfg.Outlook.ClientID,
				ClientSecret: cfg.Outlook.ClientSecret,
			},
			provider.NewDiscovery(issuer, provider.OutlookExpectedIssuer, cfg.ProviderTimeout),
			client,
		))
	} else {
		slog.Info("outlook client not configured, refresh disabled", "provider", model.ProviderOutlook)
	}

	if cfg.SessionURL != "" {
		registry.Register(model.ProviderSession, provider.NewSessionAdapter(
			provider.SessionConfig{BaseURL: cfg.SessionURL, APIKey: cfg.SessionAPIKey},
			client,
		))
	} else {
		slog.Info("session provider not configured, refresh disabled", "provider", model.ProviderSession)
	}

	scheme := ""
	if cfg.APIKeyHeader == "Authorization" {
		scheme = "Bearer"
	}
	registry.Register(model.ProviderAPIKey, provider.NewStaticAdapter(cfg.APIKeyHeader, scheme))
	registry.Register(model.ProviderConnectionString, provider.NewStaticAdapter(cfg.APIKeyHeader, scheme))

	return registry
}

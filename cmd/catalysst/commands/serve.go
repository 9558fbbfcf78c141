package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/BoardAI/catalysst/pkg/config"
	"github.com/BoardAI/catalysst/pkg/telemetry"
	"github.com/BoardAI/catalysst/pkg/webhook"
)

func newServeCommand() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Long: `Run the webhook server.

The server:
  - Verifies the signature of every delivery against the webhook secret
    and throttles clients that keep sending unsigned ones
  - Authenticates as the app installation that sent the delivery
  - Reconciles the event and answers with the run result
  - Serves /healthz and, unless a dedicated port is configured, /metrics

Retryable failures answer 502 so the delivery can be redelivered from
the app settings page.`,
		Example: `  # Serve with configuration from the environment
  APP_ID=1234 PRIVATE_KEY_PATH=app.pem WEBHOOK_SECRET=xyz catalysst serve

  # Serve with a config file on a custom address
  catalysst serve --config catalysst.yaml --listen :8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServiceConfig()
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "listen address (overrides config)")

	return cmd
}

func serve(ctx context.Context, cfg *config.ServiceConfig) error {
	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(buildVersion))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()
	logger := tel.Logger.Zerolog()

	rt, err := newRuntime(cfg, logger, tel.Metrics)
	if err != nil {
		return err
	}
	defer rt.Close()
	if rt.defaults != nil {
		if err := rt.defaults.Watch(ctx); err != nil {
			logger.Warn().Err(err).Msg("Defaults file will not be reloaded on change")
		}
	}

	limiter, err := newRateLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer limiter.Close()

	handler, err := webhook.NewHandler(webhook.Options{
		Secret:            []byte(cfg.WebhookSecret),
		Factory:           rt.factory,
		Reconciler:        rt.reconciler,
		Logger:            logger,
		Metrics:           tel.Metrics,
		Limiter:           limiter,
		RejectedPerMinute: cfg.RateLimit.RejectedPerMinute,
	})
	if err != nil {
		return err
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		if metricsServer := tel.Metrics.StartMetricsServer(); metricsServer != nil {
			defer metricsServer.Close()
		} else {
			metricsPath = "/metrics"
		}
	}

	server := webhook.NewServer(webhook.ServerOptions{
		Addr:         cfg.ListenAddr,
		WebhookPath:  cfg.WebhookPath,
		Webhook:      handler,
		Telemetry:    tel,
		Logger:       logger,
		MetricsPath:  metricsPath,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("webhook_path", cfg.WebhookPath).
			Int64("app_id", cfg.AppID).
			Msg("Webhook server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("webhook server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down webhook server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func newRateLimiter(ctx context.Context, cfg *config.ServiceConfig, logger zerolog.Logger) (webhook.RateLimiter, error) {
	if cfg.RateLimit.RedisAddr == "" {
		return webhook.NewMemoryRateLimiter(), nil
	}
	limiter, err := webhook.NewRedisRateLimiter(ctx, webhook.RedisOptions{
		Addr:     cfg.RateLimit.RedisAddr,
		Password: cfg.RateLimit.RedisPassword,
		DB:       cfg.RateLimit.RedisDB,
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("addr", cfg.RateLimit.RedisAddr).Msg("Using redis rate limiter")
	return limiter, nil
}

// Package telemetry provides observability instrumentation for catalysst.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus) into a unified system for monitoring
// webhook handling and reconciliation.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Add telemetry to context so the engine can find it:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// Request-scoped fields travel on the context logger. Callers attach it,
// StartOperation and WithActionContext extend it, and components read it
// back with a fallback for contexts that carry none:
//
//	ctx = logger.With().Str("delivery_id", id).Logger().WithContext(ctx)
//	log := telemetry.LoggerFrom(ctx, base)
//	log.Info().Msg("Delivery accepted")
//
// # Distributed Tracing
//
// Reconciliations open a span named after the event and one child span per
// applied action. Supported exporters: otlp (gRPC), stdout, none.
//
// # Metrics
//
// Metrics live on a private registry and are exposed with Metrics.Handler:
//
//   - webhook_deliveries_total{event,outcome}
//   - reconciles_total{event,status}, reconcile_duration_seconds{event}
//   - actions_executed_total{operation,status}, action_duration_seconds{operation}
//   - control_plane_calls_total{method,status}
//   - errors_by_class_total{class}, errors_by_code_total{code}
//   - rate_limit_hits_total{route}, http_requests_total{method,route,status}
//   - config_reloads_total{result}, active_reconciles
//
// All Record methods are safe to call on a disabled or nil Metrics.
package telemetry

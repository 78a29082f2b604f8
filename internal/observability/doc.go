// Package observability provides the fleet's tracing, metrics, structured
// logging, and health-check infrastructure.
//
// # Overview
//
// The package implements OpenTelemetry-based observability with:
//   - Distributed tracing (OpenTelemetry/Jaeger)
//   - Metrics collection (Prometheus)
//   - Structured logging (log/slog)
//   - Health check endpoints
//   - Graceful shutdown with trace flushing
//
// # Quick Start
//
//	config := observability.DefaultConfig("fleet")
//	obs, err := observability.NewObservability(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer obs.Shutdown(context.Background())
//
//	logger := obs.Logger
//	tracer := obs.Tracer
//	meter := obs.Meter
//
// This sets up an OTLP trace exporter, a Prometheus metrics exporter, a
// structured logger with trace context, and resource attributes (service
// name, version, environment).
//
// # Configuration
//
//	config := observability.Config{
//	    ServiceName:    "fleet",
//	    ServiceVersion: "1.0.0",
//	    JaegerEndpoint: "localhost:4317",
//	    PrometheusPort: "9090",
//	    Environment:    "production",
//	    LogLevel:       "INFO",
//	}
//
// DefaultConfig reads the same fields from internal/config.AppConfig.
//
// # Distributed Tracing
//
//	traceManager := observability.NewTraceManager("fleet")
//	ctx, span := traceManager.StartEventProcessingSpan(ctx, e.ID, string(e.Kind), e.Source, "")
//	defer span.End()
//	if err != nil {
//	    traceManager.RecordError(span, err)
//	} else {
//	    traceManager.SetSpanSuccess(span)
//	}
//
// StartPublishSpan and StartConsumeSpan annotate a span crossing the
// in-process bus; AddAgentAttributes and AddAgentResult record which agent
// handled an event and what it produced.
//
// # Metrics
//
//	metricsManager, err := observability.NewMetricsManager(meter)
//
// Event metrics: events_processed_total, event_processing_duration_seconds,
// event_errors_total, events_published_total — all labeled by event type
// and source/destination. Bus metrics: bus_queue_depth,
// bus_dispatch_worker_active. System metrics: process_cpu_seconds_total,
// process_resident_memory_bytes, go_goroutines, go_memstats_alloc_bytes,
// refreshed by UpdateSystemMetrics. All are exposed on the HealthServer's
// /metrics endpoint (cmd/fleet serves it on FLEET_HEALTH_PORT, default
// 8080); Config.PrometheusPort is carried but opens no listener.
//
// # Structured Logging
//
//	obs.Logger.InfoContext(ctx, "dispatching event", "event_id", e.ID, "kind", e.Kind)
//
// LogLevel controls verbosity (DEBUG, INFO, WARN, ERROR); DEBUG also
// duplicates output to stdout via CombinedHandler.
//
// # Health Checks
//
// See healthcheck.go: HealthServer exposes /health, /ready, and /metrics,
// the same routing idiom api.Handler and webhook.Handler use for their own
// endpoints.
//
// # Related Packages
//
//   - internal/config: supplies the environment-derived defaults this
//     package's DefaultConfig reads.
//   - cmd/fleet: composition root that wires Observability, the bus, the
//     agent registry, the scheduler, and the HTTP servers together.
package observability

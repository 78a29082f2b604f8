// Package config provides centralized configuration management for the
// fleet through environment variables with sensible defaults.
//
// # Overview
//
// AppConfig is a single source of truth for the fleet's closed
// configuration set (SPEC_FULL.md §6.4), plus the observability fields the
// teacher's own config layer already defined. All values have defaults, so
// the fleet runs unconfigured.
//
// # Quick Start
//
//	cfg := config.Load()
//	fmt.Println(cfg.AgentsEnabled, cfg.AgentReviewSLAHours)
//
// # Configuration Fields
//
// **Fleet toggles**:
//   - AGENTS_ENABLED: starts the fleet dispatching (default true)
//   - AGENT_ANALYTICS_SCHEDULE_HOURS: scheduled-report interval (default 24)
//   - AGENT_REVIEW_SLA_HOURS: review SLA sweep interval (default 24)
//   - CHAT_DEFAULT_CHANNEL: fallback chat channel (default "general")
//   - DESIGN_WEBHOOK_SECRET: HMAC secret for Figma webhooks, if set
//   - HISTORY_SIZE: bus ring-buffer capacity (default 1000)
//   - DEPLOY_HEALTH_DEFAULT: "unhealthy" or "healthy" posture when zero
//     monitoring probes ran during a post-deploy health check
//
// **LLM defaults**:
//   - LLM_MODEL, LLM_MAX_TOKENS, LLM_TEMPERATURE
//
// **Bus tuning**:
//   - BUS_WORKER_POOL_SIZE (default 32)
//   - BUS_PUBLISH_TIMEOUT_SECONDS (default 5)
//
// **Observability**:
//   - JAEGER_ENDPOINT, PROMETHEUS_PORT, SERVICE_NAME, SERVICE_VERSION,
//     ENVIRONMENT, LOG_LEVEL, FLEET_HEALTH_PORT
//
// # Integration with Other Packages
//
// observability.DefaultConfig reads ServiceVersion, JaegerEndpoint,
// PrometheusPort, Environment, and LogLevel straight off an AppConfig.
// cmd/fleet loads one AppConfig at startup and passes AGENTS_ENABLED, the
// two schedule intervals, HISTORY_SIZE, the bus tuning values,
// DESIGN_WEBHOOK_SECRET, SERVICE_NAME, SERVICE_VERSION and
// FLEET_HEALTH_PORT to the components that use them. CHAT_DEFAULT_CHANNEL,
// DEPLOY_HEALTH_DEFAULT and the LLM_* values are loaded but no component
// reads them: the chat notifier falls back to its built-in "general"
// channel, the deployment agent takes its zero-monitoring posture from the
// per-project deploy_health_default agent option, and the Vertex client
// takes its model from VERTEX_AI_MODEL with a fixed temperature.
//
// # Best Practices
//
// Call Load() once per process and pass the result to the components that
// need it; AppConfig is a read-only snapshot of the environment at startup.
package config

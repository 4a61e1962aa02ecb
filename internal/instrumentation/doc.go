// Package instrumentation provides OpenTelemetry metrics, tracing and audit
// logging for calagent.
//
// # Metrics
//
// HTTP:
//   - http_requests_total, http_request_duration_seconds
//   - agent_active_streams: open SSE streams
//
// Calendar providers:
//   - calendar_api_operations_total, calendar_api_operation_duration_seconds
//     labelled by provider, operation and status
//
// OAuth:
//   - oauth_token_refresh_total by provider and result
//
// Language models:
//   - agent_llm_call_latency_seconds by tier and status
//   - agent_llm_fallback_total by from, to and reason
//
// Agent:
//   - agent_runs_total, agent_run_duration_seconds by intent and status
//   - agent_tool_invocations_total, agent_tool_duration_seconds
//
// # Configuration
//
// DefaultConfig reads INSTRUMENTATION_ENABLED, METRICS_EXPORTER,
// TRACING_EXPORTER, OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_TRACES_SAMPLER_ARG and
// OTEL_SERVICE_NAME. The Prometheus exporter writes to a private registry
// exposed through Provider.PrometheusHandler.
package instrumentation

package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrMethod    = "method"
	attrRoute     = "route"
	attrStatus    = "status"
	attrOperation = "operation"
	attrProvider  = "provider"
	attrResult    = "result"
	attrTool      = "tool"
	attrIntent    = "intent"
	attrTier      = "tier"
	attrModel     = "model"
	attrFrom      = "from"
	attrTo        = "to"
	attrReason    = "reason"
)

var durationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}

// Metrics records calagent's observability metrics. The zero value is a
// valid no-op recorder.
type Metrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	activeStreams       metric.Int64UpDownCounter

	calendarOperationsTotal   metric.Int64Counter
	calendarOperationDuration metric.Float64Histogram

	tokenRefreshTotal metric.Int64Counter

	llmCallLatency metric.Float64Histogram
	llmFallbacks   metric.Int64Counter

	agentRunsTotal  metric.Int64Counter
	agentRunLatency metric.Float64Histogram

	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	// detailedLabels adds the model name to model-call latency
	detailedLabels bool
}

// NewMetrics creates every instrument on the given meter.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{detailedLabels: detailedLabels}
	var err error

	if m.httpRequestsTotal, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}
	if m.httpRequestDuration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0)); err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}
	if m.activeStreams, err = meter.Int64UpDownCounter("agent_active_streams",
		metric.WithDescription("Number of open agent event streams"),
		metric.WithUnit("{stream}")); err != nil {
		return nil, fmt.Errorf("failed to create agent_active_streams gauge: %w", err)
	}

	if m.calendarOperationsTotal, err = meter.Int64Counter("calendar_api_operations_total",
		metric.WithDescription("Total number of calendar provider API operations"),
		metric.WithUnit("{operation}")); err != nil {
		return nil, fmt.Errorf("failed to create calendar_api_operations_total counter: %w", err)
	}
	if m.calendarOperationDuration, err = meter.Float64Histogram("calendar_api_operation_duration_seconds",
		metric.WithDescription("Calendar provider API operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...)); err != nil {
		return nil, fmt.Errorf("failed to create calendar_api_operation_duration_seconds histogram: %w", err)
	}

	if m.tokenRefreshTotal, err = meter.Int64Counter("oauth_token_refresh_total",
		metric.WithDescription("Total number of OAuth token refresh attempts"),
		metric.WithUnit("{attempt}")); err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	if m.llmCallLatency, err = meter.Float64Histogram("agent_llm_call_latency_seconds",
		metric.WithDescription("Time spent in language model calls"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...)); err != nil {
		return nil, fmt.Errorf("failed to create agent_llm_call_latency_seconds histogram: %w", err)
	}
	if m.llmFallbacks, err = meter.Int64Counter("agent_llm_fallback_total",
		metric.WithDescription("Number of times the local fallback model was used"),
		metric.WithUnit("{fallback}")); err != nil {
		return nil, fmt.Errorf("failed to create agent_llm_fallback_total counter: %w", err)
	}

	if m.agentRunsTotal, err = meter.Int64Counter("agent_runs_total",
		metric.WithDescription("Total number of agent runs"),
		metric.WithUnit("{run}")); err != nil {
		return nil, fmt.Errorf("failed to create agent_runs_total counter: %w", err)
	}
	if m.agentRunLatency, err = meter.Float64Histogram("agent_run_duration_seconds",
		metric.WithDescription("End-to-end agent run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...)); err != nil {
		return nil, fmt.Errorf("failed to create agent_run_duration_seconds histogram: %w", err)
	}

	if m.toolInvocationsTotal, err = meter.Int64Counter("agent_tool_invocations_total",
		metric.WithDescription("Total number of calendar tool invocations"),
		metric.WithUnit("{invocation}")); err != nil {
		return nil, fmt.Errorf("failed to create agent_tool_invocations_total counter: %w", err)
	}
	if m.toolDuration, err = meter.Float64Histogram("agent_tool_duration_seconds",
		metric.WithDescription("Calendar tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...)); err != nil {
		return nil, fmt.Errorf("failed to create agent_tool_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request by method, route pattern and status code.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrRoute, route),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordCalendarOperation records one provider API call.
//
// Parameters:
//   - provider: "google" or "microsoft"
//   - operation: list, freebusy, create, update, delete
//   - status: "success" or "error"
func (m *Metrics) RecordCalendarOperation(ctx context.Context, provider, operation, status string, duration time.Duration) {
	if m == nil || m.calendarOperationsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrProvider, provider),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	)
	m.calendarOperationsTotal.Add(ctx, 1, attrs)
	m.calendarOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordTokenRefresh records an OAuth refresh attempt.
// Result is one of RefreshResultSuccess, RefreshResultFailure, RefreshResultRevoked.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, provider, result string) {
	if m == nil || m.tokenRefreshTotal == nil {
		return
	}
	m.tokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrProvider, provider),
		attribute.String(attrResult, result),
	))
}

// RecordModelCall records the latency of a single language model call.
func (m *Metrics) RecordModelCall(ctx context.Context, tier, model, status string, duration time.Duration) {
	if m == nil || m.llmCallLatency == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(attrTier, tier),
		attribute.String(attrStatus, status),
	}
	if m.detailedLabels && model != "" {
		attrs = append(attrs, attribute.String(attrModel, model))
	}
	m.llmCallLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordModelFallback counts one switch from the primary to the fallback model.
func (m *Metrics) RecordModelFallback(ctx context.Context, from, to, reason string) {
	if m == nil || m.llmFallbacks == nil {
		return
	}
	m.llmFallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrFrom, from),
		attribute.String(attrTo, to),
		attribute.String(attrReason, reason),
	))
}

// RecordAgentRun records a completed agent run.
func (m *Metrics) RecordAgentRun(ctx context.Context, intent, status string, duration time.Duration) {
	if m == nil || m.agentRunsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrIntent, intent),
		attribute.String(attrStatus, status),
	)
	m.agentRunsTotal.Add(ctx, 1, attrs)
	m.agentRunLatency.Record(ctx, duration.Seconds(), attrs)
}

// RecordToolInvocation records a calendar tool invocation.
func (m *Metrics) RecordToolInvocation(ctx context.Context, tool, status string, duration time.Duration) {
	if m == nil || m.toolInvocationsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrTool, tool),
		attribute.String(attrStatus, status),
	)
	m.toolInvocationsTotal.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
}

// StreamOpened increments the open stream gauge.
func (m *Metrics) StreamOpened(ctx context.Context) {
	if m == nil || m.activeStreams == nil {
		return
	}
	m.activeStreams.Add(ctx, 1)
}

// StreamClosed decrements the open stream gauge.
func (m *Metrics) StreamClosed(ctx context.Context) {
	if m == nil || m.activeStreams == nil {
		return
	}
	m.activeStreams.Add(ctx, -1)
}

package instrumentation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// ToolInvocation captures one calendar tool invocation for the audit log.
//
// UserID may identify a person. It is hashed in the log output unless the
// audit logger was configured to include PII.
type ToolInvocation struct {
	Tool     string
	UserID   string
	Provider string
	RunID    string

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	TraceID string
	SpanID  string
}

// NewToolInvocation creates a ToolInvocation with timing started.
func NewToolInvocation(tool string) *ToolInvocation {
	return &ToolInvocation{Tool: tool, StartTime: time.Now()}
}

// WithUser sets the user and provider the tool acted for.
func (ti *ToolInvocation) WithUser(userID, provider string) *ToolInvocation {
	ti.UserID = userID
	ti.Provider = provider
	return ti
}

// WithRun sets the agent run identifier.
func (ti *ToolInvocation) WithRun(runID string) *ToolInvocation {
	ti.RunID = runID
	return ti
}

// WithSpanContext copies trace identifiers from the current span.
func (ti *ToolInvocation) WithSpanContext(ctx context.Context) *ToolInvocation {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		ti.TraceID = sc.TraceID().String()
		ti.SpanID = sc.SpanID().String()
	}
	return ti
}

// Complete marks the invocation finished.
func (ti *ToolInvocation) Complete(err error) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Success = err == nil
	if err != nil {
		ti.Error = err.Error()
	}
	return ti
}

// Status returns "success" or "error".
func (ti *ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	return StatusError
}

func (ti *ToolInvocation) attrs(includePII bool) []slog.Attr {
	user := ti.UserID
	if !includePII {
		user = hashUser(user)
	}
	attrs := []slog.Attr{
		slog.String("tool", ti.Tool),
		slog.String("user", user),
		slog.Duration("duration", ti.Duration),
		slog.Bool("success", ti.Success),
	}
	if ti.Provider != "" {
		attrs = append(attrs, slog.String("provider", ti.Provider))
	}
	if ti.RunID != "" {
		attrs = append(attrs, slog.String("run_id", ti.RunID))
	}
	if ti.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ti.TraceID), slog.String("span_id", ti.SpanID))
	}
	if ti.Error != "" {
		attrs = append(attrs, slog.String("error", ti.Error))
	}
	return attrs
}

func hashUser(userID string) string {
	if userID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(userID))
	return "user:" + hex.EncodeToString(sum[:8])
}

// AuditLogger writes tool invocations to a dedicated slog stream.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates an AuditLogger from the audit configuration.
func NewAuditLogger(logger *slog.Logger, cfg AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger.With(slog.String("log_type", "audit")),
		includePII: cfg.IncludePII,
		enabled:    cfg.Enabled,
	}
}

// LogToolInvocation writes one audit record. Safe on a nil receiver.
func (a *AuditLogger) LogToolInvocation(ti *ToolInvocation) {
	if a == nil || !a.enabled || ti == nil {
		return
	}
	level := slog.LevelInfo
	if !ti.Success {
		level = slog.LevelWarn
	}
	a.logger.LogAttrs(context.Background(), level, "tool_invocation", ti.attrs(a.includePII)...)
}

package tools

import (
	"context"
	"time"

	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/logging"
)

// instrumented runs fn with tool metrics and an audit record. With neither
// configured fn runs bare.
func (d *Dispatcher) instrumented(ctx context.Context, call *Call, fn func(ctx context.Context) error) error {
	if d.metrics == nil && d.audit == nil {
		return fn(ctx)
	}

	start := time.Now()
	invocation := instrumentation.NewToolInvocation(call.Tool()).
		WithUser(call.UserID, string(call.Provider)).
		WithRun(call.RunID).
		WithSpanContext(ctx)

	err := fn(ctx)
	invocation.Complete(err)

	d.metrics.RecordToolInvocation(ctx, call.Tool(), invocation.Status(), time.Since(start))
	d.audit.LogToolInvocation(invocation)
	if err != nil {
		d.logger.Debug("Tool invocation failed", logging.Tool(call.Tool()), logging.Err(err))
	}
	return err
}

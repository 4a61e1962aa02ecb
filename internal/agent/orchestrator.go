package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/calagent/internal/credentials"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/intent"
	"github.com/teemow/calagent/internal/llm"
	"github.com/teemow/calagent/internal/logging"
	"github.com/teemow/calagent/internal/oauth"
	"github.com/teemow/calagent/internal/tools"
)

// ToolRunner prepares and executes tool calls. *tools.Dispatcher implements
// it.
type ToolRunner interface {
	Prepare(ctx context.Context, req tools.Request) (*tools.Call, error)
	Execute(ctx context.Context, call *tools.Call) (*tools.Result, error)
}

// Request is one user instruction.
type Request struct {
	UserID   string
	Provider credentials.Provider
	Text     string
}

// Orchestrator sequences classification, dispatch and synthesis for a run.
type Orchestrator struct {
	runner   ToolRunner
	classify func(text string) intent.Result
	metrics  *instrumentation.Metrics
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithMetrics(m *instrumentation.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClassifier replaces intent.Classify.
func WithClassifier(fn func(text string) intent.Result) Option {
	return func(o *Orchestrator) { o.classify = fn }
}

// WithClock overrides the step timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(runner ToolRunner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runner:   runner,
		classify: intent.Classify,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Stream starts a run and returns its frames. The channel is unbuffered, so
// each frame is handed over before the next step begins, and it is closed
// when the run ends. Cancelling ctx stops the run at its next step.
func (o *Orchestrator) Stream(ctx context.Context, req Request) <-chan Frame {
	frames := make(chan Frame)
	go func() {
		defer close(frames)
		o.Run(ctx, req, frames)
	}()
	return frames
}

// run holds the state of one orchestrator run.
type run struct {
	o      *Orchestrator
	id     string
	req    Request
	frames chan<- Frame
	steps  []Step
	intent intent.Intent
	// mutated is set once a provider-side change may have been applied.
	mutated bool
}

// Run executes req, sending frames on frames. It returns when the run ends
// or ctx is cancelled and does not close frames.
func (o *Orchestrator) Run(ctx context.Context, req Request, frames chan<- Frame) {
	r := &run{o: o, id: o.newID(), req: req, frames: frames, intent: intent.Unknown}
	start := time.Now()
	logger := logging.WithRun(o.logger, r.id)

	status, err := r.execute(ctx)

	o.metrics.RecordAgentRun(ctx, string(r.intent), status, time.Since(start))
	attrs := []any{
		logging.Intent(string(r.intent)),
		logging.Provider(string(req.Provider)),
		logging.UserHash(req.UserID),
		logging.Status(status),
		slog.Int("steps", len(r.steps)),
		slog.Duration(logging.KeyDuration, time.Since(start)),
	}
	if err != nil {
		attrs = append(attrs, logging.Err(err))
	}
	logger.Info("Agent run finished", attrs...)
}

const (
	runStatusSuccess   = "success"
	runStatusError     = "error"
	runStatusCancelled = "cancelled"
)

func (r *run) execute(ctx context.Context) (string, error) {
	classified := r.o.classify(r.req.Text)
	r.intent = classified.Intent
	msg := fmt.Sprintf("Classified request as %s (confidence %.2f).", classified.Intent, classified.Confidence)
	if classified.Intent == intent.Unknown {
		msg = "Could not match the request to a calendar operation."
	}
	if !r.emitStep(ctx, msg, "", nil, nil) {
		return runStatusCancelled, ctx.Err()
	}
	if classified.Intent == intent.Unknown {
		return r.fail(ctx, tools.ErrIntentUnrecognized)
	}

	call, err := r.o.runner.Prepare(ctx, tools.Request{
		RunID:    r.id,
		UserID:   r.req.UserID,
		Provider: r.req.Provider,
		Text:     r.req.Text,
		Intent:   classified.Intent,
	})
	if err != nil {
		return r.fail(ctx, err)
	}
	msg = fmt.Sprintf("Built %s input with %s (%s model).", call.Tool(), call.Model, call.Tier)
	if !r.emitStep(ctx, msg, call.Tool(), call.Input, nil) {
		return runStatusCancelled, ctx.Err()
	}

	if ctx.Err() != nil {
		return runStatusCancelled, ctx.Err()
	}
	res, err := r.o.runner.Execute(ctx, call)
	if tools.Mutates(call.Intent) && (err == nil || outcomeUnknown(err)) {
		r.mutated = true
	}
	if err != nil {
		return r.fail(ctx, err)
	}
	msg = fmt.Sprintf("Ran %s on %s.", res.Tool, r.req.Provider)
	if !r.emitStep(ctx, msg, res.Tool, res.Input, res.Output) {
		return runStatusCancelled, ctx.Err()
	}

	if !r.emitStep(ctx, res.Summary, "", nil, nil) {
		return runStatusCancelled, ctx.Err()
	}

	result := &RunResult{
		RunID:       r.id,
		FinalIntent: r.intent,
		FinalOutput: res.Output,
		Summary:     res.Summary,
		Steps:       r.steps,
		Timestamp:   r.o.now(),
	}
	if !r.emit(ctx, Frame{Result: result}) {
		return runStatusCancelled, ctx.Err()
	}
	return runStatusSuccess, nil
}

// emit hands f to the consumer. It reports false, sending nothing, once ctx
// is done.
func (r *run) emit(ctx context.Context, f Frame) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case r.frames <- f:
		return true
	}
}

func (r *run) emitStep(ctx context.Context, message, tool string, input, output any) bool {
	step := Step{
		StepNumber: len(r.steps) + 1,
		Message:    message,
		ToolInput:  input,
		ToolOutput: output,
		Timestamp:  r.o.now(),
	}
	if tool != "" {
		step.ToolInvoked = &tool
	}
	if !r.emit(ctx, Frame{Step: &step}) {
		return false
	}
	r.steps = append(r.steps, step)
	return true
}

func (r *run) fail(ctx context.Context, err error) (string, error) {
	if ctx.Err() != nil {
		return runStatusCancelled, err
	}
	details := errorDetails(err)
	details["run_id"] = r.id
	details["intent"] = string(r.intent)
	details["step"] = len(r.steps)
	details["partial"] = r.mutated

	msg := err.Error()
	if r.mutated {
		msg += "; the operation may have partially completed"
	}
	r.emit(ctx, Frame{Error: &ErrorFrame{Error: msg, Details: details, Timestamp: r.o.now()}})
	return runStatusError, err
}

// outcomeUnknown reports whether a failed mutation might still have been
// applied by the provider.
func outcomeUnknown(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ee *tools.ExecutionError
	if errors.As(err, &ee) {
		return ee.Status == 0 || ee.Status >= http.StatusInternalServerError
	}
	return false
}

// errorDetails describes err for the error frame.
func errorDetails(err error) map[string]any {
	var (
		inErr   *tools.InputError
		execErr *tools.ExecutionError
		llmErr  *llm.Error
		oErr    *oauth.Error
	)
	switch {
	case errors.Is(err, tools.ErrIntentUnrecognized):
		return map[string]any{"type": "intent_unrecognized", "status": http.StatusBadRequest}
	case errors.As(err, &inErr):
		return map[string]any{"type": "tool_input_error", "tool": inErr.Tool, "field": inErr.Field, "status": http.StatusUnprocessableEntity}
	case errors.As(err, &llmErr):
		return map[string]any{"type": "llm_error", "tiers": llmErr.Tiers(), "status": http.StatusBadGateway}
	case errors.As(err, &oErr):
		return map[string]any{
			"type":           "oauth_error",
			"code":           oErr.Code,
			"provider":       string(oErr.Provider),
			"reauthenticate": oErr.RequiresConsent(),
			"status":         oErr.HTTPStatus(),
		}
	case errors.As(err, &execErr):
		return map[string]any{
			"type":            "tool_execution_error",
			"tool":            execErr.Tool,
			"provider":        string(execErr.Provider),
			"provider_status": execErr.Status,
			"message":         execErr.Message,
			"status":          http.StatusBadGateway,
		}
	}
	return map[string]any{"type": "internal_error", "status": http.StatusInternalServerError}
}

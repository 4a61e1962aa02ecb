package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/credentials"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/intent"
	"github.com/teemow/calagent/internal/llm"
	"github.com/teemow/calagent/internal/logging"
	"github.com/teemow/calagent/internal/oauth"
)

// Generator produces a JSON completion. *llm.Selector implements it.
type Generator interface {
	Generate(ctx context.Context, userID, prompt string) (llm.Completion, error)
}

// Config holds the user-facing defaults the dispatcher applies.
type Config struct {
	// Location resolves timestamps without an offset. Defaults to UTC.
	Location *time.Location
	// WorkingHours bounds free slot searches unless the request overrides
	// them.
	WorkingHours calendar.WorkingHours
}

// Request is one classified user request.
type Request struct {
	RunID    string
	UserID   string
	Provider credentials.Provider
	Text     string
	Intent   intent.Intent
}

// Call is a prepared, validated tool invocation.
type Call struct {
	Request
	Input Input
	// Model and Tier identify the model that produced Input.
	Model string
	Tier  string
}

// Tool returns the tool name, which is the intent name.
func (c *Call) Tool() string { return string(c.Intent) }

// Result is a completed tool invocation.
type Result struct {
	Tool    string
	Input   Input
	Output  any
	Summary string
}

// Mutates reports whether the intent changes provider state.
func Mutates(in intent.Intent) bool {
	switch in {
	case intent.CreateEvent, intent.RescheduleEvent, intent.CancelEvent:
		return true
	}
	return false
}

// Dispatcher builds and runs tool invocations.
type Dispatcher struct {
	adapters calendar.Registry
	model    Generator
	cfg      Config
	now      func() time.Time
	metrics  *instrumentation.Metrics
	audit    *instrumentation.AuditLogger
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records tool invocation metrics.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithAuditLogger writes one audit record per tool invocation.
func WithAuditLogger(a *instrumentation.AuditLogger) Option {
	return func(d *Dispatcher) { d.audit = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock overrides the time source used for prompts and lookups.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a Dispatcher over the given adapters and model.
func NewDispatcher(adapters calendar.Registry, model Generator, cfg Config, opts ...Option) *Dispatcher {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	d := &Dispatcher{
		adapters: adapters,
		model:    model,
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Prepare renders the prompt for req, asks the model for the tool input and
// validates it. No provider is contacted.
func (d *Dispatcher) Prepare(ctx context.Context, req Request) (*Call, error) {
	if !req.Intent.Valid() {
		return nil, ErrIntentUnrecognized
	}
	if _, ok := d.adapters.Get(req.Provider); !ok {
		return nil, &ExecutionError{Tool: string(req.Intent), Provider: req.Provider, Message: "calendar provider is not configured"}
	}

	now := d.now().In(d.cfg.Location)
	prompt, err := BuildPrompt(req.Intent, PromptData{
		UserInput: req.Text,
		Now:       now.Format(time.RFC3339),
		Today:     now.Format("Monday, 2006-01-02"),
		TimeZone:  d.cfg.Location.String(),
		Hints:     intent.ExtractEntities(req.Text, now).Hints(),
	})
	if err != nil {
		return nil, err
	}

	completion, err := d.model.Generate(ctx, req.UserID, prompt)
	if err != nil {
		return nil, err
	}

	input, err := parseInput(req.Intent, completion.Text, d.cfg.Location, d.cfg.WorkingHours)
	if err != nil {
		d.logger.Info("Rejected model output",
			logging.Intent(string(req.Intent)),
			logging.Model(completion.Model),
			logging.Err(err))
		return nil, err
	}
	return &Call{Request: req, Input: input, Model: completion.Model, Tier: completion.Tier}, nil
}

// Execute runs a prepared call against its provider adapter.
func (d *Dispatcher) Execute(ctx context.Context, call *Call) (*Result, error) {
	adapter, ok := d.adapters.Get(call.Provider)
	if !ok {
		return nil, &ExecutionError{Tool: call.Tool(), Provider: call.Provider, Message: "calendar provider is not configured"}
	}

	var out any
	err := d.instrumented(ctx, call, func(ctx context.Context) error {
		var err error
		out, err = d.execute(ctx, adapter, call)
		return err
	})
	if err != nil {
		return nil, d.classify(call, err)
	}
	return &Result{
		Tool:    call.Tool(),
		Input:   call.Input,
		Output:  out,
		Summary: summarize(out, d.cfg.Location),
	}, nil
}

// Dispatch prepares and executes req.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	call, err := d.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return d.Execute(ctx, call)
}

func (d *Dispatcher) execute(ctx context.Context, adapter calendar.Adapter, call *Call) (any, error) {
	switch in := call.Input.(type) {
	case ListEventsInput:
		events, err := adapter.ListEvents(ctx, call.UserID, calendar.TimeRange{Start: in.Start, End: in.End}, in.MaxResults)
		if err != nil {
			return nil, err
		}
		if events == nil {
			events = []calendar.Event{}
		}
		return ListEventsOutput{Events: events, Count: len(events)}, nil

	case FindFreeSlotsInput:
		slots, err := adapter.FindFreeSlots(ctx, call.UserID, calendar.SlotQuery{
			Range:        calendar.TimeRange{Start: in.Start, End: in.End},
			Duration:     time.Duration(in.DurationMinutes) * time.Minute,
			Attendees:    in.Attendees,
			WorkingHours: in.hours,
			NotBefore:    d.now(),
		})
		if err != nil {
			return nil, err
		}
		if slots == nil {
			slots = []calendar.TimeRange{}
		}
		return FindFreeSlotsOutput{Slots: slots, DurationMinutes: in.DurationMinutes}, nil

	case CreateEventInput:
		ev, err := adapter.CreateEvent(ctx, call.UserID, calendar.EventFields{
			Summary:     in.Summary,
			Description: in.Description,
			Location:    in.Location,
			Start:       in.Start,
			End:         in.End,
			Attendees:   in.Attendees,
			TimeZone:    d.cfg.Location.String(),
		})
		if err != nil {
			return nil, err
		}
		return CreateEventOutput{Event: ev}, nil

	case RescheduleEventInput:
		id, previous, err := resolveEvent(ctx, adapter, call.UserID, in.EventRef, d.now())
		if err != nil {
			return nil, err
		}
		ev, err := adapter.RescheduleEvent(ctx, call.UserID, id, in.NewStart, in.NewEnd)
		if err != nil {
			return nil, err
		}
		return RescheduleEventOutput{Event: ev, Previous: previous}, nil

	case CancelEventInput:
		id, target, err := resolveEvent(ctx, adapter, call.UserID, in.EventRef, d.now())
		if err != nil {
			return nil, err
		}
		if err := adapter.CancelEvent(ctx, call.UserID, id); err != nil {
			return nil, err
		}
		return CancelEventOutput{EventID: calendar.EventID(adapter.Provider(), id), Cancelled: true, Event: target}, nil
	}
	return nil, fmt.Errorf("unsupported tool input %T", call.Input)
}

// classify keeps errors the caller must treat specially and wraps the rest
// as execution errors.
func (d *Dispatcher) classify(call *Call, err error) error {
	var oErr *oauth.Error
	if errors.As(err, &oErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return executionError(call.Tool(), call.Provider, err)
}

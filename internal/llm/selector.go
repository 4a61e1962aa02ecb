package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/logging"
)

// Config controls tier selection.
type Config struct {
	// ForceFallback routes every call to the fallback client.
	ForceFallback bool
	// QuotaPerHour caps primary calls per user. Zero disables the quota.
	QuotaPerHour float64
	QuotaBurst   int
	// CallTimeout bounds each individual model call. Zero means no bound
	// beyond the caller's context.
	CallTimeout time.Duration
}

// Recorder receives per-call observations. *instrumentation.Metrics
// satisfies it.
type Recorder interface {
	RecordModelCall(ctx context.Context, tier, model, status string, duration time.Duration)
	RecordModelFallback(ctx context.Context, from, to, reason string)
}

// Completion is a usable model answer.
type Completion struct {
	// Text is the JSON object extracted from the model output.
	Text  string
	Tier  string
	Model string
}

// Selector chooses between the primary and fallback clients.
type Selector struct {
	primary  Client
	fallback Client
	cfg      Config
	quota    *Quota
	recorder Recorder
	logger   *slog.Logger
}

// NewSelector creates a Selector. primary may be nil, in which case every
// call goes to the fallback client.
func NewSelector(primary, fallback Client, cfg Config, recorder Recorder, logger *slog.Logger) (*Selector, error) {
	if fallback == nil {
		return nil, errors.New("llm: fallback client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		quota:    NewQuota(cfg.QuotaPerHour, cfg.QuotaBurst),
		recorder: recorder,
		logger:   logger,
	}, nil
}

// Generate returns a JSON completion for prompt. The primary client is tried
// once; on failure exactly one fallback call is made. Model calls are never
// retried beyond that hop.
func (s *Selector) Generate(ctx context.Context, userID, prompt string) (Completion, error) {
	if s.cfg.ForceFallback || s.primary == nil {
		return s.fallbackOnly(ctx, prompt)
	}

	var attempts []Attempt
	reason := instrumentation.FallbackReasonError
	if !s.quota.Allow(userID) {
		reason = instrumentation.FallbackReasonQuota
		attempts = append(attempts, Attempt{Tier: instrumentation.TierPrimary, Model: s.primary.Model(), Err: ErrQuotaExhausted})
	} else {
		c, err := s.call(ctx, instrumentation.TierPrimary, s.primary, prompt)
		if err == nil {
			return c, nil
		}
		if ctx.Err() != nil {
			return Completion{}, ctx.Err()
		}
		attempts = append(attempts, Attempt{Tier: instrumentation.TierPrimary, Model: s.primary.Model(), Err: err})
	}

	s.logger.Warn("falling back to local model",
		logging.Model(s.fallback.Model()),
		slog.String("reason", reason),
		logging.UserHash(userID),
		logging.Err(attempts[0].Err))
	if s.recorder != nil {
		s.recorder.RecordModelFallback(ctx, instrumentation.TierPrimary, instrumentation.TierFallback, reason)
	}

	c, err := s.call(ctx, instrumentation.TierFallback, s.fallback, prompt)
	if err == nil {
		return c, nil
	}
	if ctx.Err() != nil {
		return Completion{}, ctx.Err()
	}
	attempts = append(attempts, Attempt{Tier: instrumentation.TierFallback, Model: s.fallback.Model(), Err: err})
	return Completion{}, &Error{Attempts: attempts}
}

func (s *Selector) fallbackOnly(ctx context.Context, prompt string) (Completion, error) {
	if s.recorder != nil && s.cfg.ForceFallback {
		s.recorder.RecordModelFallback(ctx, instrumentation.TierPrimary, instrumentation.TierFallback, instrumentation.FallbackReasonForce)
	}
	c, err := s.call(ctx, instrumentation.TierFallback, s.fallback, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return Completion{}, ctx.Err()
		}
		return Completion{}, &Error{Attempts: []Attempt{{Tier: instrumentation.TierFallback, Model: s.fallback.Model(), Err: err}}}
	}
	return c, nil
}

func (s *Selector) call(ctx context.Context, tier string, client Client, prompt string) (Completion, error) {
	ctx, span := instrumentation.StartModelSpan(ctx, tier, client.Model())
	defer span.End()

	if s.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	text, err := client.Generate(ctx, prompt)
	if err == nil {
		text, err = usableJSON(text)
	}
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	if s.recorder != nil {
		s.recorder.RecordModelCall(ctx, tier, client.Model(), status, time.Since(start))
	}
	if err != nil {
		return Completion{}, err
	}
	return Completion{Text: text, Tier: tier, Model: client.Model()}, nil
}

func usableJSON(text string) (string, error) {
	obj := ExtractJSON(text)
	if obj == "" {
		return "", ErrEmptyResponse
	}
	if !json.Valid([]byte(obj)) {
		return "", fmt.Errorf("model returned malformed JSON: %.80q", obj)
	}
	return obj, nil
}

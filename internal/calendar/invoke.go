package calendar

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/teemow/calagent/internal/credentials"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/logging"
)

// RetryConfig bounds automatic retries of throttled or failing requests.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig retries three times starting at 200ms.
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	BaseDelay:  200 * time.Millisecond,
	MaxDelay:   10 * time.Second,
}

// Caller carries what every provider request needs: tokens, retry policy,
// pacing and instrumentation.
type Caller struct {
	Provider credentials.Provider
	Tokens   TokenSource
	Retry    RetryConfig
	// Limiter paces outgoing requests. Nil disables pacing.
	Limiter *rate.Limiter
	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// NewCaller creates a Caller with default retry settings. rps <= 0 disables
// pacing.
func NewCaller(provider credentials.Provider, tokens TokenSource, rps float64, metrics *instrumentation.Metrics, logger *slog.Logger) *Caller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Caller{
		Provider: provider,
		Tokens:   tokens,
		Retry:    DefaultRetryConfig,
		Metrics:  metrics,
		Logger:   logging.WithProvider(logger, string(provider)),
	}
	if rps > 0 {
		c.Limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
	return c
}

// backoff returns the delay before retry number attempt (0-based). A server
// supplied Retry-After is honoured as a floor.
func (c *Caller) backoff(attempt int, retryAfter time.Duration) time.Duration {
	base := c.Retry.BaseDelay << attempt
	delay := base
	if base > 0 {
		delay += time.Duration(rand.Int64N(int64(base))) //nolint:gosec // jitter doesn't need crypto-strength randomness
	}
	if retryAfter > delay {
		delay = retryAfter
	}
	if c.Retry.MaxDelay > 0 && delay > c.Retry.MaxDelay {
		delay = c.Retry.MaxDelay
	}
	return delay
}

// Do runs call with a valid access token for userID. A 401 forces one token
// refresh and a repeat; 429 and 5xx are retried with jittered exponential
// backoff. call should report HTTP failures as *ProviderError.
func Do[T any](ctx context.Context, c *Caller, userID, operation string, call func(ctx context.Context, token string) (T, error)) (T, error) {
	ctx, span := instrumentation.StartProviderSpan(ctx, string(c.Provider), operation)
	defer span.End()
	start := time.Now()

	result, err := attempt(ctx, c, userID, operation, call)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	c.Metrics.RecordCalendarOperation(ctx, string(c.Provider), operation, status, time.Since(start))
	return result, err
}

func attempt[T any](ctx context.Context, c *Caller, userID, operation string, call func(ctx context.Context, token string) (T, error)) (T, error) {
	var zero T
	token, err := c.Tokens.ValidToken(ctx, userID, c.Provider)
	if err != nil {
		return zero, err
	}

	refreshed := false
	retries := 0
	for {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return zero, err
			}
		}
		result, err := call(ctx, token)
		if err == nil {
			return result, nil
		}

		var pErr *ProviderError
		if !errors.As(err, &pErr) {
			return zero, err
		}
		pErr.Provider, pErr.Operation = c.Provider, operation

		switch {
		case pErr.StatusCode == http.StatusUnauthorized && !refreshed:
			refreshed = true
			c.Logger.Debug("Provider rejected access token, refreshing", logging.Operation(operation))
			if token, err = c.Tokens.ForceRefresh(ctx, userID, c.Provider, token); err != nil {
				return zero, err
			}
		case pErr.Retryable() && retries < c.Retry.MaxRetries:
			delay := c.backoff(retries, pErr.RetryAfter)
			retries++
			c.Logger.Debug("Retrying provider request",
				logging.Operation(operation),
				slog.Int("status_code", pErr.StatusCode),
				slog.Int("attempt", retries),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		default:
			return zero, pErr
		}
	}
}

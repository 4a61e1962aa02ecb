package tools

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/credentials"
)

// ErrIntentUnrecognized is returned for requests classified as unknown.
var ErrIntentUnrecognized = errors.New("could not recognize intent from input")

// InputError is a model-produced tool input that failed parsing or
// validation. It is not retried.
type InputError struct {
	Tool   string
	Field  string
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s input: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("invalid %s input: field %q %s", e.Tool, e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return e.Err }

// ExecutionError is a provider adapter failure after retries.
type ExecutionError struct {
	Tool     string
	Provider credentials.Provider
	// Status is the provider HTTP status, or zero if the request never
	// produced one.
	Status  int
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s failed on %s (status %d): %s", e.Tool, e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s failed on %s: %s", e.Tool, e.Provider, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// NotFound reports whether the target event does not exist.
func (e *ExecutionError) NotFound() bool {
	return e.Status == http.StatusNotFound || e.Status == http.StatusGone || errors.Is(e.Err, calendar.ErrNotFound)
}

func executionError(tool string, provider credentials.Provider, err error) *ExecutionError {
	ee := &ExecutionError{Tool: tool, Provider: provider, Message: err.Error(), Err: err}
	var pErr *calendar.ProviderError
	if errors.As(err, &pErr) {
		ee.Status = pErr.StatusCode
		if pErr.Message != "" {
			ee.Message = pErr.Message
		}
	}
	return ee
}

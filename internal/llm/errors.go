package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrQuotaExhausted is recorded when a user's primary-model quota is spent.
var ErrQuotaExhausted = errors.New("primary model quota exhausted")

// Attempt is one model call that did not produce a usable completion.
type Attempt struct {
	Tier  string
	Model string
	Err   error
}

// Error is returned when no tier produced a usable completion.
type Error struct {
	Attempts []Attempt
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s (%s): %v", a.Tier, a.Model, a.Err))
	}
	return "all model tiers failed: " + strings.Join(parts, "; ")
}

// Tiers lists the tiers that were attempted, in order.
func (e *Error) Tiers() []string {
	tiers := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		tiers = append(tiers, a.Tier)
	}
	return tiers
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

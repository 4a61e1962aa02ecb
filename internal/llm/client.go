package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Client produces a completion for a prompt. Implementations ask the model
// for JSON output.
type Client interface {
	Model() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// ErrEmptyResponse is returned when a model answers with no content.
var ErrEmptyResponse = errors.New("empty model response")

// StatusError is a non-2xx answer from a model endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// ExtractJSON returns the outermost JSON object in s, dropping Markdown code
// fences and surrounding prose that models sometimes add.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return strings.TrimSpace(s)
	}
	return s[start : end+1]
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const (
	// DefaultLocalBaseURL is a local Ollama server.
	DefaultLocalBaseURL = "http://localhost:11434"
	// DefaultLocalModel is the Ollama model used when none is configured.
	DefaultLocalModel = "mistral"
)

// LocalClient generates completions with a local Ollama server.
type LocalClient struct {
	client *api.Client
	model  string
}

// NewLocalClient creates an Ollama client.
func NewLocalClient(baseURL, model string) (*LocalClient, error) {
	if baseURL == "" {
		baseURL = DefaultLocalBaseURL
	}
	if model == "" {
		model = DefaultLocalModel
	}
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("ollama: invalid base URL %q: %w", baseURL, err)
	}
	// Local models on CPU are slow to produce the first token.
	httpClient := &http.Client{Timeout: 120 * time.Second}
	return &LocalClient{client: api.NewClient(base, httpClient), model: model}, nil
}

func (c *LocalClient) Model() string { return c.model }

// Generate asks Ollama for a single non-streamed JSON completion.
func (c *LocalClient) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &api.GenerateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Format:  json.RawMessage(`"json"`),
		Stream:  &stream,
		Options: map[string]any{"temperature": 0},
	}

	var out strings.Builder
	err := c.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		var se api.StatusError
		if errors.As(err, &se) {
			return "", &StatusError{StatusCode: se.StatusCode, Body: se.ErrorMessage}
		}
		return "", fmt.Errorf("ollama: generate: %w", err)
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", ErrEmptyResponse
	}
	return out.String(), nil
}

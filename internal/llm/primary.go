package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// DefaultPrimaryBaseURL is the Gemini API root.
const DefaultPrimaryBaseURL = "https://generativelanguage.googleapis.com/"

// DefaultPrimaryModel is used when no model is configured.
const DefaultPrimaryModel = "gemini-2.0-flash"

// PrimaryClient calls a hosted Gemini model.
type PrimaryClient struct {
	client *genai.Client
	model  string
}

// NewPrimaryClient creates a Gemini client. apiKey is required.
func NewPrimaryClient(ctx context.Context, baseURL, apiKey, model string) (*PrimaryClient, error) {
	if apiKey == "" {
		return nil, errors.New("primary: api key is required")
	}
	if baseURL == "" {
		baseURL = DefaultPrimaryBaseURL
	}
	if model == "" {
		model = DefaultPrimaryModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: 60 * time.Second},
		HTTPOptions: genai.HTTPOptions{BaseURL: strings.TrimSuffix(baseURL, "/") + "/"},
	})
	if err != nil {
		return nil, fmt.Errorf("primary: create client: %w", err)
	}
	return &PrimaryClient{client: client, model: model}, nil
}

func (c *PrimaryClient) Model() string { return c.model }

// Generate sends prompt as a single user turn and asks for a JSON answer.
func (c *PrimaryClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &StatusError{StatusCode: apiErr.Code, Body: apiErr.Message}
		}
		return "", fmt.Errorf("primary: generate: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

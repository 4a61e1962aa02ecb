package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimaryClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("x-goog-api-key"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "hello")
		assert.Contains(t, string(body), "application/json")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"ok\":true}"}]}}]}`))
	}))
	defer srv.Close()

	c, err := NewPrimaryClient(context.Background(), srv.URL+"/", "key-1", "gemini-test")
	require.NoError(t, err)
	out, err := c.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, "gemini-test", c.Model())
}

func TestNewPrimaryClient_RequiresKey(t *testing.T) {
	_, err := NewPrimaryClient(context.Background(), "", "", "")
	require.Error(t, err)
}

func TestPrimaryClient_Errors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
		}))
		defer srv.Close()

		c, err := NewPrimaryClient(context.Background(), srv.URL, "k", "")
		require.NoError(t, err)
		_, err = c.Generate(context.Background(), "x")
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
		assert.Contains(t, se.Body, "quota exceeded")
	})

	t.Run("no candidates", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"candidates":[]}`))
		}))
		defer srv.Close()

		c, err := NewPrimaryClient(context.Background(), srv.URL, "k", "")
		require.NoError(t, err)
		_, err = c.Generate(context.Background(), "x")
		require.ErrorIs(t, err, ErrEmptyResponse)
	})
}

func TestLocalClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req struct {
			Model  string          `json:"model"`
			Prompt string          `json:"prompt"`
			Format json.RawMessage `json:"format"`
			Stream *bool           `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mistral", req.Model)
		assert.Equal(t, "prompt", req.Prompt)
		assert.JSONEq(t, `"json"`, string(req.Format))
		require.NotNil(t, req.Stream)
		assert.False(t, *req.Stream)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"mistral","response":"{\"a\":1}","done":true}` + "\n"))
	}))
	defer srv.Close()

	c, err := NewLocalClient(srv.URL, "")
	require.NoError(t, err)
	out, err := c.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)
}

func TestLocalClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"llama\" not found"}`))
	}))
	defer srv.Close()

	c, err := NewLocalClient(srv.URL, "llama")
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "prompt")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Contains(t, se.Body, "not found")
}

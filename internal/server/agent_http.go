package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/teemow/calagent/internal/agent"
	"github.com/teemow/calagent/internal/credentials"
	"github.com/teemow/calagent/internal/logging"
)

// maxAgentRequestBytes caps the POST /agent/calendar body.
const maxAgentRequestBytes = 16 << 10

// maxAgentTextLength caps the instruction length in characters.
const maxAgentTextLength = 2000

type agentRequest struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
}

// handleAgentCalendar runs one agent request and streams its frames. Input
// problems found before the stream opens are plain JSON 400 responses.
func handleAgentCalendar(sc *ServerContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}

		var body agentRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAgentRequestBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body is too large")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid_request", "request body must be a JSON object with text and provider")
			return
		}

		text := strings.TrimSpace(body.Text)
		if text == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "text is required")
			return
		}
		if len([]rune(text)) > maxAgentTextLength {
			writeError(w, http.StatusBadRequest, "invalid_request", "text is too long")
			return
		}
		provider, err := credentials.ParseProvider(strings.ToLower(strings.TrimSpace(body.Provider)))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider", "provider must be google or microsoft")
			return
		}

		// The run ends on client disconnect or server shutdown.
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		stop := context.AfterFunc(sc.Context(), cancel)
		defer stop()

		if m := sc.Metrics(); m != nil {
			m.StreamOpened(ctx)
			defer m.StreamClosed(context.WithoutCancel(ctx))
		}

		frames := sc.Runner().Stream(ctx, agent.Request{
			UserID:   userID,
			Provider: provider,
			Text:     text,
		})

		stream := agent.NewStreamWriter(w)
		if err := stream.Pipe(ctx, frames); err != nil {
			sc.Logger().Debug("Agent stream ended early",
				logging.UserHash(userID),
				logging.Provider(string(provider)),
				logging.Err(err))
		}
	}
}

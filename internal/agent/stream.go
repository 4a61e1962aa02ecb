package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// StreamWriter serializes frames as Server-Sent Events.
type StreamWriter struct {
	w     io.Writer
	flush func() error
}

// NewStreamWriter prepares w for an event stream. It must be called before
// anything is written to w.
func NewStreamWriter(w http.ResponseWriter) *StreamWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	return &StreamWriter{w: w, flush: rc.Flush}
}

// WriteFrame writes one "data:" event and flushes it.
func (s *StreamWriter) WriteFrame(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if s.flush != nil {
		if err := s.flush(); err != nil {
			return fmt.Errorf("flush frame: %w", err)
		}
	}
	return nil
}

// Pipe writes frames in order until the channel closes, ctx ends or a write
// fails. Frames are never reordered or batched.
func (s *StreamWriter) Pipe(ctx context.Context, frames <-chan Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := s.WriteFrame(f); err != nil {
				return err
			}
		}
	}
}

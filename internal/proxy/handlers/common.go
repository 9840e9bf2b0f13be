package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hhszzzz/antihub/internal/stream"
)

var heartbeatInterval = 20 * time.Second

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeAnthropicError emits the Messages-surface error shape.
func writeAnthropicError(w http.ResponseWriter, apiErr *apiError) {
	writeJSON(w, apiErr.Status, map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    apiErr.Type,
			"message": apiErr.Message,
		},
	})
}

// writeOpenAIError emits the Chat-Completions-surface error shape.
func writeOpenAIError(w http.ResponseWriter, apiErr *apiError) {
	writeJSON(w, apiErr.Status, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    apiErr.Type,
			"message": apiErr.Message,
		},
	})
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, 32<<20))
}

func readLimited(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, 32<<20))
}

// sseWriter serializes frames onto the wire. A mutex guards the writer
// because the heartbeat goroutine and the translation loop both emit.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

// Sink returns the stream.Sink writing frames in SSE framing.
func (s *sseWriter) Sink() stream.Sink {
	return func(frame stream.Frame) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if frame.Raw != "" {
			if _, err := fmt.Fprintf(s.w, "data: %s\n\n", frame.Raw); err != nil {
				return err
			}
			s.flush()
			return nil
		}
		payload, err := json.Marshal(frame.Data)
		if err != nil {
			return err
		}
		if frame.Event != "" {
			if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", frame.Event, payload); err != nil {
				return err
			}
		} else {
			if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
				return err
			}
		}
		s.flush()
		return nil
	}
}

func (s *sseWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// heartbeat fires pings until either channel closes. It keeps idle client
// connections alive while a slow upstream warms up.
func heartbeat(stop, done <-chan struct{}, fire func() error) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-done:
			return
		case <-ticker.C:
			if err := fire(); err != nil {
				return
			}
		}
	}
}

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jonathan/interview-evaluator/internal/stream"
)

// SSEWriter helps write Server-Sent Events.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends an SSE event.
func (s *SSEWriter) WriteEvent(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// handleEvaluationStream streams progress events for one evaluation as
// Server-Sent Events, for clients that cannot hold a WebSocket.
func (s *Server) handleEvaluationStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec := s.service.jobs.Get(id)
	if rec == nil {
		s.errorForStatus(w, &ErrJobNotFound{ID: id})
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	sub := s.service.broadcaster.Subscribe(id)
	defer s.service.broadcaster.Unsubscribe(sub)

	if err := sse.WriteEvent(stream.EventConnected, stream.Event{
		Type:     stream.EventConnected,
		JobID:    id,
		Progress: rec.Progress,
	}); err != nil {
		return
	}
	if terminal := terminalEvent(rec); terminal != nil {
		sse.WriteEvent(terminal.Type, terminal) //nolint:errcheck
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case ev := <-sub.C:
			if err := sse.WriteEvent(ev.Type, ev); err != nil {
				return
			}
			if ev.Type == stream.EventCompleted || ev.Type == stream.EventFailed {
				return
			}
		}
	}
}

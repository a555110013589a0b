package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jonathan/interview-evaluator/internal/jobs"
	"github.com/jonathan/interview-evaluator/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The REST API is open cross-origin; the socket follows suit.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvaluationWS streams progress events for one evaluation over a
// WebSocket connection.
func (s *Server) handleEvaluationWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec := s.service.jobs.Get(id)
	if rec == nil {
		s.errorForStatus(w, &ErrJobNotFound{ID: id})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Warn("websocket upgrade failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.service.broadcaster.Subscribe(id)
	defer s.service.broadcaster.Unsubscribe(sub)

	if err := conn.WriteJSON(stream.Event{
		Type:     stream.EventConnected,
		JobID:    id,
		Progress: rec.Progress,
	}); err != nil {
		return
	}

	// If the job already finished, replay the terminal event and let the
	// client disconnect; there is nothing left to stream.
	if terminal := terminalEvent(rec); terminal != nil {
		conn.WriteJSON(*terminal) //nolint:errcheck
	}

	// Read pump: we never expect client messages, but reading is the only
	// way to notice the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case ev := <-sub.C:
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug("websocket write failed", zap.String("job_id", id), zap.Error(err))
				return
			}
		}
	}
}

// terminalEvent builds the completed/failed event for a finished job, or
// nil when the job is still in progress.
func terminalEvent(rec *jobs.Record) *stream.Event {
	switch rec.Status {
	case jobs.StatusCompleted:
		return &stream.Event{
			Type:      stream.EventCompleted,
			JobID:     rec.ID,
			Timestamp: rec.CompletedAt,
			Progress:  rec.Progress,
			Result:    rec.Result,
		}
	case jobs.StatusFailed:
		return &stream.Event{
			Type:      stream.EventFailed,
			JobID:     rec.ID,
			Timestamp: rec.CompletedAt,
			Progress:  rec.Progress,
			Error:     rec.Error,
		}
	}
	return nil
}

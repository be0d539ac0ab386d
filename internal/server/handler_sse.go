package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/me/threadsched/pkg/model"
)

// handleSSERun streams run state changes via Server-Sent Events until the run
// reaches a terminal state.
// GET /api/v1/sse/runs/{id}
func (s *Server) handleSSERun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	if err := sendSSEEvent(w, flusher, "init", run); err != nil {
		s.logger.Debug("sse client disconnected", "id", id, "error", err)
		return
	}
	if run.State.IsTerminal() {
		sendSSEEvent(w, flusher, "complete", run)
		return
	}

	interval := s.config.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastState := run.State
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			var err error
			run, err = s.store.GetRun(r.Context(), id)
			if err != nil {
				s.logger.Error("sse fetch error", "id", id, "error", err)
				continue
			}
			if run == nil {
				// Deleted while we were watching.
				return
			}

			switch {
			case run.State.IsTerminal():
				sendSSEEvent(w, flusher, "complete", run)
				return
			case run.State != lastState:
				if err := sendSSEEvent(w, flusher, "update", run); err != nil {
					s.logger.Debug("sse client disconnected", "id", id)
					return
				}
				lastState = run.State
			default:
				fmt.Fprintf(w, ": heartbeat\n\n")
				flusher.Flush()
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, run *model.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Watch delivers the current status first, so a task that is already
	// terminal yields one event followed by done.
	ch, unsub, ok := s.queue.Watch(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("set write deadline for SSE", "error", err)
	}

	sseStreamsOpen.Inc()
	defer sseStreamsOpen.Dec()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("encode task event", "task_id", id, "error", err)
				return
			}
			if err := writeSSEEvent(w, "status", string(data)); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}

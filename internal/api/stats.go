package api

import (
	"net/http"

	"github.com/seantiz/turnstile/internal/engine"
	"github.com/seantiz/turnstile/internal/store"
)

// statsResponse is the JSON response for GET /v1/stats. Queue counts are
// live; history aggregates every outcome recorded so far.
type statsResponse struct {
	Queue   engine.Stats       `json:"queue"`
	History store.OutcomeStats `json:"history"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Queue: s.queue.Stats(),
		History: store.OutcomeStats{
			CountByStatus: map[string]int{},
			CountByKind:   map[string]int{},
		},
	}

	if s.store != nil {
		hist, err := s.store.GetOutcomeStats(r.Context())
		if err != nil {
			s.logger.Error("get outcome stats", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to get stats")
			return
		}
		resp.History = *hist
	}

	s.writeJSON(w, http.StatusOK, resp)
}

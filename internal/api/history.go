package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/turnstile/internal/model"
	"github.com/seantiz/turnstile/internal/store"
)

// listHistoryResponse wraps the paginated outcome list.
type listHistoryResponse struct {
	Outcomes []*model.Outcome `json:"outcomes"`
	Total    int              `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	var (
		outcomes []*model.Outcome
		total    int
	)
	if s.store != nil {
		var err error
		outcomes, total, err = s.store.ListOutcomes(r.Context(), limit, offset)
		if err != nil {
			s.logger.Error("list outcomes", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to list history")
			return
		}
	}

	if outcomes == nil {
		outcomes = []*model.Outcome{}
	}

	s.writeJSON(w, http.StatusOK, listHistoryResponse{
		Outcomes: outcomes,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.store == nil {
		s.writeError(w, http.StatusNotFound, "outcome not found")
		return
	}

	o, err := s.store.GetOutcome(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "outcome not found")
		return
	}
	if err != nil {
		s.logger.Error("get outcome", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get outcome")
		return
	}

	s.writeJSON(w, http.StatusOK, o)
}

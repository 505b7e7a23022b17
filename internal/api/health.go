package api

import (
	"net/http"
)

// healthResponse reports liveness plus the two counts operators look at first.
type healthResponse struct {
	Status     string `json:"status"`
	Queued     int    `json:"queued"`
	Processing int    `json:"processing"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	st := s.queue.Stats()
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Queued:     st.Queued,
		Processing: st.Processing,
	})
}

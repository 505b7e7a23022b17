package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/turnstile/internal/model"
	"github.com/seantiz/turnstile/internal/task"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// submitTaskRequest is the JSON body for POST /v1/tasks.
type submitTaskRequest struct {
	Kind   string         `json:"kind" validate:"required"`
	Params map[string]any `json:"params"`
}

// resultResponse is the JSON response for GET /v1/tasks/{id}/result.
type resultResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Value  any    `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

type cancelResponse struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, "kind is required")
		return
	}

	fn, err := s.kinds.Resolve(req.Kind)
	if errors.Is(err, task.ErrUnknownKind) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("resolve task kind", "kind", req.Kind, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to resolve kind")
		return
	}

	id := s.queue.SubmitKind(req.Kind, fn, task.Params(req.Params))

	st, ok := s.queue.Status(id)
	if !ok {
		// Only reachable if the task was cancelled or swept between submit
		// and the status read.
		st = model.TaskStatus{ID: id, Kind: req.Kind, CreatedAt: time.Now().UTC()}
	}
	s.writeJSON(w, http.StatusAccepted, st)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, ok := s.queue.Status(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, ok := s.queue.Result(id)
	if ok {
		s.writeJSON(w, http.StatusOK, resultResponse{
			ID:     id,
			Status: res.Status,
			Value:  res.Value,
			Error:  res.Error,
		})
		return
	}

	st, found := s.queue.Status(id)
	if !found {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeJSON(w, http.StatusConflict, map[string]string{
		"error":  "result not ready",
		"status": st.Status,
	})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, ok := s.queue.Status(id); !ok {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}

	s.writeJSON(w, http.StatusOK, cancelResponse{
		ID:        id,
		Cancelled: s.queue.Cancel(id),
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !s.queue.Heartbeat(id) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleForceCleanup(w http.ResponseWriter, _ *http.Request) {
	s.queue.ForceCleanup()
	w.WriteHeader(http.StatusNoContent)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

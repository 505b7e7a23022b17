package model

import "time"

// Task status constants.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusQueued: {
		StatusProcessing: true,
	},
	StatusProcessing: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status carries a result.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// TaskStatus is the caller-visible view of a task record. Position and
// EstimatedSeconds are derived at read time and are zero once a task has
// left the pending queue.
type TaskStatus struct {
	ID               string     `json:"id"`
	Kind             string     `json:"kind,omitempty"`
	Status           string     `json:"status"`
	Position         int        `json:"position"`
	EstimatedSeconds int        `json:"estimated_seconds"`
	CreatedAt        time.Time  `json:"created_at"`
	LastHeartbeat    *time.Time `json:"last_heartbeat,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	Attempts         int        `json:"attempts,omitempty"`
}

// Outcome is the terminal record of a task execution, kept in the history
// store after the in-memory record is gone.
type Outcome struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	Attempts   int        `json:"attempts"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

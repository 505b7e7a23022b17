package store

import (
	"context"
	"errors"

	"github.com/seantiz/turnstile/internal/model"
)

// ErrNotFound is returned when an outcome is not found.
var ErrNotFound = errors.New("outcome not found")

// OutcomeStats holds aggregate execution statistics over recorded outcomes.
type OutcomeStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByKind   map[string]int `json:"count_by_kind"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	AvgAttempts   float64        `json:"avg_attempts"`
}

// Store defines the persistence operations for terminal task outcomes.
// Queue state itself is never persisted.
type Store interface {
	RecordOutcome(ctx context.Context, o *model.Outcome) error
	GetOutcome(ctx context.Context, id string) (*model.Outcome, error)
	ListOutcomes(ctx context.Context, limit, offset int) ([]*model.Outcome, int, error)
	GetOutcomeStats(ctx context.Context) (*OutcomeStats, error)
	Close() error
}

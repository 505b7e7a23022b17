package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/seantiz/turnstile/internal/model"

	_ "modernc.org/sqlite"
)

const createOutcomesTable = `
CREATE TABLE IF NOT EXISTS outcomes (
    id          TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    status      TEXT NOT NULL,
    error       TEXT,
    attempts    INTEGER NOT NULL,
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    started_at  DATETIME,
    finished_at DATETIME
)`

const outcomeColumns = `id, kind, status, error, attempts, duration_ms, created_at, started_at, finished_at`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every :memory: connection is its own database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createOutcomesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create outcomes table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordOutcome inserts a terminal outcome. Recording the same task twice
// replaces the earlier row.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, o *model.Outcome) error {
	var errText *string
	if o.Error != "" {
		errText = &o.Error
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO outcomes (`+outcomeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Kind, o.Status, errText, o.Attempts, o.DurationMS,
		o.CreatedAt, o.StartedAt, o.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutcome(r rowScanner) (*model.Outcome, error) {
	o := &model.Outcome{}
	var errText sql.NullString
	if err := r.Scan(
		&o.ID, &o.Kind, &o.Status, &errText, &o.Attempts, &o.DurationMS,
		&o.CreatedAt, &o.StartedAt, &o.FinishedAt,
	); err != nil {
		return nil, err
	}
	o.Error = errText.String
	return o, nil
}

// GetOutcome retrieves an outcome by task ID.
func (s *SQLiteStore) GetOutcome(ctx context.Context, id string) (*model.Outcome, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+outcomeColumns+` FROM outcomes WHERE id = ?`, id,
	)
	o, err := scanOutcome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get outcome: %w", err)
	}
	return o, nil
}

// ListOutcomes returns a paginated list of outcomes ordered by finished_at DESC,
// along with the total count of all outcomes.
func (s *SQLiteStore) ListOutcomes(ctx context.Context, limit, offset int) ([]*model.Outcome, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM outcomes").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count outcomes: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+outcomeColumns+`
		FROM outcomes ORDER BY finished_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*model.Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate outcomes: %w", err)
	}

	return outcomes, total, nil
}

// GetOutcomeStats aggregates counts and averages over all recorded outcomes.
func (s *SQLiteStore) GetOutcomeStats(ctx context.Context) (*OutcomeStats, error) {
	stats := &OutcomeStats{
		CountByStatus: make(map[string]int),
		CountByKind:   make(map[string]int),
	}

	var avgDuration, avgAttempts sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), AVG(duration_ms), AVG(attempts) FROM outcomes",
	).Scan(&stats.Total, &avgDuration, &avgAttempts); err != nil {
		return nil, fmt.Errorf("aggregate outcomes: %w", err)
	}
	stats.AvgDurationMS = avgDuration.Float64
	stats.AvgAttempts = avgAttempts.Float64

	if err := s.countBy(ctx, "status", stats.CountByStatus); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "kind", stats.CountByKind); err != nil {
		return nil, err
	}
	return stats, nil
}

// countBy fills dst with row counts grouped by column. column is never user input.
func (s *SQLiteStore) countBy(ctx context.Context, column string, dst map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM outcomes GROUP BY "+column,
	)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		dst[key] = n
	}
	return rows.Err()
}

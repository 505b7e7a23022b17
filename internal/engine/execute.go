package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/seantiz/turnstile/internal/model"
	"github.com/seantiz/turnstile/internal/task"
)

// errAbandoned stops the retry loop when the task's record has been removed.
var errAbandoned = errors.New("task record removed")

// execute runs one admitted task to a terminal outcome, retrying upstream
// rate limiting within the configured policy. The call happens outside the
// registry lock.
func (q *Queue) execute(ctx context.Context, d dispatched) {
	start := time.Now().UTC()
	if !q.markStarted(d.id, start) {
		q.logger.Debug("task removed before execution", "task_id", d.id)
		return
	}

	var (
		value    any
		err      error
		attempts int
	)
	for attempt := 1; ; attempt++ {
		if !q.markAttempt(d.id, attempt) {
			err = errAbandoned
			break
		}
		attempts = attempt

		value, err = call(ctx, d)
		if err == nil || !task.IsRateLimited(err) || attempt >= q.cfg.Retry.MaxAttempts {
			break
		}

		delay := q.backoff(attempt)
		taskRetriesTotal.Inc()
		q.logger.Warn("upstream rate limited, retrying",
			"task_id", d.id,
			"kind", d.kind,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		if waitErr := waitBackoff(ctx, d.removed, delay); waitErr != nil {
			if !errors.Is(waitErr, errAbandoned) {
				waitErr = fmt.Errorf("shutdown during retry backoff: %w", err)
			}
			err = waitErr
			break
		}
	}

	if errors.Is(err, errAbandoned) {
		q.logger.Info("task abandoned during retries", "task_id", d.id, "attempts", attempts)
		return
	}
	q.finish(d, start, attempts, value, err)
}

// waitBackoff sleeps for d. It returns errAbandoned as soon as the record is
// removed, and ctx.Err() if the queue shuts down first.
func waitBackoff(ctx context.Context, removed <-chan struct{}, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-removed:
		return errAbandoned
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call invokes the task callable, converting a panic into an error.
func call(ctx context.Context, d dispatched) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	if d.fn == nil {
		return nil, errors.New("task has no callable")
	}
	return d.fn(ctx, d.params)
}

// backoff returns the wait before the attempt following attempt.
func (q *Queue) backoff(attempt int) time.Duration {
	p := q.cfg.Retry
	d := p.BaseDelay + time.Duration(attempt)*p.Step
	if p.Jitter > 0 {
		d += time.Duration(rand.Float64() * float64(p.Jitter))
	}
	return d
}

// markStarted stamps the start time. It reports false if the record is gone.
func (q *Queue) markStarted(id string, at time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.tasks[id]
	if !ok || rec.status != model.StatusProcessing {
		return false
	}
	rec.startedAt = &at
	return true
}

// markAttempt records the attempt number. It reports false if the record is
// gone, in which case no further attempt should be made.
func (q *Queue) markAttempt(id string, attempt int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.tasks[id]
	if !ok || rec.status != model.StatusProcessing {
		return false
	}
	rec.attempts = attempt
	return true
}

// finish writes the terminal outcome. If the record was removed while the
// task ran, the write is dropped and nothing is re-created.
func (q *Queue) finish(d dispatched, start time.Time, attempts int, value any, err error) {
	now := time.Now().UTC()

	res := &Result{Status: model.StatusCompleted, Value: value}
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = "task failed"
		}
		res = &Result{Status: model.StatusFailed, Error: msg}
	}

	q.mu.Lock()
	rec, ok := q.tasks[d.id]
	if !ok || !model.ValidTransition(rec.status, res.Status) {
		q.mu.Unlock()
		q.logger.Info("discarding result of removed task", "task_id", d.id, "status", res.Status)
		return
	}
	rec.status = res.Status
	rec.result = res
	rec.finishedAt = &now
	q.publishLocked(rec)
	q.broker.Close(d.id)
	q.mu.Unlock()

	tasksFinishedTotal.WithLabelValues(res.Status).Inc()
	taskDuration.Observe(now.Sub(d.admittedAt).Seconds())

	if res.Failed() {
		q.logger.Warn("task failed", "task_id", d.id, "kind", d.kind, "attempts", attempts, "error", res.Error)
	} else {
		q.logger.Info("task completed", "task_id", d.id, "kind", d.kind, "attempts", attempts)
	}

	q.record(d, start, now, attempts, res)
}

// record hands the outcome to the recorder, if any. Failures are logged only.
func (q *Queue) record(d dispatched, start, finished time.Time, attempts int, res *Result) {
	if q.recorder == nil {
		return
	}
	durationMS := int(finished.Sub(start).Milliseconds())
	o := &model.Outcome{
		ID:         d.id,
		Kind:       d.kind,
		Status:     res.Status,
		Error:      res.Error,
		Attempts:   attempts,
		DurationMS: &durationMS,
		CreatedAt:  d.submittedAt,
		StartedAt:  &start,
		FinishedAt: &finished,
	}
	if err := q.recorder.RecordOutcome(context.Background(), o); err != nil {
		q.logger.Error("failed to record outcome", "task_id", d.id, "error", err)
	}
}

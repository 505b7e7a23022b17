package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/turnstile/internal/model"
	"github.com/seantiz/turnstile/internal/task"
)

// Result is the stored outcome of a finished task: the callable's return
// value on success, or the error description on failure.
type Result struct {
	Status string `json:"status"`
	Value  any    `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Failed reports whether the task ended in failure.
func (r Result) Failed() bool {
	return r.Status == model.StatusFailed
}

// Stats is a point-in-time snapshot of the registry.
type Stats struct {
	Queued              int `json:"queued"`
	Processing          int `json:"processing"`
	CompletedPending    int `json:"completed_pending"`
	FailedPending       int `json:"failed_pending"`
	CancelledSinceSweep int `json:"cancelled_since_sweep"`
	Total               int `json:"total"`
}

// Recorder receives terminal outcomes after they are written. It is called
// from the scheduler goroutine outside the registry lock.
type Recorder interface {
	RecordOutcome(ctx context.Context, o *model.Outcome) error
}

// record is the registry entry for one task. fn and params are cleared once
// the task is handed to the execution engine.
type record struct {
	id            string
	kind          string
	status        string
	fn            task.Func
	params        task.Params
	submittedAt   time.Time
	lastHeartbeat *time.Time
	startedAt     *time.Time
	finishedAt    *time.Time
	attempts      int
	result        *Result

	// done is closed when the record is removed, waking a retry backoff.
	done chan struct{}
}

// Queue is the admission-controlled task queue. All registry and pending
// queue state is guarded by mu, which is never held across a task call.
type Queue struct {
	cfg      Config
	recorder Recorder
	logger   *slog.Logger
	broker   *Broker

	mu                  sync.Mutex
	tasks               map[string]*record
	pending             []string
	lastAdmission       time.Time
	cancelledSinceSweep int

	wake chan struct{}

	// onAdmit observes each non-empty admission. Tests only.
	onAdmit func(ids []string, at time.Time)

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a queue. rec may be nil. The queue does nothing until Start.
func New(cfg Config, rec Recorder, logger *slog.Logger) *Queue {
	return &Queue{
		cfg:      cfg.withDefaults(),
		recorder: rec,
		logger:   logger,
		broker:   NewBroker(),
		tasks:    make(map[string]*record),
		wake:     make(chan struct{}, 1),
	}
}

// Config returns the effective configuration after defaults are applied.
func (q *Queue) Config() Config {
	return q.cfg
}

// Start launches the scheduler and the interval sweeper. Calling Start on a
// running queue is a no-op; a stopped queue may be started again, and tasks
// submitted while it was stopped are picked up.
func (q *Queue) Start(ctx context.Context) {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()
	if q.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.wg.Go(func() {
		q.run(ctx)
	})
	q.wg.Go(func() {
		q.sweepLoop(ctx)
	})
	q.logger.Info("queue started",
		"max_concurrent", q.cfg.MaxConcurrent,
		"cooldown", q.cfg.CooldownPeriod.String(),
		"heartbeat_timeout", q.cfg.HeartbeatTimeout.String(),
	)
}

// Stop cancels the background goroutines and waits for them. A task call in
// flight receives a cancelled context; Stop returns once it does.
func (q *Queue) Stop() {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()
	if q.cancel == nil {
		return
	}
	q.cancel()
	q.wg.Wait()
	q.cancel = nil
	q.logger.Info("queue stopped")
}

// Submit enqueues fn with params and returns the new task's id. It never
// blocks on the scheduler.
func (q *Queue) Submit(fn task.Func, params task.Params) string {
	return q.SubmitKind("", fn, params)
}

// SubmitKind is Submit with the registered kind name recorded for
// observability.
func (q *Queue) SubmitKind(kind string, fn task.Func, params task.Params) string {
	id := model.NewID()
	now := time.Now().UTC()

	q.mu.Lock()
	q.tasks[id] = &record{
		id:          id,
		kind:        kind,
		status:      model.StatusQueued,
		fn:          fn,
		params:      params,
		submittedAt: now,
		done:        make(chan struct{}),
	}
	q.pending = append(q.pending, id)
	position := len(q.pending)
	queueDepth.Set(float64(position))
	q.mu.Unlock()

	tasksSubmittedTotal.Inc()
	q.logger.Debug("task submitted", "task_id", id, "kind", kind, "position", position)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return id
}

// Status returns the caller-visible status of a task. Queue position and the
// wait estimate are computed from the live pending order.
func (q *Queue) Status(id string) (model.TaskStatus, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.tasks[id]
	if !ok {
		return model.TaskStatus{}, false
	}

	st := model.TaskStatus{
		ID:            rec.id,
		Kind:          rec.kind,
		Status:        rec.status,
		CreatedAt:     rec.submittedAt,
		LastHeartbeat: copyTime(rec.lastHeartbeat),
		StartedAt:     copyTime(rec.startedAt),
		FinishedAt:    copyTime(rec.finishedAt),
		Attempts:      rec.attempts,
	}
	if rec.status == model.StatusQueued {
		st.Position = q.positionLocked(id)
		st.EstimatedSeconds = estimateWait(st.Position, q.cfg.CooldownPeriod, q.cfg.MaxConcurrent)
	}
	return st, true
}

// Result returns a finished task's result and removes the task. Unknown,
// queued and processing tasks report false; so does a second retrieval.
func (q *Queue) Result(id string) (Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.tasks[id]
	if !ok || !model.IsTerminal(rec.status) || rec.result == nil {
		return Result{}, false
	}

	delete(q.tasks, id)
	q.broker.Close(id)
	return *rec.result, true
}

// Cancel removes a task. It reports true only when the task was still
// waiting in the pending queue. A processing task is not interrupted; its
// record is dropped and its eventual result discarded.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.tasks[id]
	if !ok {
		return false
	}

	wasQueued := rec.status == model.StatusQueued
	q.removeLocked(rec, ReasonCancelled)
	dequeued := false
	if wasQueued {
		dequeued = q.dequeueLocked(id)
		queueDepth.Set(float64(len(q.pending)))
	}
	q.cancelledSinceSweep++

	q.logger.Info("task cancelled", "task_id", id, "status", rec.status, "dequeued", dequeued)

	if q.cancelledSinceSweep > q.cfg.BatchCleanupThreshold {
		q.sweepLocked(triggerThreshold)
	}
	return dequeued
}

// Heartbeat records that the caller is still interested in the task.
func (q *Queue) Heartbeat(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.tasks[id]
	if !ok {
		return false
	}
	now := time.Now().UTC()
	rec.lastHeartbeat = &now
	return true
}

// Stats returns a snapshot of registry counts.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		CancelledSinceSweep: q.cancelledSinceSweep,
		Total:               len(q.tasks),
	}
	for _, rec := range q.tasks {
		switch rec.status {
		case model.StatusQueued:
			s.Queued++
		case model.StatusProcessing:
			s.Processing++
		case model.StatusCompleted:
			s.CompletedPending++
		case model.StatusFailed:
			s.FailedPending++
		}
	}
	return s
}

// ForceCleanup runs a sweep immediately.
func (q *Queue) ForceCleanup() {
	q.sweep(triggerForced)
}

// Watch subscribes to status events for a live task. The current status is
// delivered first. The channel is closed once the task reaches a terminal
// status or is removed. ok is false for unknown tasks.
func (q *Queue) Watch(id string) (events <-chan Event, unsubscribe func(), ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, found := q.tasks[id]
	if !found {
		return nil, nil, false
	}

	current := Event{TaskID: id, Status: rec.status, At: time.Now().UTC()}
	if model.IsTerminal(rec.status) {
		ch := make(chan Event, 1)
		ch <- current
		close(ch)
		return ch, func() {}, true
	}

	ch, unsub := q.broker.Subscribe(id, current)
	return ch, unsub, true
}

// positionLocked returns the 1-based pending position of id, or 0.
func (q *Queue) positionLocked(id string) int {
	for i, pid := range q.pending {
		if pid == id {
			return i + 1
		}
	}
	return 0
}

// dequeueLocked removes id from the pending queue.
func (q *Queue) dequeueLocked(id string) bool {
	for i, pid := range q.pending {
		if pid == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

// removeLocked drops a record from the registry and ends its event stream.
// The pending queue is the caller's responsibility.
func (q *Queue) removeLocked(rec *record, reason string) {
	delete(q.tasks, rec.id)
	close(rec.done)
	if !model.IsTerminal(rec.status) {
		q.broker.Publish(Event{TaskID: rec.id, Status: EventRemoved, Reason: reason, At: time.Now().UTC()})
	}
	q.broker.Close(rec.id)
	tasksRemovedTotal.WithLabelValues(reason).Inc()
}

func (q *Queue) publishLocked(rec *record) {
	q.broker.Publish(Event{TaskID: rec.id, Status: rec.status, At: time.Now().UTC()})
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

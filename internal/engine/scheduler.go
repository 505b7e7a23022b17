package engine

import (
	"context"
	"math"
	"time"

	"github.com/seantiz/turnstile/internal/model"
	"github.com/seantiz/turnstile/internal/task"
)

// baseTaskCost is the assumed fixed cost of one upstream task, used only for
// wait estimates.
const baseTaskCost = 5 * time.Second

// dispatched is a task handed from the registry to the execution engine.
type dispatched struct {
	id          string
	kind        string
	fn          task.Func
	params      task.Params
	submittedAt time.Time
	admittedAt  time.Time
	removed     <-chan struct{}
}

// run is the single scheduler loop. It admits up to MaxConcurrent tasks per
// cooldown cycle and executes them one after another.
func (q *Queue) run(ctx context.Context) {
	for {
		if !q.waitCooldown(ctx) {
			return
		}

		batch := q.admit()
		if len(batch) == 0 {
			if !q.idle(ctx) {
				return
			}
			q.sweep(triggerIdle)
			continue
		}

		for _, d := range batch {
			if ctx.Err() != nil {
				return
			}
			q.execute(ctx, d)
		}
	}
}

// waitCooldown sleeps out whatever remains of the cooldown since the last
// admission. It returns false if ctx ends first.
func (q *Queue) waitCooldown(ctx context.Context) bool {
	q.mu.Lock()
	last := q.lastAdmission
	q.mu.Unlock()

	if last.IsZero() {
		return true
	}
	return sleepCtx(ctx, q.cfg.CooldownPeriod-time.Since(last))
}

// admit pulls up to MaxConcurrent live tasks off the front of the pending
// queue and marks them processing. A non-empty admission anchors the next
// cooldown.
func (q *Queue) admit() []dispatched {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var batch []dispatched
	for len(batch) < q.cfg.MaxConcurrent && len(q.pending) > 0 {
		id := q.pending[0]
		q.pending = q.pending[1:]

		rec, ok := q.tasks[id]
		if !ok || rec.status != model.StatusQueued {
			continue
		}

		rec.status = model.StatusProcessing
		batch = append(batch, dispatched{
			id:          id,
			kind:        rec.kind,
			fn:          rec.fn,
			params:      rec.params,
			submittedAt: rec.submittedAt,
			admittedAt:  now,
			removed:     rec.done,
		})
		rec.fn, rec.params = nil, nil
		q.publishLocked(rec)
	}
	queueDepth.Set(float64(len(q.pending)))

	if len(batch) == 0 {
		return nil
	}

	q.lastAdmission = now
	batchesAdmittedTotal.Inc()
	tasksAdmittedTotal.Add(float64(len(batch)))

	ids := make([]string, len(batch))
	for i, d := range batch {
		ids[i] = d.id
	}
	q.logger.Debug("batch admitted", "size", len(batch), "remaining", len(q.pending))
	if q.onAdmit != nil {
		q.onAdmit(ids, now)
	}
	return batch
}

// idle waits for IdlePoll or a new submission. It returns false if ctx ends.
func (q *Queue) idle(ctx context.Context) bool {
	t := time.NewTimer(q.cfg.IdlePoll)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-q.wake:
		return true
	case <-t.C:
		return true
	}
}

// sleepCtx sleeps for d, returning false if ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// estimateWait returns the estimated seconds until a task at the given
// 1-based pending position finishes. Tasks are assumed to cost
// baseTaskCost + cooldown/batchSize each.
func estimateWait(position int, cooldown time.Duration, batchSize int) int {
	if position < 1 || batchSize < 1 {
		return 0
	}
	c := cooldown.Seconds()
	perTask := baseTaskCost.Seconds() + c/float64(batchSize)

	batchIndex := (position - 1) / batchSize
	slot := (position-1)%batchSize + 1
	return int(math.Floor(float64(batchIndex)*c + float64(slot)*perTask))
}

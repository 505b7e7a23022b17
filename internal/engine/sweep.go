package engine

import (
	"context"
	"time"

	"github.com/seantiz/turnstile/internal/model"
)

// sweepLoop runs a sweep every CleanupInterval until ctx ends, independent
// of how busy the scheduler is.
func (q *Queue) sweepLoop(ctx context.Context) {
	tkr := time.NewTicker(q.cfg.CleanupInterval)
	defer tkr.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tkr.C:
			q.sweep(triggerInterval)
		}
	}
}

func (q *Queue) sweep(trigger string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sweepLocked(trigger)
}

// sweepLocked evicts terminal records older than ResultRetention and live
// records whose last liveness signal is older than HeartbeatTimeout. It does
// not interrupt a running call; only the bookkeeping is reclaimed.
func (q *Queue) sweepLocked(trigger string) {
	now := time.Now().UTC()
	var expired, abandoned int
	dropped := make(map[string]bool)

	for _, rec := range q.tasks {
		if model.IsTerminal(rec.status) {
			if rec.finishedAt != nil && now.Sub(*rec.finishedAt) > q.cfg.ResultRetention {
				q.removeLocked(rec, ReasonExpired)
				expired++
			}
			continue
		}

		lastSeen := rec.submittedAt
		if rec.lastHeartbeat != nil {
			lastSeen = *rec.lastHeartbeat
		}
		if now.Sub(lastSeen) > q.cfg.HeartbeatTimeout {
			if rec.status == model.StatusQueued {
				dropped[rec.id] = true
			}
			q.removeLocked(rec, ReasonAbandoned)
			abandoned++
		}
	}

	if len(dropped) > 0 {
		kept := q.pending[:0]
		for _, id := range q.pending {
			if !dropped[id] {
				kept = append(kept, id)
			}
		}
		q.pending = kept
		queueDepth.Set(float64(len(q.pending)))
	}

	q.cancelledSinceSweep = 0
	sweepsTotal.WithLabelValues(trigger).Inc()

	if expired > 0 || abandoned > 0 {
		q.logger.Info("sweep evicted tasks",
			"trigger", trigger,
			"expired", expired,
			"abandoned", abandoned,
			"remaining", len(q.tasks),
		)
	}
}

package engine

import "time"

// EstimateWait exposes the wait estimate for table tests.
var EstimateWait = estimateWait

// SetOnAdmit installs an observer for non-empty admissions. Call before Start.
func (q *Queue) SetOnAdmit(fn func(ids []string, at time.Time)) {
	q.onAdmit = fn
}

// Package engine provides the admission-controlled task queue. Callers submit
// work that must reach a single rate-limited upstream session; a single
// scheduler goroutine admits queued tasks in batches separated by a cooldown
// and executes them strictly one at a time, retrying transient throttling with
// jittered backoff. Callers poll status, fetch results exactly once, cancel,
// and send heartbeats; a sweeper reclaims expired results and abandoned tasks.
package engine

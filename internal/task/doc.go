// Package task defines the callable unit of work the queue executes, the
// error classification the execution engine relies on, and a registry of
// named task kinds that the HTTP layer resolves submissions against.
package task

package task

import (
	"context"
	"errors"
	"strings"
)

// ErrRateLimited marks a transient upstream throttling failure. The engine
// retries errors that wrap it.
var ErrRateLimited = errors.New("rate limit exceeded")

// ErrUnknownKind is returned when a kind is not registered.
var ErrUnknownKind = errors.New("unknown task kind")

// Params holds the arguments passed to a task callable. The queue never
// inspects them.
type Params map[string]any

// Func performs one unit of upstream work. The returned value is stored as
// the task's result verbatim. ctx is cancelled only when the queue shuts down.
type Func func(ctx context.Context, params Params) (any, error)

// rateLimitMarkers are message fragments upstream clients use to signal
// throttling without wrapping ErrRateLimited.
var rateLimitMarkers = []string{"Rate limit exceeded", "403"}

// RateLimitClassifier is implemented by errors that know whether they signal
// throttling. IsRateLimited trusts it and skips message matching.
type RateLimitClassifier interface {
	RateLimited() bool
}

// IsRateLimited reports whether err signals transient upstream throttling.
// Message markers are only consulted for errors that neither wrap
// ErrRateLimited nor carry a RateLimitClassifier.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var c RateLimitClassifier
	if errors.As(err, &c) {
		return c.RateLimited()
	}
	msg := err.Error()
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// String reads a string parameter, returning "" when absent or not a string.
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

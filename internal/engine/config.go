package engine

import "time"

// Default queue tuning. The retry constants were chosen empirically against
// the upstream and are expected to be tuned.
const (
	DefaultMaxConcurrent         = 1
	DefaultCooldownPeriod        = 3 * time.Second
	DefaultBatchCleanupThreshold = 10
	DefaultCleanupInterval       = 60 * time.Second
	DefaultHeartbeatTimeout      = 5 * time.Minute
	DefaultResultRetention       = 1800 * time.Second
	DefaultIdlePoll              = time.Second

	DefaultRetryMaxAttempts = 3
	DefaultRetryBaseDelay   = 5 * time.Second
	DefaultRetryStep        = 2 * time.Second
	DefaultRetryJitter      = 2 * time.Second
)

// RetryPolicy bounds how rate-limited attempts are retried. The wait before
// attempt n+1 is BaseDelay + n*Step + a random fraction of Jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Step        time.Duration
	Jitter      time.Duration
}

// Config holds queue tuning.
type Config struct {
	// MaxConcurrent is the number of tasks admitted per cooldown cycle.
	// Admitted tasks still run one at a time.
	MaxConcurrent int

	// CooldownPeriod is the minimum spacing between batch admissions.
	CooldownPeriod time.Duration

	// BatchCleanupThreshold forces a sweep once more than this many tasks
	// have been cancelled since the previous sweep. The minimum is 1; zero
	// selects the default.
	BatchCleanupThreshold int

	// CleanupInterval is the period of the background sweep.
	CleanupInterval time.Duration

	// HeartbeatTimeout is how long a queued or processing task may go
	// without a liveness signal before it is reclaimed.
	HeartbeatTimeout time.Duration

	// ResultRetention is how long an unretrieved result survives.
	ResultRetention time.Duration

	// IdlePoll is how long the scheduler sleeps when nothing is queued.
	IdlePoll time.Duration

	Retry RetryPolicy
}

// DefaultConfig returns a Config with the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:         DefaultMaxConcurrent,
		CooldownPeriod:        DefaultCooldownPeriod,
		BatchCleanupThreshold: DefaultBatchCleanupThreshold,
		CleanupInterval:       DefaultCleanupInterval,
		HeartbeatTimeout:      DefaultHeartbeatTimeout,
		ResultRetention:       DefaultResultRetention,
		IdlePoll:              DefaultIdlePoll,
		Retry: RetryPolicy{
			MaxAttempts: DefaultRetryMaxAttempts,
			BaseDelay:   DefaultRetryBaseDelay,
			Step:        DefaultRetryStep,
			Jitter:      DefaultRetryJitter,
		},
	}
}

// withDefaults fills unset or invalid fields. A zero CooldownPeriod and zero
// retry delays are valid and kept.
func (c Config) withDefaults() Config {
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.CooldownPeriod < 0 {
		c.CooldownPeriod = 0
	}
	if c.BatchCleanupThreshold < 1 {
		c.BatchCleanupThreshold = DefaultBatchCleanupThreshold
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.ResultRetention <= 0 {
		c.ResultRetention = DefaultResultRetention
	}
	if c.IdlePoll <= 0 {
		c.IdlePoll = DefaultIdlePoll
	}
	if c.Retry.MaxAttempts < 1 {
		c.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	return c
}

package store

import "time"

// Config holds configuration shared by every Collection.
type Config struct {
	// OpTimeout bounds each individual backend call. A call that does not
	// finish in time fails with ErrUnavailable.
	// Default: 5s
	OpTimeout time.Duration

	// MaxConflictRetries is how many times Mutate re-reads and re-applies a
	// change after losing a compare-and-set race before giving up with
	// ErrConcurrentModification.
	// Default: 5
	// Max: 100
	MaxConflictRetries int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		OpTimeout:          5 * time.Second,
		MaxConflictRetries: 5,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.OpTimeout <= 0 {
		c.OpTimeout = 5 * time.Second
	}
	if c.MaxConflictRetries < 0 {
		c.MaxConflictRetries = 0
	}
	if c.MaxConflictRetries > 100 {
		c.MaxConflictRetries = 100
	}
}

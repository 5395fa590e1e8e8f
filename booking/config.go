package booking

import "github.com/tradojo/booking/store"

// Config holds configuration for the Engine.
type Config struct {
	// Store configures every collection the engine opens.
	Store store.Config

	// CascadeConcurrency is how many service deletions a travel delete runs
	// at once.
	// Default: 8
	// Max: 64
	CascadeConcurrency int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Store:              store.DefaultConfig(),
		CascadeConcurrency: 8,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.CascadeConcurrency < 1 {
		c.CascadeConcurrency = 8
	}
	if c.CascadeConcurrency > 64 {
		c.CascadeConcurrency = 64
	}
}

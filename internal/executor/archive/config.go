package archive

import (
	"fmt"
	"time"
)

const (
	DefaultDiscriminatorKey = "archive_type"
	DefaultEventKey         = "event"
	DefaultCacheCapacity    = 64
	DefaultCacheTTL         = 60 * time.Second
	DefaultSweepInterval    = 10 * time.Second
	DefaultSeparator        = "\n"
)

// Config holds archive executor settings.
type Config struct {
	BasePath    string
	DefaultPath string
	// Paths maps a discriminator value to a path template.
	Paths map[string]string

	DiscriminatorKey string
	// EventKey selects the payload field that is written. Empty writes the
	// whole payload.
	EventKey string

	CacheCapacity int
	CacheTTL      time.Duration
	// SweepInterval is the period of the background expiry sweep. Zero
	// disables the sweeper; expiry is then checked only on access.
	SweepInterval time.Duration
	Separator     string
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() Config {
	return Config{
		BasePath:         "./archive",
		DefaultPath:      "/default/default.log",
		Paths:            map[string]string{},
		DiscriminatorKey: DefaultDiscriminatorKey,
		EventKey:         DefaultEventKey,
		CacheCapacity:    DefaultCacheCapacity,
		CacheTTL:         DefaultCacheTTL,
		SweepInterval:    DefaultSweepInterval,
		Separator:        DefaultSeparator,
	}
}

// Validate checks required fields and positive limits.
func (c Config) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("archive base_path is required")
	}
	if c.DefaultPath == "" {
		return fmt.Errorf("archive default_path is required")
	}
	if c.DiscriminatorKey == "" {
		return fmt.Errorf("archive discriminator_key is required")
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("archive cache_capacity must be positive, got %d", c.CacheCapacity)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("archive cache_ttl must be positive, got %v", c.CacheTTL)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("archive sweep_interval must not be negative, got %v", c.SweepInterval)
	}
	return nil
}

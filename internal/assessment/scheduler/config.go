package scheduler

import (
	"time"

	"assessment-sync/internal/common/config"
)

// Config holds the save timing policy.
type Config struct {
	PartialDebounce time.Duration
	AutoSaveDelay   time.Duration
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	RequestTimeout  time.Duration
	// MaxParallel bounds concurrent partial saves during a flush-all.
	MaxParallel int
}

func DefaultConfig() Config {
	return Config{
		PartialDebounce: 500 * time.Millisecond,
		AutoSaveDelay:   2 * time.Second,
		MaxRetries:      3,
		BaseDelay:       500 * time.Millisecond,
		MaxDelay:        8 * time.Second,
		RequestTimeout:  15 * time.Second,
		MaxParallel:     8,
	}
}

// ConfigFrom converts the millisecond settings of the loaded config.
func ConfigFrom(c config.SessionConfig) Config {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return Config{
		PartialDebounce: ms(c.PartialDebounce),
		AutoSaveDelay:   ms(c.AutoSaveDelay),
		MaxRetries:      c.MaxRetries,
		BaseDelay:       ms(c.BaseDelay),
		MaxDelay:        ms(c.MaxDelay),
		RequestTimeout:  ms(c.RequestTimeout),
		MaxParallel:     c.MaxParallel,
	}.withDefaults()
}

// withDefaults fills zero durations from DefaultConfig. MaxRetries is kept as
// given so zero disables retrying.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PartialDebounce <= 0 {
		c.PartialDebounce = d.PartialDebounce
	}
	if c.AutoSaveDelay <= 0 {
		c.AutoSaveDelay = d.AutoSaveDelay
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = d.MaxParallel
	}
	return c
}

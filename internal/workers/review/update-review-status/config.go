// internal/workers/review/update-review-status/config.go
package updatereviewstatus

import (
	"time"

	"assessment-sync/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

// LoadConfig takes the per-job timeout from the worker settings, falling back
// to ten seconds.
func LoadConfig(wcfg config.WorkerConfig) *Config {
	timeout := 10 * time.Second
	if wcfg.Timeout > 0 {
		timeout = time.Duration(wcfg.Timeout) * time.Millisecond
	}
	return &Config{Timeout: timeout}
}

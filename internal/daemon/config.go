// Package daemon runs the long-lived indexing service: queue workers, the
// spool watcher and a periodic commit, guarded by a PID file.
package daemon

import (
	"errors"
	"path/filepath"
	"time"
)

// PIDFileName is the PID file created in the data directory.
const PIDFileName = "repoindex.pid"

// Config holds configuration for the daemon service.
type Config struct {
	// PIDPath is the file path for storing the daemon's process ID.
	PIDPath string

	// CommitInterval is how often pending index writes are committed.
	// Zero disables periodic commits.
	CommitInterval time.Duration

	// ShutdownGracePeriod bounds how long queued work may run after a stop
	// signal. Default: 30s
	ShutdownGracePeriod time.Duration
}

// DefaultConfig returns a Config whose PID file lives in dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		PIDPath:             filepath.Join(dataDir, PIDFileName),
		CommitInterval:      5 * time.Second,
		ShutdownGracePeriod: 30 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.PIDPath == "" {
		return errors.New("PID path cannot be empty")
	}
	if c.CommitInterval < 0 {
		return errors.New("commit interval cannot be negative")
	}
	if c.ShutdownGracePeriod <= 0 {
		return errors.New("shutdown grace period must be positive")
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/syntrixbase/indexsync/internal/indexsync/types"
)

// WorkerConfig tunes the worker pool and its retry policy. The pool leases
// at most NumWorkers messages from the queue at a time.
type WorkerConfig struct {
	NumWorkers        int               `yaml:"num_workers"`
	TaskTimeout       time.Duration     `yaml:"task_timeout"`
	DrainTimeout      time.Duration     `yaml:"drain_timeout"`
	ShutdownTimeout   time.Duration     `yaml:"shutdown_timeout"`
	DepthPollInterval time.Duration     `yaml:"depth_poll_interval"`
	Retry             types.RetryPolicy `yaml:"retry"`
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		NumWorkers:        types.DefaultNumWorkers,
		TaskTimeout:       types.DefaultTaskTimeout,
		DrainTimeout:      types.DefaultDrainTimeout,
		ShutdownTimeout:   types.DefaultShutdownTimeout,
		DepthPollInterval: 15 * time.Second,
		Retry:             types.DefaultRetryPolicy(),
	}
}

func (c *WorkerConfig) ApplyDefaults() {
	d := DefaultWorkerConfig()
	if c.NumWorkers == 0 {
		c.NumWorkers = d.NumWorkers
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = d.TaskTimeout
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.DepthPollInterval == 0 {
		c.DepthPollInterval = d.DepthPollInterval
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = d.Retry.InitialBackoff
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = d.Retry.MaxBackoff
	}
}

func (c *WorkerConfig) ApplyEnvOverrides() {
	if val := os.Getenv("INDEXSYNC_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.NumWorkers = n
		}
	}
}

func (c *WorkerConfig) ResolvePaths(_ string) {}

func (c *WorkerConfig) Validate() error {
	if c.NumWorkers < 1 {
		return fmt.Errorf("worker.num_workers must be at least 1, got %d", c.NumWorkers)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("worker.retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialBackoff <= 0 || c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return fmt.Errorf("worker.retry backoff must satisfy 0 < initial_backoff <= max_backoff")
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("worker.task_timeout must be positive")
	}
	return nil
}

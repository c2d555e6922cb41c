package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Queue      QueueConfig      `yaml:"queue"`
	Worker     WorkerConfig     `yaml:"worker"`
	Search     SearchConfig     `yaml:"search"`
	Storage    StorageConfig    `yaml:"storage"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	Reindex    ReindexConfig    `yaml:"reindex"`
	Admin      AdminConfig      `yaml:"admin"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Logging:    DefaultLoggingConfig(),
		Queue:      DefaultQueueConfig(),
		Worker:     DefaultWorkerConfig(),
		Search:     DefaultSearchConfig(),
		Storage:    DefaultStorageConfig(),
		DeadLetter: DefaultDeadLetterConfig(),
		Reindex:    DefaultReindexConfig(),
		Admin:      DefaultAdminConfig(),
	}
}

// LoadConfig loads configuration from configDir and the environment.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults ->
// ApplyEnvOverrides -> ResolvePaths -> Validate. Missing files are skipped.
func LoadConfig(configDir string) (*Config, error) {
	cfg := DefaultConfig()

	for _, name := range []string{"config.yml", "config.local.yml"} {
		if err := loadFile(filepath.Join(configDir, name), cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Apply(configDir); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// Apply runs the configuration lifecycle on every section, then checks the
// rules that span sections.
func (c *Config) Apply(configDir string) error {
	if err := ApplyServiceConfigs(configDir,
		&c.Logging,
		&c.Queue,
		&c.Worker,
		&c.Search,
		&c.Storage,
		&c.DeadLetter,
		&c.Reindex,
		&c.Admin,
	); err != nil {
		return err
	}
	return c.validateCross()
}

func (c *Config) validateCross() error {
	// A job that runs for the full task timeout must still hold its lease.
	if c.Queue.AckWait <= c.Worker.TaskTimeout {
		return fmt.Errorf("queue.ack_wait (%s) must be greater than worker.task_timeout (%s)",
			c.Queue.AckWait, c.Worker.TaskTimeout)
	}
	return nil
}

func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return nil
}

package config

import "fmt"

const (
	DeadLetterPebble = "pebble"
	DeadLetterMongo  = "mongo"
)

// DeadLetterConfig selects where exhausted jobs are kept.
type DeadLetterConfig struct {
	Backend    string `yaml:"backend"` // pebble, mongo
	Collection string `yaml:"collection"`
}

func DefaultDeadLetterConfig() DeadLetterConfig {
	return DeadLetterConfig{
		Backend:    DeadLetterMongo,
		Collection: "index_dead_letters",
	}
}

func (c *DeadLetterConfig) ApplyDefaults() {
	d := DefaultDeadLetterConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.Collection == "" {
		c.Collection = d.Collection
	}
}

func (c *DeadLetterConfig) ApplyEnvOverrides() {}

func (c *DeadLetterConfig) ResolvePaths(_ string) {}

func (c *DeadLetterConfig) Validate() error {
	if c.Backend != DeadLetterPebble && c.Backend != DeadLetterMongo {
		return fmt.Errorf("dead_letter.backend must be pebble or mongo, got %q", c.Backend)
	}
	return nil
}

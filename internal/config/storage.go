package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// StorageConfig holds connections to the primary stores and the local
// Pebble database used for checkpoints and the local dead-letter store.
type StorageConfig struct {
	Mongo    MongoConfig    `yaml:"mongo"`
	Postgres PostgresConfig `yaml:"postgres"`
	Pebble   PebbleConfig   `yaml:"pebble"`
}

type MongoConfig struct {
	URI          string `yaml:"uri"`
	DatabaseName string `yaml:"database_name"`
}

type PostgresConfig struct {
	// DSN is optional; without it postgres entities cannot be reindexed.
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type PebbleConfig struct {
	Path           string `yaml:"path"`
	BlockCacheSize int64  `yaml:"block_cache_size"`
	// InMemory loses checkpoints and local dead letters on exit.
	InMemory bool `yaml:"in_memory"`
}

func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Mongo: MongoConfig{
			URI:          "mongodb://localhost:27017",
			DatabaseName: "crm",
		},
		Postgres: PostgresConfig{
			MaxOpenConns: 10,
		},
		Pebble: PebbleConfig{
			Path:           "data/indexsync",
			BlockCacheSize: 8 << 20,
		},
	}
}

func (c *StorageConfig) ApplyDefaults() {
	d := DefaultStorageConfig()
	if c.Mongo.URI == "" {
		c.Mongo.URI = d.Mongo.URI
	}
	if c.Mongo.DatabaseName == "" {
		c.Mongo.DatabaseName = d.Mongo.DatabaseName
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = d.Postgres.MaxOpenConns
	}
	if c.Pebble.Path == "" && !c.Pebble.InMemory {
		c.Pebble.Path = d.Pebble.Path
	}
	if c.Pebble.BlockCacheSize == 0 {
		c.Pebble.BlockCacheSize = d.Pebble.BlockCacheSize
	}
}

func (c *StorageConfig) ApplyEnvOverrides() {
	if val := os.Getenv("MONGO_URI"); val != "" {
		c.Mongo.URI = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Mongo.DatabaseName = val
	}
	if val := os.Getenv("POSTGRES_DSN"); val != "" {
		c.Postgres.DSN = val
	}
}

// ResolvePaths places a relative pebble path next to the config directory.
func (c *StorageConfig) ResolvePaths(configDir string) {
	if c.Pebble.Path != "" && !filepath.IsAbs(c.Pebble.Path) {
		c.Pebble.Path = filepath.Clean(filepath.Join(filepath.Dir(configDir), c.Pebble.Path))
	}
}

func (c *StorageConfig) Validate() error {
	if c.Mongo.URI == "" {
		return fmt.Errorf("storage.mongo.uri is required")
	}
	if c.Pebble.Path == "" && !c.Pebble.InMemory {
		return fmt.Errorf("storage.pebble.path is required")
	}
	return nil
}

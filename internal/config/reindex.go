package config

import (
	"fmt"

	"github.com/syntrixbase/indexsync/internal/indexsync/reindex"
	"github.com/syntrixbase/indexsync/internal/indexsync/types"
)

const (
	CheckpointsPebble = "pebble"
	CheckpointsMongo  = "mongo"
)

// ReindexConfig lists the entities the bulk reindexer knows about.
type ReindexConfig struct {
	PageSize int `yaml:"page_size"`
	// Checkpoints is where resume cursors live: mongo is shared by every
	// process, pebble is local and locked by the process holding it.
	Checkpoints string           `yaml:"checkpoints"`
	Entities    []reindex.Entity `yaml:"entities"`
}

func DefaultReindexConfig() ReindexConfig {
	return ReindexConfig{PageSize: types.DefaultPageSize, Checkpoints: CheckpointsMongo}
}

func (c *ReindexConfig) ApplyDefaults() {
	if c.PageSize == 0 {
		c.PageSize = types.DefaultPageSize
	}
	if c.Checkpoints == "" {
		c.Checkpoints = CheckpointsMongo
	}
	for i := range c.Entities {
		c.Entities[i].ApplyDefaults()
	}
}

func (c *ReindexConfig) ApplyEnvOverrides() {}

func (c *ReindexConfig) ResolvePaths(_ string) {}

func (c *ReindexConfig) Validate() error {
	if c.PageSize < 1 {
		return fmt.Errorf("reindex.page_size must be at least 1")
	}
	if c.Checkpoints != CheckpointsPebble && c.Checkpoints != CheckpointsMongo {
		return fmt.Errorf("reindex.checkpoints must be pebble or mongo, got %q", c.Checkpoints)
	}
	seen := make(map[string]bool, len(c.Entities))
	for i := range c.Entities {
		e := &c.Entities[i]
		if err := e.Validate(); err != nil {
			return fmt.Errorf("reindex.entities[%d]: %w", i, err)
		}
		if seen[e.Name] {
			return fmt.Errorf("reindex.entities: duplicate entity %q", e.Name)
		}
		seen[e.Name] = true
	}
	return nil
}

// UsesSource reports whether any entity reads from source.
func (c *ReindexConfig) UsesSource(source string) bool {
	for _, e := range c.Entities {
		if e.Source == source {
			return true
		}
	}
	return false
}

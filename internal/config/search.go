package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/syntrixbase/indexsync/internal/indexsync/adapter"
)

const (
	SearchElasticsearch = "elasticsearch"
	SearchMemory        = "memory"
)

// SearchConfig configures the search backend and tenant index layout.
type SearchConfig struct {
	Backend        string        `yaml:"backend"` // elasticsearch, memory
	Addresses      []string      `yaml:"addresses"`
	APIKey         string        `yaml:"api_key"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	IndexPrefix string          `yaml:"index_prefix"`
	Tenancy     adapter.Tenancy `yaml:"tenancy"`
	// Overrides maps a logical index name to a fixed physical index.
	Overrides map[string]adapter.IndexOverride `yaml:"overrides"`
}

func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Backend:        SearchElasticsearch,
		Addresses:      []string{"http://localhost:9200"},
		RequestTimeout: 10 * time.Second,
		IndexPrefix:    "crm",
		Tenancy:        adapter.TenancyPerTenant,
	}
}

// Resolver builds the tenant index resolver.
func (c *SearchConfig) Resolver() adapter.IndexResolver {
	return adapter.IndexResolver{
		Prefix:    c.IndexPrefix,
		Tenancy:   c.Tenancy,
		Overrides: c.Overrides,
	}
}

func (c *SearchConfig) ApplyDefaults() {
	d := DefaultSearchConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if len(c.Addresses) == 0 {
		c.Addresses = d.Addresses
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.Tenancy == "" {
		c.Tenancy = d.Tenancy
	}
}

func (c *SearchConfig) ApplyEnvOverrides() {
	if val := os.Getenv("ELASTICSEARCH_URL"); val != "" {
		c.Addresses = nil
		for _, addr := range strings.Split(val, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				c.Addresses = append(c.Addresses, addr)
			}
		}
	}
	if val := os.Getenv("ELASTICSEARCH_API_KEY"); val != "" {
		c.APIKey = val
	}
}

func (c *SearchConfig) ResolvePaths(_ string) {}

func (c *SearchConfig) Validate() error {
	switch c.Backend {
	case SearchElasticsearch:
		if len(c.Addresses) == 0 {
			return fmt.Errorf("search.addresses is required for elasticsearch")
		}
	case SearchMemory:
	default:
		return fmt.Errorf("search.backend must be elasticsearch or memory, got %q", c.Backend)
	}
	switch c.Tenancy {
	case adapter.TenancyPerTenant, adapter.TenancyShared:
	default:
		return fmt.Errorf("search.tenancy must be per_tenant or shared, got %q", c.Tenancy)
	}
	for name, o := range c.Overrides {
		if o.Index == "" {
			return fmt.Errorf("search.overrides.%s.index is required", name)
		}
	}
	return nil
}

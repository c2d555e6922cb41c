package config

import (
	"fmt"
	"net"
	"os"
	"time"
)

// AdminConfig configures the admin HTTP API.
type AdminConfig struct {
	Enabled bool `yaml:"enabled"`
	// Address defaults to loopback. Listening anywhere else requires
	// JWTSecret.
	Address string `yaml:"address"`
	// JWTSecret enables HS256 bearer auth on /v1 routes when set.
	JWTSecret       string        `yaml:"jwt_secret"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func DefaultAdminConfig() AdminConfig {
	return AdminConfig{
		Enabled:         true,
		Address:         "127.0.0.1:8090",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

func (c *AdminConfig) ApplyDefaults() {
	d := DefaultAdminConfig()
	if c.Address == "" {
		c.Address = d.Address
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
}

func (c *AdminConfig) ApplyEnvOverrides() {
	if val := os.Getenv("ADMIN_JWT_SECRET"); val != "" {
		c.JWTSecret = val
	}
}

func (c *AdminConfig) ResolvePaths(_ string) {}

func (c *AdminConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Address == "" {
		return fmt.Errorf("admin.address is required when the admin API is enabled")
	}
	host, _, err := net.SplitHostPort(c.Address)
	if err != nil {
		return fmt.Errorf("admin.address %q: %w", c.Address, err)
	}
	if c.JWTSecret == "" && !isLoopback(host) {
		return fmt.Errorf("admin.jwt_secret (or ADMIN_JWT_SECRET) is required when admin.address %q is not loopback", c.Address)
	}
	return nil
}

// isLoopback reports whether host only accepts local connections. An empty
// host listens on every interface.
func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// LoggingConfig configures the console and rotating file outputs.
type LoggingConfig struct {
	Level    string         `yaml:"level"`  // debug, info, warn, error
	Format   string         `yaml:"format"` // text, json
	Dir      string         `yaml:"dir"`    // log directory path
	Rotation RotationConfig `yaml:"rotation"`
	Console  ConsoleConfig  `yaml:"console"`
	File     FileConfig     `yaml:"file"`
}

// RotationConfig holds log rotation settings
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // MB
	MaxBackups int  `yaml:"max_backups"` // number of files
	MaxAge     int  `yaml:"max_age"`     // days
	Compress   bool `yaml:"compress"`    // gzip old files
}

// ConsoleConfig holds console output configuration
type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`  // optional override
	Format  string `yaml:"format"` // text or json
}

// FileConfig holds file output configuration
type FileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`  // optional override
	Format  string `yaml:"format"` // text or json
}

// DefaultLoggingConfig returns default logging configuration
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "text",
		Dir:    "logs",
		Rotation: RotationConfig{
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		},
		// Output level and format are inherited in ApplyDefaults.
		Console: ConsoleConfig{Enabled: true},
		File:    FileConfig{Enabled: true},
	}
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// ApplyDefaults fills unset fields. Outputs inherit the global level and
// format. Enabled flags and Compress are left alone: config files are
// decoded over DefaultLoggingConfig, so a false there is explicit.
func (c *LoggingConfig) ApplyDefaults() {
	d := DefaultLoggingConfig()
	if c.Level == "" {
		c.Level = d.Level
	}
	if c.Format == "" {
		c.Format = d.Format
	}
	if c.Dir == "" {
		c.Dir = d.Dir
	}
	if c.Rotation.MaxSize == 0 {
		c.Rotation.MaxSize = d.Rotation.MaxSize
	}
	if c.Rotation.MaxBackups == 0 {
		c.Rotation.MaxBackups = d.Rotation.MaxBackups
	}
	if c.Rotation.MaxAge == 0 {
		c.Rotation.MaxAge = d.Rotation.MaxAge
	}
	inherit(&c.Console.Level, c.Level)
	inherit(&c.Console.Format, c.Format)
	inherit(&c.File.Level, c.Level)
	inherit(&c.File.Format, c.Format)
}

func inherit(field *string, parent string) {
	if *field == "" {
		*field = parent
	}
}

// ApplyEnvOverrides applies LOG_LEVEL to the global level and to every
// output level that was inherited from it.
func (c *LoggingConfig) ApplyEnvOverrides() {
	val := strings.ToLower(os.Getenv("LOG_LEVEL"))
	if val == "" {
		return
	}
	if c.Console.Level == c.Level {
		c.Console.Level = val
	}
	if c.File.Level == c.Level {
		c.File.Level = val
	}
	c.Level = val
}

// ResolvePaths puts a relative log dir next to the config directory.
// Paths starting with ".." stay relative to the config directory itself.
func (c *LoggingConfig) ResolvePaths(configDir string) {
	if c.Dir == "" || filepath.IsAbs(c.Dir) {
		return
	}
	base := filepath.Dir(configDir)
	if strings.HasPrefix(c.Dir, "..") {
		base = configDir
	}
	c.Dir = filepath.Clean(filepath.Join(base, c.Dir))
}

func (c *LoggingConfig) Validate() error {
	if !slices.Contains(logLevels, c.Level) {
		return fmt.Errorf("invalid log level: %s (must be one of %s)", c.Level, strings.Join(logLevels, ", "))
	}
	if !slices.Contains(logFormats, c.Format) {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Format)
	}
	if c.Dir == "" {
		return fmt.Errorf("log directory cannot be empty")
	}
	if c.Console.Enabled {
		if err := validateOutput("console", c.Console.Level, c.Console.Format); err != nil {
			return err
		}
	}
	if c.File.Enabled {
		if err := validateOutput("file", c.File.Level, c.File.Format); err != nil {
			return err
		}
	}
	return nil
}

// validateOutput checks per-output overrides. Empty means inherited.
func validateOutput(name, level, format string) error {
	if level != "" && !slices.Contains(logLevels, level) {
		return fmt.Errorf("invalid %s log level: %s", name, level)
	}
	if format != "" && !slices.Contains(logFormats, format) {
		return fmt.Errorf("invalid %s log format: %s", name, format)
	}
	return nil
}

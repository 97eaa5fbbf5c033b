// Package config loads luastep settings from TOML or YAML files and the
// environment.
//
// Precedence, lowest first: built-in defaults, the config file, LUASTEP_*
// environment variables. Command-line flags are applied by the caller.
package config

import (
	"fmt"

	"github.com/dshills/luastep/internal/logging"
)

// Config is the complete luastep configuration.
type Config struct {
	Log         LogConfig          `toml:"log" yaml:"log"`
	Runtime     RuntimeConfig      `toml:"runtime" yaml:"runtime"`
	Breakpoints []BreakpointConfig `toml:"breakpoints" yaml:"breakpoints"`

	// History is the readline history file. Empty disables history.
	History string `toml:"history" yaml:"history"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Pretty bool   `toml:"pretty" yaml:"pretty"`
}

// RuntimeConfig configures the Lua state.
type RuntimeConfig struct {
	// LineLimit caps the lines a unit may run per resume. Zero is unlimited.
	LineLimit int64 `toml:"line_limit" yaml:"line_limit"`

	// AllLibraries opens io and os in addition to the safe libraries.
	AllLibraries bool `toml:"all_libraries" yaml:"all_libraries"`
}

// BreakpointConfig is a breakpoint set at startup.
type BreakpointConfig struct {
	File string `toml:"file" yaml:"file"`
	Line int    `toml:"line" yaml:"line"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "warn",
			Pretty: true,
		},
		Runtime: RuntimeConfig{
			LineLimit: 0,
		},
	}
}

// Validate checks every field and returns the first problem found.
func (c *Config) Validate() error {
	if !logging.ValidLevel(c.Log.Level) {
		return fmt.Errorf("%w: log.level %q", ErrValidationFailed, c.Log.Level)
	}
	if c.Runtime.LineLimit < 0 {
		return fmt.Errorf("%w: runtime.line_limit %d must not be negative", ErrValidationFailed, c.Runtime.LineLimit)
	}
	for i, bp := range c.Breakpoints {
		if bp.File == "" {
			return fmt.Errorf("%w: breakpoints[%d] has no file", ErrValidationFailed, i)
		}
		if bp.Line < 1 {
			return fmt.Errorf("%w: breakpoints[%d] line %d must be positive", ErrValidationFailed, i, bp.Line)
		}
	}
	return nil
}

// Logging returns the logging configuration derived from c.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Pretty = c.Log.Pretty
	return cfg
}

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvLogLevel  = "LUASTEP_LOG_LEVEL"
	EnvLineLimit = "LUASTEP_LINE_LIMIT"
	EnvHistory   = "LUASTEP_HISTORY"
)

// FileSystem is an abstraction for file system operations.
// This allows for easy testing with in-memory file systems.
type FileSystem interface {
	// ReadFile reads the entire file at path.
	ReadFile(path string) ([]byte, error)
}

// OSFS implements FileSystem using the real OS file system.
type OSFS struct{}

// ReadFile reads the entire file at path.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Loader reads configuration files.
type Loader struct {
	fs     FileSystem
	lookup func(string) (string, bool)
}

// NewLoader creates a loader reading from the OS file system and
// environment.
func NewLoader() *Loader {
	return NewLoaderWithFS(OSFS{})
}

// NewLoaderWithFS creates a loader with a custom file system.
func NewLoaderWithFS(fsys FileSystem) *Loader {
	return &Loader{
		fs:     fsys,
		lookup: os.LookupEnv,
	}
}

// Load reads the configuration at path, applies environment overrides and
// validates the result. An empty path or a missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// Load reads the configuration at path. See the package-level Load.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := l.fs.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode parses data into cfg based on the extension of path. Fields absent
// from the file keep their current values.
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			perr := &ParseError{Path: path, Message: err.Error(), Err: err}
			var derr *toml.DecodeError
			if errors.As(err, &derr) {
				perr.Line, perr.Column = derr.Position()
			}
			return perr
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			if len(bytes.TrimSpace(data)) == 0 {
				return nil
			}
			return &ParseError{Path: path, Message: err.Error(), Err: err}
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	if v, ok := l.lookup(EnvLogLevel); ok {
		cfg.Log.Level = v
	}
	if v, ok := l.lookup(EnvLineLimit); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrValidationFailed, EnvLineLimit, v)
		}
		cfg.Runtime.LineLimit = n
	}
	if v, ok := l.lookup(EnvHistory); ok {
		cfg.History = v
	}
	return nil
}

// Package config handles ncd.toml configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/roach88/ncd/internal/value"
)

// FileName is the configuration file looked for by FindAndLoad.
const FileName = "ncd.toml"

// Config is an ncd.toml configuration.
type Config struct {
	Log    Log          `toml:"log"`
	Trace  Trace        `toml:"trace"`
	Limits value.Limits `toml:"limits"`
	Interp Interp       `toml:"interp"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `toml:"-"`
}

// Log configures the process-wide slog handler.
type Log struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level"`

	// Format is text, json or auto (text on a terminal, json otherwise).
	Format string `toml:"format"`
}

// Trace configures the transition log.
type Trace struct {
	// Database is the SQLite file runs are recorded to. Empty disables
	// recording.
	Database string `toml:"database"`

	// BatchSize is how many transitions are buffered per write.
	BatchSize int `toml:"batch_size"`
}

// Interp configures the interpreter.
type Interp struct {
	ExitWhenIdle bool `toml:"exit_when_idle"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Log:    Log{Level: "info", Format: "auto"},
		Trace:  Trace{BatchSize: 256},
		Limits: value.DefaultLimits,
	}
}

// Load reads the file at path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	c.Path = path

	// Relative database paths are relative to the config file.
	if db := c.Trace.Database; db != "" && db != ":memory:" && !filepath.IsAbs(db) {
		c.Trace.Database = filepath.Join(filepath.Dir(path), db)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find an ncd.toml file and loads it.
// Returns the defaults when no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks field values.
func (c *Config) Validate() error {
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	if c.Trace.BatchSize < 0 {
		return fmt.Errorf("trace.batch_size: must not be negative")
	}
	if c.Limits.MaxDepth <= 0 || c.Limits.MaxElements <= 0 || c.Limits.MaxPool <= 0 {
		return fmt.Errorf("limits: every limit must be positive")
	}
	return nil
}

// SlogLevel parses Log.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	return level, nil
}

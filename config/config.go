// Package config loads bookpipe settings.
//
// Settings come from defaults, then an optional TOML file, then BOOKPIPE_*
// environment variables. Command-line flags are applied last by the caller.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// DefaultPath is the config file read when no path is given and the file
// exists.
const DefaultPath = "bookpipe.toml"

const (
	defaultWorkers      = 4
	defaultPollInterval = 5 * time.Second
)

// Config holds the settings shared by the bookpipe commands.
//
// StorageDir is the root under which each book gets its own directory.
// LegacyStorageDir is searched for uploads that predate StorageDir.
// Workers bounds concurrent chapter loading per book, and PollInterval is
// how long the worker sleeps when the queue is empty.
type Config struct {
	StorageDir       string   `toml:"storage_dir"`
	LegacyStorageDir string   `toml:"legacy_storage_dir"`
	DatabasePath     string   `toml:"database_path"`
	Workers          int      `toml:"workers"`
	PollInterval     Duration `toml:"poll_interval"`
	Debug            bool     `toml:"debug"`
}

// Duration is a time.Duration written as a string ("5s", "1m") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a time.ParseDuration string, ignoring surrounding
// whitespace.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", text)
	}
	d.Duration = v
	return nil
}

// MarshalText writes the duration in time.Duration.String form, which
// UnmarshalText accepts back.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		StorageDir:       filepath.Join("storage", "books"),
		LegacyStorageDir: filepath.Join("storage", "ebooks"),
		DatabasePath:     filepath.Join("storage", "bookpipe.db"),
		Workers:          defaultWorkers,
		PollInterval:     Duration{defaultPollInterval},
	}
}

// Load builds the configuration. An explicit path must exist; with an empty
// path DefaultPath is read only if present.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(err, "unable to read config %s", path)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.ensureDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := env("BOOKPIPE_STORAGE_DIR"); v != "" {
		c.StorageDir = v
	}
	if v := env("BOOKPIPE_LEGACY_STORAGE_DIR"); v != "" {
		c.LegacyStorageDir = v
	}
	if v := env("BOOKPIPE_DB"); v != "" {
		c.DatabasePath = v
	}
	if v := env("BOOKPIPE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "invalid BOOKPIPE_WORKERS")
		}
		c.Workers = n
	}
	if v := env("BOOKPIPE_POLL_INTERVAL"); v != "" {
		if err := c.PollInterval.UnmarshalText([]byte(v)); err != nil {
			return errors.Wrap(err, "invalid BOOKPIPE_POLL_INTERVAL")
		}
	}
	if v := env("BOOKPIPE_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, "invalid BOOKPIPE_DEBUG")
		}
		c.Debug = b
	}
	return nil
}

func (c *Config) ensureDefaults() {
	def := Default()
	if strings.TrimSpace(c.StorageDir) == "" {
		c.StorageDir = def.StorageDir
	}
	if strings.TrimSpace(c.LegacyStorageDir) == "" {
		c.LegacyStorageDir = def.LegacyStorageDir
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		c.DatabasePath = def.DatabasePath
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.PollInterval.Duration <= 0 {
		c.PollInterval = def.PollInterval
	}
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

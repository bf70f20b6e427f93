// Package config loads gruf's YAML configuration and applies environment
// overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/rshade/gruf/internal/cache"
)

// Environment variables read by ApplyEnv.
const (
	EnvLogLevel  = "GRUF_LOG_LEVEL"
	EnvLogFormat = "GRUF_LOG_FORMAT"
	EnvXDGConfig = "XDG_CONFIG_HOME"
)

// DefaultRemote is the git remote that points at the Gerrit server.
const DefaultRemote = "gerrit"

// Config is the merged gruf configuration.
type Config struct {
	Remote   string                 `yaml:"remote"`
	Cache    CacheConfig            `yaml:"cache"`
	QueryMap map[string]string      `yaml:"querymap"`
	CmdAlias map[string]AliasConfig `yaml:"cmdalias"`
	Logging  LoggingConfig          `yaml:"logging"`

	path string
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// Dir replaces the cache root.
	Dir string `yaml:"dir"`
	// Lifetime is integer seconds or a Go duration. Empty means the client default.
	Lifetime string `yaml:"lifetime"`
	// Disabled turns caching off entirely.
	Disabled bool `yaml:"disabled"`
}

// AliasConfig maps a command alias onto a command line.
type AliasConfig struct {
	Cmd string `yaml:"cmd"`
}

// DefaultCmdAliases returns the built-in command aliases.
func DefaultCmdAliases() map[string]AliasConfig {
	return map[string]AliasConfig{
		"confirm": {Cmd: "review --code-review 2 --verified 1"},
		"submit":  {Cmd: "review --submit"},
		"abandon": {Cmd: "review --abandon"},
		"url-for": {Cmd: "query"},
		"show":    {Cmd: "query"},
	}
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Remote:   DefaultRemote,
		CmdAlias: DefaultCmdAliases(),
		Logging: LoggingConfig{
			Level: zerolog.LevelWarnValue,
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/gruf/gruf.yml, falling back to
// ~/.config when XDG_CONFIG_HOME is unset.
func DefaultPath() (string, error) {
	base := os.Getenv(EnvXDGConfig)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locating config directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "gruf", "gruf.yml"), nil
}

// Load returns defaults merged with the file at path. An empty path selects
// DefaultPath, and a missing default file is not an error. A missing file
// that was named explicitly is; Load then returns the defaults along with an
// error wrapping fs.ErrNotExist.
func Load(path string) (*Config, error) {
	cfg := New()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return cfg, nil //nolint:nilerr // No home directory means no config file.
		}
		path = p
	}
	cfg.path = path

	if err := ShallowMergeYAML(cfg, path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if explicit {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// ConfigPath returns the file Load read, or would have read had it existed.
func (c *Config) ConfigPath() string {
	return c.path
}

// Save writes c to path as YAML, creating the parent directory.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err = os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides file settings with GRUF_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv(cache.EnvCacheDir); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv(cache.EnvCacheLifetime); v != "" {
		c.Cache.Lifetime = v
	}
}

// CacheLifetime returns the configured lifetime. ok is false when none is set.
func (c *Config) CacheLifetime() (d time.Duration, ok bool, err error) {
	raw := strings.TrimSpace(c.Cache.Lifetime)
	if raw == "" {
		return 0, false, nil
	}
	d, err = cache.ParseLifetime(raw)
	if err != nil {
		return 0, false, fmt.Errorf("cache.lifetime: %w", err)
	}
	return d, true, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, _, err := c.CacheLifetime(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	for name, alias := range c.CmdAlias {
		if strings.TrimSpace(alias.Cmd) == "" {
			return fmt.Errorf("cmdalias %q: cmd is empty", name)
		}
	}
	return nil
}

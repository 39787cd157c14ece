// Package config loads lockcheck.toml.
//
// The file is looked up in the working directory and its parents, then in
// the user config directory ($XDG_CONFIG_HOME/lockcheck/lockcheck.toml).
// Every field is optional; [Config.WithDefaults] fills the gaps.
//
//	[scan]
//	max_results = 100
//	concurrency = 8
//	include_shrinkwrap = false
//	traversal = "logical"
//	repositories = ["^github\\.com/acme/"]
//	exclude = ["fixtures/**"]
//
//	[search]
//	backend = "local"          # or "sourcegraph"
//	roots = ["."]
//	endpoint = "https://sourcegraph.com"
//	token_env = "SRC_ACCESS_TOKEN"
//
//	[upgrade]
//	timeout = "2m"
//	npm_path = ""
//	registry = "https://registry.npmjs.org"
//
//	[cache]
//	backend = "file"           # "redis" or "none"
//	ttl = "24h"
//	redis_url = "redis://localhost:6379/0"
//
//	[server]
//	addr = ":8080"
package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/lockcheck/pkg/errors"
	"github.com/matzehuels/lockcheck/pkg/integrations/npm"
	"github.com/matzehuels/lockcheck/pkg/integrations/sourcegraph"
	"github.com/matzehuels/lockcheck/pkg/lockfile"
	"github.com/matzehuels/lockcheck/pkg/scan"
	"github.com/matzehuels/lockcheck/pkg/upgrade"
)

// FileName is the name looked up by [FindAndLoad].
const FileName = "lockcheck.toml"

const appName = "lockcheck"

// Search backends.
const (
	BackendLocal       = "local"
	BackendSourcegraph = "sourcegraph"
)

// Cache backends.
const (
	CacheFile  = "file"
	CacheRedis = "redis"
	CacheNone  = "none"
)

const (
	defaultTokenEnv = "SRC_ACCESS_TOKEN"
	defaultCacheTTL = 24 * time.Hour
	defaultAddr     = ":8080"
)

// Duration is a time.Duration written as a string ("90s", "2m").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the contents of lockcheck.toml.
type Config struct {
	Scan    ScanConfig    `toml:"scan"`
	Search  SearchConfig  `toml:"search"`
	Upgrade UpgradeConfig `toml:"upgrade"`
	Cache   CacheConfig   `toml:"cache"`
	Server  ServerConfig  `toml:"server"`

	// Path is the file the config was read from; empty for defaults.
	Path string `toml:"-"`
}

// ScanConfig configures the scan coordinator.
type ScanConfig struct {
	MaxResults        int      `toml:"max_results"`
	Concurrency       int      `toml:"concurrency"`
	IncludeShrinkwrap bool     `toml:"include_shrinkwrap"`
	Traversal         string   `toml:"traversal"`
	Repositories      []string `toml:"repositories"`
	Exclude           []string `toml:"exclude"` // doublestar globs, local backend only
}

// SearchConfig selects where lockfiles are searched.
type SearchConfig struct {
	Backend  string   `toml:"backend"`
	Roots    []string `toml:"roots"`
	Endpoint string   `toml:"endpoint"`
	TokenEnv string   `toml:"token_env"`
}

// UpgradeConfig configures npm invocations.
type UpgradeConfig struct {
	Timeout  Duration `toml:"timeout"`
	NpmPath  string   `toml:"npm_path"`
	Registry string   `toml:"registry"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Backend  string   `toml:"backend"`
	TTL      Duration `toml:"ttl"`
	RedisURL string   `toml:"redis_url"`
	Dir      string   `toml:"dir"`
}

// ServerConfig configures `lockcheck serve`.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return (&Config{}).WithDefaults()
}

// WithDefaults fills zero fields in place and returns c.
func (c *Config) WithDefaults() *Config {
	if c.Scan.MaxResults <= 0 {
		c.Scan.MaxResults = scan.DefaultMaxResults
	}
	if c.Scan.Concurrency <= 0 {
		c.Scan.Concurrency = scan.DefaultConcurrency
	}
	if c.Scan.Traversal == "" {
		c.Scan.Traversal = lockfile.TraversalLogical.String()
	}
	if c.Search.Backend == "" {
		c.Search.Backend = BackendLocal
	}
	if len(c.Search.Roots) == 0 {
		c.Search.Roots = []string{"."}
	}
	if c.Search.Endpoint == "" {
		c.Search.Endpoint = sourcegraph.DefaultEndpoint
	}
	if c.Search.TokenEnv == "" {
		c.Search.TokenEnv = defaultTokenEnv
	}
	if c.Upgrade.Timeout <= 0 {
		c.Upgrade.Timeout = Duration(upgrade.DefaultTimeout)
	}
	if c.Upgrade.Registry == "" {
		c.Upgrade.Registry = npm.DefaultRegistry
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheFile
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = Duration(defaultCacheTTL)
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
	return c
}

// Validate reports the first invalid setting as an INVALID_CONFIG error.
func (c *Config) Validate() error {
	if _, err := lockfile.ParseTraversal(c.Scan.Traversal); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "scan.traversal")
	}
	if !slices.Contains([]string{BackendLocal, BackendSourcegraph}, c.Search.Backend) {
		return errors.New(errors.ErrCodeInvalidConfig, "search.backend must be %q or %q, got %q",
			BackendLocal, BackendSourcegraph, c.Search.Backend)
	}
	if c.Search.Backend == BackendSourcegraph {
		if err := errors.ValidateURL(c.Search.Endpoint); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "search.endpoint")
		}
	}
	if !slices.Contains([]string{CacheFile, CacheRedis, CacheNone}, c.Cache.Backend) {
		return errors.New(errors.ErrCodeInvalidConfig, "cache.backend must be %q, %q or %q, got %q",
			CacheFile, CacheRedis, CacheNone, c.Cache.Backend)
	}
	if c.Cache.Backend == CacheRedis && c.Cache.RedisURL == "" {
		return errors.New(errors.ErrCodeInvalidConfig, "cache.redis_url is required for the redis backend")
	}
	return nil
}

// ScanOptions converts the [scan] section. Validate must have succeeded.
func (c *Config) ScanOptions() scan.Options {
	traversal, _ := lockfile.ParseTraversal(c.Scan.Traversal)
	return scan.Options{
		MaxResults:        c.Scan.MaxResults,
		Concurrency:       c.Scan.Concurrency,
		IncludeShrinkwrap: c.Scan.IncludeShrinkwrap,
		Traversal:         traversal,
		Repositories:      c.Scan.Repositories,
	}
}

// CacheTTL returns cache.ttl as a time.Duration.
func (c *Config) CacheTTL() time.Duration { return time.Duration(c.Cache.TTL) }

// UpgradeTimeout returns upgrade.timeout as a time.Duration.
func (c *Config) UpgradeTimeout() time.Duration { return time.Duration(c.Upgrade.Timeout) }

// Token returns the search API token from the configured environment variable.
func (c *Config) Token() string {
	return os.Getenv(c.Search.TokenEnv)
}

// Load reads the config file at path and applies defaults. Relative search
// roots are resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrCodeFileNotFound, err, "config file %s", path)
		}
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "read %s", path)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "%s", path)
	}
	c.Path = path

	base := filepath.Dir(path)
	for i, root := range c.Search.Roots {
		if !filepath.IsAbs(root) {
			c.Search.Roots[i] = filepath.Join(base, root)
		}
	}
	return c, nil
}

// Parse decodes TOML text. Unknown keys are rejected so that typos do not
// silently fall back to defaults.
func Parse(data []byte) (*Config, error) {
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "decode config")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.New(errors.ErrCodeInvalidConfig, "unknown keys: %s", strings.Join(keys, ", "))
	}
	c.WithDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindAndLoad searches dir and its parents for lockcheck.toml, then the user
// config directory. Defaults are returned when no file exists.
func FindAndLoad(dir string) (*Config, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "resolve %s", dir)
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if userDir, err := userConfigDir(); err == nil {
		path := filepath.Join(userDir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Default(), nil
}

// userConfigDir returns $XDG_CONFIG_HOME/lockcheck or ~/.config/lockcheck.
func userConfigDir() (string, error) {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName), nil
}

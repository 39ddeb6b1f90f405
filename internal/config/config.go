package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Store backends
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config represents the top-level effectd.yml configuration
type Config struct {
	Version  string                 `yaml:"version"`
	Server   ServerConfig           `yaml:"server"`
	Store    StoreConfig            `yaml:"store"`
	Resolver ResolverConfig         `yaml:"resolver"`
	Cache    CacheConfig            `yaml:"cache"`
	Logging  LoggingConfig          `yaml:"logging"`
	Groups   map[string]GroupConfig `yaml:"groups,omitempty"` // Empty means the built-in groups
}

// ServerConfig configures the HTTP serving front
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	DefaultGroup string        `yaml:"default_group"` // Group served on POST /
}

// StoreConfig selects and configures the knowledge store
type StoreConfig struct {
	Backend       string        `yaml:"backend"` // "redis" or "sqlite"
	RedisURL      string        `yaml:"redis_url,omitempty"`
	Instance      string        `yaml:"instance,omitempty"` // Redis key namespace
	SQLitePath    string        `yaml:"sqlite_path,omitempty"`
	QueryTimeout  time.Duration `yaml:"query_timeout"`
	MaxCandidates int           `yaml:"max_candidates"`
}

// ResolverConfig configures record admissibility
type ResolverConfig struct {
	Lookback time.Duration `yaml:"lookback"` // Max age of a non-static record
}

// CacheConfig configures the decoded handle cache
type CacheConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"` // Default: true
}

// LoggingConfig configures the process logger
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// GroupConfig lists the model families a group admits
type GroupConfig struct {
	Families []string `yaml:"families"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{Version: "1.0"}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8321"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.DefaultGroup == "" {
		c.Server.DefaultGroup = "rdt"
	}

	if c.Store.Backend == "" {
		c.Store.Backend = BackendRedis
	}
	if c.Store.Backend == BackendRedis {
		if c.Store.RedisURL == "" {
			c.Store.RedisURL = "redis://localhost:6379/0"
		}
		if c.Store.Instance == "" {
			c.Store.Instance = "default"
		}
	}
	if c.Store.Backend == BackendSQLite && c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "effects.db"
	}
	if c.Store.QueryTimeout == 0 {
		c.Store.QueryTimeout = 2 * time.Second
	}
	if c.Store.MaxCandidates == 0 {
		c.Store.MaxCandidates = 16
	}

	if c.Resolver.Lookback == 0 {
		c.Resolver.Lookback = 20 * time.Minute
	}

	if c.Cache.Enabled == nil {
		enabled := true
		c.Cache.Enabled = &enabled
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate applies defaults and performs strict validation on the configuration
func (c *Config) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	c.applyDefaults()

	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must be positive")
	}

	switch c.Store.Backend {
	case BackendRedis:
		if c.Store.Instance == "" {
			return fmt.Errorf("store.instance is required for the redis backend")
		}
	case BackendSQLite:
	default:
		return fmt.Errorf("invalid store.backend: %s (must be 'redis' or 'sqlite')", c.Store.Backend)
	}
	if c.Store.QueryTimeout < 0 {
		return fmt.Errorf("store.query_timeout must be positive, got %s", c.Store.QueryTimeout)
	}
	if c.Store.MaxCandidates < 1 {
		return fmt.Errorf("store.max_candidates must be >= 1, got %d", c.Store.MaxCandidates)
	}

	if c.Resolver.Lookback < 0 {
		return fmt.Errorf("resolver.lookback must be positive, got %s", c.Resolver.Lookback)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s (must be 'debug', 'info', 'warn' or 'error')", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid logging.format: %s (must be 'json' or 'console')", c.Logging.Format)
	}

	for name, group := range c.Groups {
		if len(group.Families) == 0 {
			return fmt.Errorf("group '%s': at least one model family is required", name)
		}
	}
	if len(c.Groups) > 0 {
		if _, ok := c.Groups[c.Server.DefaultGroup]; !ok {
			return fmt.Errorf("server.default_group '%s' is not a configured group", c.Server.DefaultGroup)
		}
	}

	return nil
}

// CacheEnabled reports whether the handle cache is on.
func (c *Config) CacheEnabled() bool {
	return c.Cache.Enabled == nil || *c.Cache.Enabled
}

// GroupFamilies returns the group to family mapping, or nil when the
// configuration names no groups.
func (c *Config) GroupFamilies() map[string][]string {
	if len(c.Groups) == 0 {
		return nil
	}
	out := make(map[string][]string, len(c.Groups))
	for name, group := range c.Groups {
		out[name] = append([]string(nil), group.Families...)
	}
	return out
}

// Keys lists every configuration key that can be overridden.
var Keys = []string{
	"server.address", "server.read_timeout", "server.write_timeout", "server.default_group",
	"store.backend", "store.redis_url", "store.instance", "store.sqlite_path",
	"store.query_timeout", "store.max_candidates",
	"resolver.lookback",
	"cache.enabled",
	"logging.level", "logging.format",
}

// EnvPrefix prefixes environment overrides, e.g. EFFECTD_STORE_REDIS_URL.
const EnvPrefix = "EFFECTD"

// EnvKeyReplacer maps configuration keys to environment variable suffixes.
var EnvKeyReplacer = strings.NewReplacer(".", "_")

// BindEnv makes v read every key in Keys from its EFFECTD_* variable.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(EnvKeyReplacer)
	for _, key := range Keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// Override copies every key explicitly set in v (flags or environment)
// over the file values. Keys use the YAML paths, e.g. "store.redis_url".
func (c *Config) Override(v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}

	str("server.address", &c.Server.Address)
	dur("server.read_timeout", &c.Server.ReadTimeout)
	dur("server.write_timeout", &c.Server.WriteTimeout)
	str("server.default_group", &c.Server.DefaultGroup)

	str("store.backend", &c.Store.Backend)
	str("store.redis_url", &c.Store.RedisURL)
	str("store.instance", &c.Store.Instance)
	str("store.sqlite_path", &c.Store.SQLitePath)
	dur("store.query_timeout", &c.Store.QueryTimeout)
	if v.IsSet("store.max_candidates") {
		c.Store.MaxCandidates = v.GetInt("store.max_candidates")
	}

	dur("resolver.lookback", &c.Resolver.Lookback)

	if v.IsSet("cache.enabled") {
		enabled := v.GetBool("cache.enabled")
		c.Cache.Enabled = &enabled
	}

	str("logging.level", &c.Logging.Level)
	str("logging.format", &c.Logging.Format)
}

// Parse decodes YAML without validating it
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &config, nil
}

// Load reads and validates effectd.yml from the specified path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadWithOverrides reads path (when not empty), applies the keys set in v
// and validates the result. Without a file the defaults are used.
func LoadWithOverrides(path string, v *viper.Viper) (*Config, error) {
	config := &Config{Version: "1.0"}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if config, err = Parse(data); err != nil {
			return nil, err
		}
	}

	if v != nil {
		config.Override(v)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

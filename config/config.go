// Package config loads the bookshelf client configuration from a YAML file,
// a .env file and BOOKSHELF_* environment variables, and persists the
// session token next to it.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/unkn0wn-root/querycache/auth"
)

const (
	envPrefix  = "BOOKSHELF"
	configName = "config"
	configType = "yaml"
)

type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type APIConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
}

// CacheConfig selects and tunes the query cache. Provider is one of
// memory, ristretto, bigcache, redis or bolt.
type CacheConfig struct {
	Provider    string        `mapstructure:"provider"`
	Codec       string        `mapstructure:"codec"` // json, msgpack, cbor
	TTL         time.Duration `mapstructure:"ttl"`
	BulkTTL     time.Duration `mapstructure:"bulk_ttl"`
	Disabled    bool          `mapstructure:"disabled"`
	DisableBulk bool          `mapstructure:"disable_bulk"`
	MaxDecode   int           `mapstructure:"max_decode"` // bytes; 0 = unlimited

	Ristretto RistrettoConfig `mapstructure:"ristretto"`
	BigCache  BigCacheConfig  `mapstructure:"bigcache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Bolt      BoltConfig      `mapstructure:"bolt"`
}

type RistrettoConfig struct {
	NumCounters int64 `mapstructure:"num_counters"`
	MaxCost     int64 `mapstructure:"max_cost"`
	BufferItems int64 `mapstructure:"buffer_items"`
}

type BigCacheConfig struct {
	HardMaxCacheSizeMB int `mapstructure:"hard_max_cache_size_mb"`
	MaxEntrySize       int `mapstructure:"max_entry_size"`
}

// RedisConfig also decides where generations live: with a shared Redis the
// generations must be shared too, so the redis provider always uses the
// Redis gen store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type BoltConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig picks the log backend: slog, zap or logrus.
type LoggingConfig struct {
	Backend string `mapstructure:"backend"`
	File    string `mapstructure:"file"`
	Level   string `mapstructure:"level"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			URL:     "http://localhost:8989",
			Timeout: 15 * time.Second,
			Retries: 2,
		},
		Cache: CacheConfig{
			Provider: "memory",
			Codec:    "json",
			TTL:      10 * time.Minute,
			Ristretto: RistrettoConfig{
				NumCounters: 100_000,
				MaxCost:     64 << 20,
				BufferItems: 64,
			},
			BigCache: BigCacheConfig{HardMaxCacheSizeMB: 64},
			Redis:    RedisConfig{Addr: "localhost:6379"},
			Bolt:     BoltConfig{Path: filepath.Join(defaultDataPath(), "cache.db")},
		},
		Logging: LoggingConfig{
			Backend: "slog",
			File:    filepath.Join(defaultDataPath(), "bookshelf.log"),
			Level:   "INFO",
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9464"},
	}
}

// Options for Load. Zero values pick the per-OS defaults.
type Options struct {
	Dir     string // config directory
	EnvFile string // default ".env" in the working directory
}

// Loaded is a Config together with the viper instance it came from. It is
// also the auth.TokenStore of the CLI: the token is written back through
// viper into the config file.
type Loaded struct {
	*Config
	mu   sync.Mutex
	v    *viper.Viper
	file string
}

// Load reads configuration. Precedence, highest first: BOOKSHELF_*
// environment (a .env file is loaded into the environment first, without
// overriding variables already set), the YAML file, defaults.
func Load(opts Options) (*Loaded, error) {
	dir := opts.Dir
	if dir == "" {
		dir = defaultConfigPath()
	}
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(dir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Logging.File = expandHome(cfg.Logging.File)
	cfg.Cache.Bolt.Path = expandHome(cfg.Cache.Bolt.Path)

	return &Loaded{Config: cfg, v: v, file: filepath.Join(dir, configName+"."+configType)}, nil
}

// setDefaults registers every key so AutomaticEnv can override it and
// Unmarshal sees it even when the file does not mention it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("api.url", d.API.URL)
	v.SetDefault("api.token", d.API.Token)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.retries", d.API.Retries)

	v.SetDefault("cache.provider", d.Cache.Provider)
	v.SetDefault("cache.codec", d.Cache.Codec)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.bulk_ttl", d.Cache.BulkTTL)
	v.SetDefault("cache.disabled", d.Cache.Disabled)
	v.SetDefault("cache.disable_bulk", d.Cache.DisableBulk)
	v.SetDefault("cache.max_decode", d.Cache.MaxDecode)
	v.SetDefault("cache.ristretto.num_counters", d.Cache.Ristretto.NumCounters)
	v.SetDefault("cache.ristretto.max_cost", d.Cache.Ristretto.MaxCost)
	v.SetDefault("cache.ristretto.buffer_items", d.Cache.Ristretto.BufferItems)
	v.SetDefault("cache.bigcache.hard_max_cache_size_mb", d.Cache.BigCache.HardMaxCacheSizeMB)
	v.SetDefault("cache.bigcache.max_entry_size", d.Cache.BigCache.MaxEntrySize)
	v.SetDefault("cache.redis.addr", d.Cache.Redis.Addr)
	v.SetDefault("cache.redis.password", d.Cache.Redis.Password)
	v.SetDefault("cache.redis.db", d.Cache.Redis.DB)
	v.SetDefault("cache.bolt.path", d.Cache.Bolt.Path)

	v.SetDefault("logging.backend", d.Logging.Backend)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.level", d.Logging.Level)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

var _ auth.TokenStore = (*Loaded)(nil)

func (l *Loaded) Token(context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.API.Token, nil
}

// SetToken stores token under api.token and writes the config file.
func (l *Loaded) SetToken(_ context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.v.Set("api.token", token)
	l.API.Token = token
	return l.write()
}

// ClearToken removes the stored token, keeping every other setting.
func (l *Loaded) ClearToken(ctx context.Context) error { return l.SetToken(ctx, "") }

// File is the path SetToken writes to.
func (l *Loaded) File() string { return l.file }

func (l *Loaded) write() error {
	if err := os.MkdirAll(filepath.Dir(l.file), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := l.v.WriteConfigAs(l.file); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "bookshelf")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "bookshelf")
	}
}

func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "bookshelf")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "bookshelf")
	}
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[1:])
}

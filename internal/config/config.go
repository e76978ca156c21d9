// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package config loads and stores nlcube configuration in the XDG config dir.
// The file is YAML; ${VAR} references are expanded from the environment before
// parsing and NLCUBE_* variables override individual settings afterwards.
// Secrets may be kept here, but the translator API key is normally read from
// the OS keychain instead.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"nlcube/cli/internal/dsn"
	nerrors "nlcube/cli/internal/errors"
	"nlcube/cli/internal/xdg"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Backends lists the translator backends that can be selected.
var Backends = []string{"openai", "ollama", "gemini", "bedrock", "grpc", "static"}

// Config holds every nlcube setting.
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"`
	Store      StoreConfig      `yaml:"store"`
	Schema     SchemaConfig     `yaml:"schema"`
	Translator TranslatorConfig `yaml:"translator"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Guard      GuardConfig      `yaml:"guard"`
	Server     ServerConfig     `yaml:"server"`
}

// StoreConfig configures the store driver and the per-subject pools.
type StoreConfig struct {
	Driver         string        `yaml:"driver"`
	DSN            string        `yaml:"dsn,omitempty"`
	PoolSize       int           `yaml:"pool_size"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	OpenRetries    int           `yaml:"open_retries"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	RemoveTimeout  time.Duration `yaml:"remove_timeout"`
}

// SchemaConfig configures the schema cache.
type SchemaConfig struct {
	StaleAfter time.Duration `yaml:"stale_after"`
}

// TranslatorConfig selects and configures the translation backend.
type TranslatorConfig struct {
	Backend     string        `yaml:"backend"`
	Model       string        `yaml:"model,omitempty"`
	Endpoint    string        `yaml:"endpoint,omitempty"`
	APIKey      string        `yaml:"api_key,omitempty"`
	Region      string        `yaml:"region,omitempty"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	// Static is the fixed response of the "static" backend.
	Static string      `yaml:"static,omitempty"`
	Cache  CacheConfig `yaml:"cache"`
}

// CacheConfig configures the optional Redis translation cache.
type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr,omitempty"`
	TTL       time.Duration `yaml:"ttl"`
}

// ExecutionConfig configures the execution coordinator and its caller retries.
type ExecutionConfig struct {
	Workers      int           `yaml:"workers"`
	Timeout      time.Duration `yaml:"timeout"`
	Retries      int           `yaml:"retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// GuardConfig controls which statements pass validation.
type GuardConfig struct {
	AllowWrites    bool `yaml:"allow_writes"`
	AllowRawWrites bool `yaml:"allow_raw_writes"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Store: StoreConfig{
			Driver:         DriverSQLite,
			PoolSize:       5,
			AcquireTimeout: 5 * time.Second,
			OpenRetries:    3,
			ProbeTimeout:   time.Second,
			RemoveTimeout:  10 * time.Second,
		},
		Schema: SchemaConfig{StaleAfter: 30 * time.Second},
		Translator: TranslatorConfig{
			Backend:     "ollama",
			Model:       "sqlcoder",
			Timeout:     60 * time.Second,
			Temperature: 0.1,
			MaxTokens:   2000,
			Cache:       CacheConfig{TTL: 24 * time.Hour},
		},
		Execution: ExecutionConfig{
			Workers:      8,
			Timeout:      30 * time.Second,
			Retries:      3,
			RetryBackoff: 200 * time.Millisecond,
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           3000,
			AllowedOrigins: []string{"*"},
		},
	}
}

// Path returns the default path to the config file.
func Path() (string, error) {
	dir, err := xdg.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads configuration from path (the default path when empty); a missing
// file returns defaults. Environment overrides are applied in both cases and
// data_dir falls back to the XDG data dir.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		p, err := Path()
		if err != nil {
			return c, nerrors.Wrap(nerrors.ConfigurationError, "resolve config path", err)
		}
		path = p
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &c); err != nil {
			return c, nerrors.Wrap(nerrors.ConfigurationError, "parse "+path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return c, nerrors.Wrap(nerrors.ConfigurationError, "read "+path, err)
	}

	applyEnv(&c)

	if c.DataDir == "" {
		dir, err := xdg.DataDir()
		if err != nil {
			return c, nerrors.Wrap(nerrors.ConfigurationError, "resolve data dir", err)
		}
		c.DataDir = dir
	}
	return c, nil
}

// Save writes configuration with 0600 permissions.
func Save(path string, c Config) error {
	if path == "" {
		p, err := Path()
		if err != nil {
			return err
		}
		path = p
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func applyEnv(c *Config) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	str("NLCUBE_DATA_DIR", &c.DataDir)
	str("NLCUBE_LOG_LEVEL", &c.LogLevel)
	str("NLCUBE_LOG_FORMAT", &c.LogFormat)
	str("NLCUBE_STORE_DRIVER", &c.Store.Driver)
	str("NLCUBE_STORE_DSN", &c.Store.DSN)
	str("NLCUBE_TRANSLATOR_BACKEND", &c.Translator.Backend)
	str("NLCUBE_TRANSLATOR_MODEL", &c.Translator.Model)
	str("NLCUBE_TRANSLATOR_ENDPOINT", &c.Translator.Endpoint)
	str("NLCUBE_TRANSLATOR_API_KEY", &c.Translator.APIKey)
	str("NLCUBE_REDIS_ADDR", &c.Translator.Cache.RedisAddr)
	if v := os.Getenv("NLCUBE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Store.PoolSize = n
		}
	}
}

// Validate reports the first invalid setting as a ConfigurationError.
func (c Config) Validate() error {
	bad := func(format string, args ...any) error {
		return nerrors.New(nerrors.ConfigurationError, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.DataDir) == "" {
		return bad("data_dir must not be empty")
	}
	switch c.Store.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if err := dsn.Validate(c.Store.DSN); err != nil {
			return nerrors.Wrap(nerrors.ConfigurationError, "store.dsn", err)
		}
	default:
		return bad("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.PoolSize < 1 {
		return bad("store.pool_size must be at least 1, got %d", c.Store.PoolSize)
	}
	if c.Store.OpenRetries < 1 {
		return bad("store.open_retries must be at least 1, got %d", c.Store.OpenRetries)
	}
	if c.Execution.Workers < 1 {
		return bad("execution.workers must be at least 1, got %d", c.Execution.Workers)
	}
	if c.Execution.Retries < 1 {
		return bad("execution.retries must be at least 1, got %d", c.Execution.Retries)
	}
	for name, d := range map[string]time.Duration{
		"store.acquire_timeout": c.Store.AcquireTimeout,
		"store.probe_timeout":   c.Store.ProbeTimeout,
		"store.remove_timeout":  c.Store.RemoveTimeout,
		"schema.stale_after":    c.Schema.StaleAfter,
		"translator.timeout":    c.Translator.Timeout,
		"execution.timeout":     c.Execution.Timeout,
	} {
		if d <= 0 {
			return bad("%s must be positive, got %s", name, d)
		}
	}
	known := false
	for _, b := range Backends {
		if b == c.Translator.Backend {
			known = true
			break
		}
	}
	if !known {
		return bad("unknown translator backend %q (want one of %s)", c.Translator.Backend, strings.Join(Backends, ", "))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return bad("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

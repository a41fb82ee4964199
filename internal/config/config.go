// Package config loads aclarador settings from a file, the environment and
// defaults, in that order of precedence: environment over file over default.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/valpere/aclarador/internal"
	"github.com/valpere/aclarador/internal/cache"
	"github.com/valpere/aclarador/internal/completion"
	"github.com/valpere/aclarador/internal/quality"
	"github.com/valpere/aclarador/internal/refiner"
	"github.com/valpere/aclarador/internal/retrieval"
)

// EnvPrefix prefixes environment overrides: ACLARADOR_CACHE_TTL sets
// cache.ttl.
const EnvPrefix = "ACLARADOR"

type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
	// Durable keeps unit results in the database between runs.
	Durable bool `mapstructure:"durable"`
}

type RetrievalConfig struct {
	// Source is "catalog", "store" or "none".
	Source string `mapstructure:"source"`
	// Catalog is a YAML guideline file; empty uses the built-in catalog.
	Catalog     string `mapstructure:"catalog"`
	TopK        int    `mapstructure:"top_k"`
	Concurrency int    `mapstructure:"concurrency"`
}

type Config struct {
	Mode          string        `mapstructure:"mode"`
	Language      string        `mapstructure:"language"`
	Type          string        `mapstructure:"type"`
	MinSeverity   string        `mapstructure:"min_severity"`
	Keywords      []string      `mapstructure:"keywords"`
	Epsilon       float64       `mapstructure:"epsilon"`
	PassTimeout   time.Duration `mapstructure:"pass_timeout"`
	MaxInputRunes int           `mapstructure:"max_input_runes"`
	DBPath        string        `mapstructure:"db"`
	Verbose       bool          `mapstructure:"verbose"`

	Cache      CacheConfig       `mapstructure:"cache"`
	Completion completion.Config `mapstructure:"completion"`
	Retrieval  RetrievalConfig   `mapstructure:"retrieval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(refiner.DefaultMode))
	v.SetDefault("language", "")
	v.SetDefault("type", internal.TypeAuto)
	v.SetDefault("min_severity", "low")
	v.SetDefault("keywords", []string{})
	v.SetDefault("epsilon", quality.DefaultEpsilon)
	v.SetDefault("pass_timeout", refiner.DefaultPassTimeout)
	v.SetDefault("max_input_runes", internal.DefaultMaxInputRunes)
	v.SetDefault("db", "./data/aclarador.db")
	v.SetDefault("verbose", false)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.capacity", cache.DefaultCapacity)
	v.SetDefault("cache.ttl", cache.DefaultTTL)
	v.SetDefault("cache.durable", true)

	v.SetDefault("completion.provider", "")
	v.SetDefault("completion.model", "")
	v.SetDefault("completion.base_url", "")
	v.SetDefault("completion.api_key", "")
	v.SetDefault("completion.timeout", 120*time.Second)
	v.SetDefault("completion.guard.max_retries", 3)
	v.SetDefault("completion.guard.initial_backoff", time.Second)
	v.SetDefault("completion.guard.max_backoff", 30*time.Second)
	v.SetDefault("completion.guard.backoff_multiplier", 2.0)
	v.SetDefault("completion.guard.attempt_timeout", 60*time.Second)
	v.SetDefault("completion.guard.failure_threshold", 5)
	v.SetDefault("completion.guard.success_threshold", 2)
	v.SetDefault("completion.guard.open_timeout", 30*time.Second)
	v.SetDefault("completion.guard.max_concurrent", 2)
	v.SetDefault("completion.guard.rate_per_second", 2.0)

	v.SetDefault("retrieval.source", "catalog")
	v.SetDefault("retrieval.catalog", "")
	v.SetDefault("retrieval.top_k", retrieval.DefaultTopK)
	v.SetDefault("retrieval.concurrency", 4)
}

// Load reads the config file at path. An empty path searches for
// aclarador.{yaml,json,toml} in the working directory and $HOME/.aclarador;
// finding none is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("aclarador")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".aclarador"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := refiner.ParseMode(c.Mode); err != nil {
		return err
	}
	switch c.Type {
	case "", internal.TypeAuto, internal.TypeDocument, internal.TypeWeb:
	default:
		return fmt.Errorf("unknown document type %q (want auto, document or web)", c.Type)
	}
	if c.Epsilon < 0 {
		return fmt.Errorf("epsilon must not be negative")
	}
	if c.PassTimeout < 0 {
		return fmt.Errorf("pass_timeout must not be negative")
	}
	switch c.Retrieval.Source {
	case "catalog", "store", "none":
	default:
		return fmt.Errorf("unknown retrieval source %q (want catalog, store or none)", c.Retrieval.Source)
	}
	if c.Cache.Durable && c.Cache.Enabled && c.DBPath == "" {
		return fmt.Errorf("cache.durable needs a db path")
	}
	return nil
}

// Severity returns the parsed minimum severity.
func (c *Config) Severity() internal.Severity {
	return internal.ParseSeverity(c.MinSeverity)
}

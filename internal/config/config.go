// Package config loads pipeline configuration from a YAML file with
// environment variable overrides. Priority: env vars > file > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rendis/recflow/internal/validation"
	"github.com/rendis/recflow/pkg/schema"
)

// Config holds the full pipeline configuration.
type Config struct {
	Debug    bool           `yaml:"debug"`
	LogLevel string         `yaml:"log_level"`
	Workers  int            `yaml:"workers"`
	Options  map[string]any `yaml:"options"`
	Source   SourceConfig   `yaml:"source"`
	Taxonomy TaxonomyConfig `yaml:"taxonomy"`
	Sink     SinkConfig     `yaml:"sink"`
}

// SourceConfig describes the record service the pipeline reads from.
type SourceConfig struct {
	URL        string `yaml:"url"`
	Query      string `yaml:"query"`
	PageSize   int    `yaml:"page_size"`
	Timeout    string `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`
}

// TaxonomyConfig describes the taxonomy service used for lineage lookups.
type TaxonomyConfig struct {
	URL     string `yaml:"url"`
	Timeout string `yaml:"timeout"`
}

// SinkConfig describes where run results and failures are persisted.
type SinkConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file or env vars are set.
func Default() Config {
	return Config{
		LogLevel: "info",
		Workers:  1,
		Options:  map[string]any{},
		Source: SourceConfig{
			PageSize:   100,
			Timeout:    "30s",
			MaxRetries: 3,
		},
	}
}

// Load reads configuration from path (ignored if empty), validates the
// document against the pipeline schema, and applies env var overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, schema.NewErrorf(schema.ErrCodeConfig, "read config file %s", path).WithCause(err)
		}

		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, schema.NewErrorf(schema.ErrCodeConfig, "parse config file %s", path).WithCause(err)
		}

		v, err := validation.NewPipelineValidator()
		if err != nil {
			return Config{}, schema.NewError(schema.ErrCodeConfig, "build pipeline validator").WithCause(err)
		}
		if err := v.Validate(raw); err != nil {
			return Config{}, err
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, schema.NewErrorf(schema.ErrCodeConfig, "decode config file %s", path).WithCause(err)
		}
	}

	applyEnv(&cfg)

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Options == nil {
		cfg.Options = map[string]any{}
	}

	return cfg, nil
}

// applyEnv overrides file values with RECFLOW_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("RECFLOW_DEBUG"); v != "" {
		cfg.Debug = v == "true" || v == "1"
	}
	if v := os.Getenv("RECFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RECFLOW_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("RECFLOW_SOURCE_URL"); v != "" {
		cfg.Source.URL = v
	}
	if v := os.Getenv("RECFLOW_SOURCE_QUERY"); v != "" {
		cfg.Source.Query = v
	}
	if v := os.Getenv("RECFLOW_TAXONOMY_URL"); v != "" {
		cfg.Taxonomy.URL = v
	}
	if v := os.Getenv("RECFLOW_SINK_PATH"); v != "" {
		cfg.Sink.Path = v
	}
}

// SourceTimeout parses the source timeout, falling back to 30s.
func (c Config) SourceTimeout() time.Duration {
	return parseDuration(c.Source.Timeout, 30*time.Second)
}

// TaxonomyTimeout parses the taxonomy timeout, falling back to 10s.
func (c Config) TaxonomyTimeout() time.Duration {
	return parseDuration(c.Taxonomy.Timeout, 10*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// String renders the effective configuration for startup logging.
func (c Config) String() string {
	return fmt.Sprintf("debug=%v log_level=%s workers=%d source=%s sink=%s",
		c.Debug, c.LogLevel, c.Workers, c.Source.URL, c.Sink.Path)
}

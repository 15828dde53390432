// Package config loads the daemon's YAML configuration. Every field has a
// default; a missing file or an empty document yields a fully usable Config.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type FlusherConfig struct {
	Enabled         bool    `yaml:"enabled"`
	IntervalMs      int     `yaml:"interval_ms"`
	DirtyRatio      float64 `yaml:"dirty_ratio"`
	RateBytesPerSec int     `yaml:"rate_bytes_per_sec"`
}

type Config struct {
	DBFile      string        `yaml:"db_file"`
	PoolSize    int           `yaml:"pool_size"`
	ReplacerK   int           `yaml:"replacer_k"`
	LogLevel    string        `yaml:"log_level"`
	MetricsAddr string        `yaml:"metrics_addr"`
	Flusher     FlusherConfig `yaml:"flusher"`
}

func Default() Config {
	return Config{
		DBFile:      "paged.db",
		PoolSize:    64,
		ReplacerK:   2,
		LogLevel:    "info",
		MetricsAddr: ":9187",
		Flusher: FlusherConfig{
			Enabled:         true,
			IntervalMs:      200,
			DirtyRatio:      0.25,
			RateBytesPerSec: 4 << 20,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "Cannot read config file %s.", path)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "Cannot parse config file %s.", path)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.PoolSize <= 0 {
		return errors.Errorf("Pool size %d is not positive.", cfg.PoolSize)
	}
	if cfg.ReplacerK <= 0 {
		return errors.Errorf("Replacer k %d is not positive.", cfg.ReplacerK)
	}
	if cfg.Flusher.DirtyRatio < 0 || cfg.Flusher.DirtyRatio > 1 {
		return errors.Errorf("Flusher dirty ratio %f is outside [0, 1].", cfg.Flusher.DirtyRatio)
	}
	return nil
}

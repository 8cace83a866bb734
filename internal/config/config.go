package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Storage StorageConfig
	Stats   StatsConfig
	Log     LogConfig
}

type StorageConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type StatsConfig struct {
	DefaultTop    int  `toml:"default_top"`
	DefaultMonths int  `toml:"default_months"`
	Workers       int  `toml:"workers"`
	Instrument    bool `toml:"instrument"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

type LoadResult struct {
	Config   Config
	Warnings []string
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "~/.local/share/evalstats/evalstats.db",
		},
		Stats: StatsConfig{
			DefaultTop:    0,
			DefaultMonths: 6,
			Workers:       4,
			Instrument:    false,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "evalstats", "config.toml")
}

func Load() (*LoadResult, error) {
	return LoadFrom(defaultConfigPath())
}

func LoadFrom(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &LoadResult{Config: DefaultConfig()}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromString(string(data))
}

var knownTopLevel = map[string]bool{
	"storage": true,
	"stats":   true,
	"log":     true,
}

type tomlFile struct {
	Storage *StorageConfig `toml:"storage"`
	Stats   *StatsConfig   `toml:"stats"`
	Log     *LogConfig     `toml:"log"`
}

func LoadFromString(data string) (*LoadResult, error) {
	result := &LoadResult{Config: DefaultConfig()}

	if data == "" {
		return result, nil
	}

	var raw map[string]any
	if _, err := toml.Decode(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	for key := range raw {
		if !knownTopLevel[key] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unknown config key: %q", key))
		}
	}

	var tf tomlFile
	if _, err := toml.Decode(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	mergeFromRaw(&result.Config, &tf, raw)

	if err := validate(&result.Config); err != nil {
		return nil, err
	}

	return result, nil
}

// mergeFromRaw copies only the keys actually present in the file, so an
// explicit zero value overrides a default but an absent key does not.
func mergeFromRaw(cfg *Config, tf *tomlFile, raw map[string]any) {
	if tf.Storage != nil {
		if section, ok := rawSection(raw, "storage"); ok {
			if _, exists := section["driver"]; exists {
				cfg.Storage.Driver = tf.Storage.Driver
			}
			if _, exists := section["dsn"]; exists {
				cfg.Storage.DSN = tf.Storage.DSN
			}
		}
	}
	if tf.Stats != nil {
		if section, ok := rawSection(raw, "stats"); ok {
			if _, exists := section["default_top"]; exists {
				cfg.Stats.DefaultTop = tf.Stats.DefaultTop
			}
			if _, exists := section["default_months"]; exists {
				cfg.Stats.DefaultMonths = tf.Stats.DefaultMonths
			}
			if _, exists := section["workers"]; exists {
				cfg.Stats.Workers = tf.Stats.Workers
			}
			if _, exists := section["instrument"]; exists {
				cfg.Stats.Instrument = tf.Stats.Instrument
			}
		}
	}
	if tf.Log != nil {
		if section, ok := rawSection(raw, "log"); ok {
			if _, exists := section["level"]; exists {
				cfg.Log.Level = tf.Log.Level
			}
			if _, exists := section["development"]; exists {
				cfg.Log.Development = tf.Log.Development
			}
		}
	}
}

func rawSection(raw map[string]any, key string) (map[string]any, bool) {
	v, ok := raw[key]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func validate(cfg *Config) error {
	var errs []string

	switch cfg.Storage.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("storage driver must be sqlite or postgres, got %q", cfg.Storage.Driver))
	}
	if cfg.Storage.DSN == "" {
		errs = append(errs, "storage dsn must not be empty")
	}

	if cfg.Stats.DefaultTop < 0 {
		errs = append(errs, fmt.Sprintf("stats default_top must not be negative, got %d", cfg.Stats.DefaultTop))
	}
	if cfg.Stats.DefaultMonths < 1 {
		errs = append(errs, fmt.Sprintf("stats default_months must be positive, got %d", cfg.Stats.DefaultMonths))
	}
	if cfg.Stats.Workers < 1 {
		errs = append(errs, fmt.Sprintf("stats workers must be positive, got %d", cfg.Stats.Workers))
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log level must be debug, info, warn or error, got %q", cfg.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation error: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Package config loads chrysolite settings from a TOML or YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/byronwjones/chrysolite/internal/session"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for config files that are neither TOML
// nor YAML.
var ErrUnsupportedFormat = errors.New("unsupported config format")

const (
	DefaultPort     = 8420
	DefaultLockFile = "chrysolite.lock"
	DefaultHistory  = 1000
)

// Config holds chrysolite configuration.
type Config struct {
	Port     int       `toml:"port" yaml:"port"`
	LockFile string    `toml:"lock_file" yaml:"lock_file"`
	History  int       `toml:"history" yaml:"history"` // events replayed to late subscribers
	App      AppConfig `toml:"app" yaml:"app"`
}

// AppConfig describes the program the server drives.
type AppConfig struct {
	Path                string   `toml:"path" yaml:"path"`
	Args                string   `toml:"args" yaml:"args"`
	Description         string   `toml:"description" yaml:"description"`
	Dir                 string   `toml:"dir" yaml:"dir"`
	Env                 []string `toml:"env" yaml:"env"`
	OutputLatencyMS     int      `toml:"output_latency_ms" yaml:"output_latency_ms"`
	InactivityTimeoutMS int      `toml:"inactivity_timeout_ms" yaml:"inactivity_timeout_ms"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:     DefaultPort,
		LockFile: filepath.Join(os.TempDir(), DefaultLockFile),
		History:  DefaultHistory,
		App: AppConfig{
			OutputLatencyMS:     int(session.DefaultOutputLatency / time.Millisecond),
			InactivityTimeoutMS: int(session.DefaultInactivityTimeout / time.Millisecond),
		},
	}
}

// Load reads the file at path over the defaults and then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := Parse(data, filepath.Ext(path), &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// Parse decodes data into cfg. ext selects the format: ".toml", ".yaml" or
// ".yml". Keys missing from data keep their current values.
func Parse(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parsing toml: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing yaml: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHRYSOLITE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("CHRYSOLITE_OUTPUT_LATENCY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.App.OutputLatencyMS = n
		}
	}
	if v := os.Getenv("CHRYSOLITE_INACTIVITY_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.App.InactivityTimeoutMS = n
		}
	}
	if v := os.Getenv("CHRYSOLITE_APP_PATH"); v != "" {
		cfg.App.Path = v
	}
	if v := os.Getenv("CHRYSOLITE_APP_ARGS"); v != "" {
		cfg.App.Args = v
	}
	if v := os.Getenv("CHRYSOLITE_LOCK_FILE"); v != "" {
		cfg.LockFile = v
	}
}

// OutputLatency returns the configured output latency. Non-positive values
// fall back to the default and small values are raised to the minimum.
func (c AppConfig) OutputLatency() time.Duration {
	return clampMS(c.OutputLatencyMS, session.DefaultOutputLatency, session.MinOutputLatency)
}

// InactivityTimeout returns the configured inactivity timeout, defaulted and
// clamped like OutputLatency.
func (c AppConfig) InactivityTimeout() time.Duration {
	return clampMS(c.InactivityTimeoutMS, session.DefaultInactivityTimeout, session.MinInactivityTimeout)
}

// maxMS is the largest millisecond count a time.Duration can hold.
const maxMS = int64(math.MaxInt64 / int64(time.Millisecond))

func clampMS(ms int, def, min time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	n := int64(ms)
	if n > maxMS {
		n = maxMS
	}
	d := time.Duration(n) * time.Millisecond
	if d < min {
		return min
	}
	return d
}

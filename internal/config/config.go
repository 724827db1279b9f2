// Package config holds membank's runtime configuration.
//
// Values come from three layers, later ones winning: built-in defaults,
// an optional .membank.yaml file, and MEMBANK_* environment variables.
// CLI flags are applied on top by cmd/membank.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/membank/internal/optimizer"
	"github.com/HendryAvila/membank/internal/tokens"
)

// FileName is the config file searched for by Find.
const FileName = ".membank.yaml"

// Config is the full membank configuration.
type Config struct {
	// MemoryDir is the corpus root. Empty means "find memory-bank/ upward
	// from the working directory".
	MemoryDir string `yaml:"memory_dir"`
	// DataDir holds the usage database.
	DataDir string `yaml:"data_dir"`

	Resolver  ResolverConfig  `yaml:"resolver"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Usage     UsageConfig     `yaml:"usage"`
	Watch     WatchConfig     `yaml:"watch"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ResolverConfig configures transclusion resolution.
type ResolverConfig struct {
	MaxDepth  int `yaml:"max_depth"`
	CacheSize int `yaml:"cache_size"`
}

// OptimizerConfig configures context optimization.
type OptimizerConfig struct {
	Strategy     string  `yaml:"strategy"`
	Threshold    float64 `yaml:"threshold"`
	SummaryLines int     `yaml:"summary_lines"`
	Concurrency  int     `yaml:"concurrency"`
	HalfLife     string  `yaml:"half_life"` // e.g. "2160h"
	Counter      string  `yaml:"token_counter"`
}

// UsageConfig configures access tracking.
type UsageConfig struct {
	Enabled bool `yaml:"enabled"`
	MaxRuns int  `yaml:"max_runs"`
}

// WatchConfig configures filesystem change notifications.
type WatchConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Debounce string `yaml:"debounce"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir: filepath.Join(home, ".membank"),
		Resolver: ResolverConfig{
			MaxDepth:  5,
			CacheSize: 1024,
		},
		Optimizer: OptimizerConfig{
			Strategy:     "hybrid",
			Threshold:    0.3,
			SummaryLines: 3,
			Concurrency:  8,
			HalfLife:     "2160h",
			Counter:      "heuristic",
		},
		Usage: UsageConfig{
			Enabled: true,
			MaxRuns: 200,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: "200ms",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. An empty path or a missing
// file yields the defaults. Environment overrides are applied either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Find walks up from start looking for FileName and returns its path, or
// "" when there is none.
func Find(start string) string {
	dir, err := filepath.Abs(start)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// applyEnvOverrides applies environment variable overrides. Values that
// do not parse are ignored.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("MEMBANK_DIR"); dir != "" {
		c.MemoryDir = dir
	}
	if dir := os.Getenv("MEMBANK_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if v := os.Getenv("MEMBANK_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Resolver.MaxDepth = n
		}
	}
	if v := os.Getenv("MEMBANK_TOKEN_COUNTER"); v != "" {
		c.Optimizer.Counter = v
	}
	if v := os.Getenv("MEMBANK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Resolver.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("resolver.max_depth must be at least 1, got %d", c.Resolver.MaxDepth))
	}
	if c.Resolver.CacheSize < 1 {
		errs = append(errs, fmt.Errorf("resolver.cache_size must be at least 1, got %d", c.Resolver.CacheSize))
	}
	if _, err := optimizer.ParseStrategy(c.Optimizer.Strategy); err != nil {
		errs = append(errs, fmt.Errorf("optimizer.strategy: %w", err))
	}
	if c.Optimizer.Threshold < 0 || c.Optimizer.Threshold > 1 {
		errs = append(errs, fmt.Errorf("optimizer.threshold must be within [0,1], got %g", c.Optimizer.Threshold))
	}
	if c.Optimizer.SummaryLines < 0 {
		errs = append(errs, fmt.Errorf("optimizer.summary_lines must not be negative, got %d", c.Optimizer.SummaryLines))
	}
	if c.Optimizer.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("optimizer.concurrency must be at least 1, got %d", c.Optimizer.Concurrency))
	}
	if _, err := tokens.ByName(c.Optimizer.Counter); err != nil {
		errs = append(errs, fmt.Errorf("optimizer.token_counter: %w", err))
	}
	if _, err := parseDuration(c.Optimizer.HalfLife); err != nil {
		errs = append(errs, fmt.Errorf("optimizer.half_life: %w", err))
	}
	if _, err := parseDuration(c.Watch.Debounce); err != nil {
		errs = append(errs, fmt.Errorf("watch.debounce: %w", err))
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	return errors.Join(errs...)
}

// HalfLife returns the parsed access-decay half-life, zero when unset.
func (c *Config) HalfLife() time.Duration {
	d, _ := parseDuration(c.Optimizer.HalfLife)
	return d
}

// Debounce returns the parsed watcher debounce window, zero when unset.
func (c *Config) Debounce() time.Duration {
	d, _ := parseDuration(c.Watch.Debounce)
	return d
}

// NewLogger builds a production zap logger writing to stderr, since stdout
// carries the MCP transport. debug forces debug level.
func (c *Config) NewLogger(debug bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	if debug {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jward/trellis"
)

// configFileName is looked up in the target root when --config is not set.
const configFileName = "trellis.yaml"

// Config is the optional trellis.yaml of a project. Flags override it.
type Config struct {
	// Languages restricts the enabled languages. Empty enables all.
	Languages []string `yaml:"languages"`

	// RulesDir holds Risor validation rules as <category>/<NodeType>.risor,
	// relative to the config file.
	RulesDir string `yaml:"rules_dir"`

	// InterruptPeriod is how often long phases yield to check for
	// cancellation.
	// Default: 10ms
	InterruptPeriod time.Duration `yaml:"interrupt_period"`

	// Categories selects validation categories. Empty runs all.
	Categories []string `yaml:"categories"`

	// Debounce delays a watch rebuild until events stop arriving.
	// Default: 250ms
	Debounce time.Duration `yaml:"debounce"`

	// LogLevel is one of debug, info, warn, error.
	// Default: warn
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns a Config with defaults applied.
func DefaultConfig() *Config {
	return &Config{
		InterruptPeriod: 10 * time.Millisecond,
		Debounce:        250 * time.Millisecond,
		LogLevel:        "warn",
	}
}

// loadConfig reads path, or trellis.yaml under root when path is empty. A
// missing default file yields DefaultConfig; a missing explicit file is an
// error.
func loadConfig(root, path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = filepath.Join(root, configFileName)
	}
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.RulesDir != "" && !filepath.IsAbs(cfg.RulesDir) {
		cfg.RulesDir = filepath.Join(filepath.Dir(path), cfg.RulesDir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects unknown values and clamps durations.
func (c *Config) Validate() error {
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	for _, cat := range c.Categories {
		switch trellis.Category(cat) {
		case trellis.CategoryFast, trellis.CategorySlow, trellis.CategoryBuiltIn:
		default:
			return fmt.Errorf("unknown validation category %q", cat)
		}
	}
	if c.InterruptPeriod <= 0 {
		c.InterruptPeriod = 10 * time.Millisecond
	}
	if c.Debounce <= 0 {
		c.Debounce = 250 * time.Millisecond
	}
	return nil
}

// workspaceOptions translates the config into workspace options.
func (c *Config) workspaceOptions(logger *slog.Logger) []trellis.Option {
	opts := []trellis.Option{
		trellis.WithLogger(logger),
		trellis.WithInterruptPeriod(c.InterruptPeriod),
	}
	if len(c.Languages) > 0 {
		opts = append(opts, trellis.WithLanguages(c.Languages...))
	}
	if c.RulesDir != "" {
		opts = append(opts, trellis.WithRulesDir(c.RulesDir))
	}
	if len(c.Categories) > 0 {
		cats := make([]trellis.Category, len(c.Categories))
		for i, cat := range c.Categories {
			cats[i] = trellis.Category(cat)
		}
		opts = append(opts, trellis.WithValidationCategories(cats...))
	}
	return opts
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning", "":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q: must be debug, info, warn or error", s)
}

// newLogger writes text logs to stderr so stdout stays machine-readable.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

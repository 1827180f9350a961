package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/trellis"
)

func TestLoadConfig_MissingDefaultFile(t *testing.T) {
	t.Parallel()
	cfg, err := loadConfig(t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	t.Parallel()
	_, err := loadConfig(t.TempDir(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "reading config")
}

func TestLoadConfig_File(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	data := `languages: [domainmodel]
rules_dir: rules
interrupt_period: 5ms
categories: [fast, built-in]
debounce: 1s
log_level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(data), 0o644))

	cfg, err := loadConfig(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"domainmodel"}, cfg.Languages)
	assert.Equal(t, filepath.Join(dir, "rules"), cfg.RulesDir)
	assert.Equal(t, 5*time.Millisecond, cfg.InterruptPeriod)
	assert.Equal(t, []string{"fast", "built-in"}, cfg.Categories)
	assert.Equal(t, time.Second, cfg.Debounce)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data string
		want string
	}{
		{"bad yaml", "languages: [", "parsing config"},
		{"bad level", "log_level: loud", "invalid log level"},
		{"bad category", "categories: [sometimes]", `unknown validation category "sometimes"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "cfg.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.data), 0o644))
			_, err := loadConfig("", path)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestConfig_ValidateClampsDurations(t *testing.T) {
	t.Parallel()
	cfg := &Config{InterruptPeriod: -1}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Millisecond, cfg.InterruptPeriod)
	assert.Equal(t, 250*time.Millisecond, cfg.Debounce)
}

func TestConfig_WorkspaceOptions(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Languages = []string{"go"}
	cfg.Categories = []string{"fast"}

	ws, err := trellis.New(cfg.workspaceOptions(slog.Default())...)
	require.NoError(t, err)
	require.Len(t, ws.Languages(), 1)
	assert.Equal(t, "go", ws.Languages()[0].ID)
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelWarn,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := parseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"MEMBANK_DIR", "MEMBANK_DATA_DIR", "MEMBANK_MAX_DEPTH", "MEMBANK_TOKEN_COUNTER", "MEMBANK_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Resolver.MaxDepth)
	assert.Equal(t, 0.3, cfg.Optimizer.Threshold)
	assert.Equal(t, 90*24*time.Hour, cfg.HalfLife())
	assert.Equal(t, 200*time.Millisecond, cfg.Debounce())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "hybrid", cfg.Optimizer.Strategy)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), FileName)
	yml := `
memory_dir: /srv/bank
resolver:
  max_depth: 3
optimizer:
  threshold: 0.5
  token_counter: words
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/bank", cfg.MemoryDir)
	assert.Equal(t, 3, cfg.Resolver.MaxDepth)
	assert.Equal(t, 0.5, cfg.Optimizer.Threshold)
	assert.Equal(t, "words", cfg.Optimizer.Counter)
	// Untouched keys keep their defaults.
	assert.Equal(t, 1024, cfg.Resolver.CacheSize)
	assert.True(t, cfg.Usage.Enabled)
}

func TestLoad_MalformedYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("resolver: [unclosed"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), FileName)
	yml := `
resolver:
  max_depth: 0
optimizer:
  strategy: greedy
  threshold: 1.5
  half_life: soon
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_depth")
	assert.Contains(t, err.Error(), "strategy")
	assert.Contains(t, err.Error(), "threshold")
	assert.Contains(t, err.Error(), "half_life")
}

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", FileName)

	cfg := DefaultConfig()
	cfg.MemoryDir = "docs/memory"
	cfg.Optimizer.Strategy = "priority"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("directories", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MEMBANK_DIR", "/env/bank")
		t.Setenv("MEMBANK_DATA_DIR", "/env/data")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "/env/bank", cfg.MemoryDir)
		assert.Equal(t, "/env/data", cfg.DataDir)
	})

	t.Run("max depth parses", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MEMBANK_MAX_DEPTH", "7")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, 7, cfg.Resolver.MaxDepth)
	})

	t.Run("bad max depth is ignored", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MEMBANK_MAX_DEPTH", "deep")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, 5, cfg.Resolver.MaxDepth)
	})

	t.Run("env wins over file", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), FileName)
		require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o644))
		t.Setenv("MEMBANK_LOG_LEVEL", "debug")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(deep, 0o755))

	assert.Empty(t, Find(deep))

	path := filepath.Join(root, FileName)
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	assert.Equal(t, path, Find(deep))
}

func TestNewLogger(t *testing.T) {
	cfg := DefaultConfig()

	log, err := cfg.NewLogger(false)
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(-1), "info logger should not emit debug")

	log, err = cfg.NewLogger(true)
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(-1), "debug flag should enable debug")
}

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigSaneDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.NotEmpty(t, cfg.FileStore.BaseDir)
	assert.True(t, cfg.Memory.Flush.Enabled)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadConfigAppliesEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BA_AGENT_PORT", "9191")
	t.Setenv("BA_AGENT_HOST", "0.0.0.0")
	t.Setenv("BA_AGENT_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigWithoutYAMLOverlayIsNotAnError(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Port, cfg.Server.Port)
}

func TestLoadConfigYAMLOverlayAppliesBeneathEnvVars(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yamlBody := `
server:
  port: 7000
  host: yaml-host
logging:
  level: warn
`
	require.NoError(t, os.WriteFile("ba-agent.yaml", []byte(yamlBody), 0o644))

	// env var still wins over the overlay file for the fields it sets.
	t.Setenv("BA_AGENT_HOST", "env-wins")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port, "yaml overlay applies where no env var overrides it")
	assert.Equal(t, "env-wins", cfg.Server.Host, "env var takes precedence over the yaml overlay")
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfigYAMLOverlayCustomPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile("custom.yaml", []byte("server:\n  port: 6001\n"), 0o644))
	t.Setenv("BA_AGENT_CONFIG_FILE", "custom.yaml")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 6001, cfg.Server.Port)
}

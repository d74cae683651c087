package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  port: 9090
  read_timeout: 10s
  write_timeout: 60s

providers:
  openai-main:
    dialect: chat
    api_key: ${TEST_API_KEY}
    base_url: https://api.openai.com/v1
    models:
      gpt-4o:
        access_via: [chat, responses]
      gpt-4o-mini: {}

aliases:
  gpt-4o:
    targets:
      - openai-main/gpt-4o
    selector: latency
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	t.Setenv("TEST_API_KEY", "my-secret-key")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)

	p, ok := cfg.Providers["openai-main"]
	require.True(t, ok, "openai-main provider should exist")
	assert.Equal(t, "my-secret-key", p.APIKey)
	assert.Equal(t, "https://api.openai.com/v1", p.BaseURL)
	require.Contains(t, p.Models, "gpt-4o")
	require.Contains(t, p.Models, "gpt-4o-mini")
	assert.Equal(t, []string{"chat", "responses"}, p.Models["gpt-4o"].AccessVia)
	assert.Equal(t, []string{"chat"}, p.SupportedDialects)

	alias, ok := cfg.Aliases["gpt-4o"]
	require.True(t, ok)
	assert.Equal(t, "latency", alias.Selector)
}

func TestLoadEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  port: 8080
  read_timeout: 30s
  write_timeout: 120s
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	t.Setenv("PLEXUS_SERVER_PORT", "3000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadDefaultsApplied(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 0\n"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownGrace)
	assert.Equal(t, 60*time.Second, cfg.Cooldown.BaseFor429)
	assert.Equal(t, 30*time.Minute, cfg.Cooldown.MaxCap)
}

func TestLoadRejectsUnknownDialect(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	yamlContent := `
providers:
  bad:
    dialect: carrier-pigeon
    base_url: https://example.com
    api_key: x
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestLoadRejectsMissingCredentials(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	yamlContent := `
providers:
  bad:
    dialect: chat
    base_url: https://example.com
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsToDevelopment(t *testing.T) {
	path := writeConfig(t, `
ledger:
  dsn: ":memory:"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, EnvironmentDevelopment, cfg.Environment)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, ">=1.0.0, <2.0.0", cfg.EnvelopeSchemaVersionRange)
}

func TestLoadParsesProductionEnvironment(t *testing.T) {
	path := writeConfig(t, `
environment: production
require_real_crypto_provider: true
waivers:
  strict: true
trust:
  plugin_trust_root_public_hex: "aa"
  anchor_key_public_hex: "bb"
sinks:
  - type: log
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.Waivers.Strict)
	assert.True(t, cfg.RequireRealCryptoProvider)
	require.Len(t, cfg.Sinks, 1)
	assert.Equal(t, "log", cfg.Sinks[0].Type)
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

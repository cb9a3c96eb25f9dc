package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithNoFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "loopback", cfg.Class.Protocol)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	const body = `
logging:
  level: debug
  format: json
  output: stderr
class:
  protocol: tcp
  name: narpcd-1
  listen: true
engine:
  checksum: true
  allow_spill: false
  input_eager_size: 8192
  output_eager_size: 8192
shutdown_timeout: 30s
`
	require.NoError(t, writeFile(path, body))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "tcp", cfg.Class.Protocol)
	assert.Equal(t, "narpcd-1", cfg.Class.Name)
	assert.True(t, cfg.Class.Listen)
	assert.True(t, cfg.Engine.Checksum)
	assert.False(t, cfg.Engine.AllowSpill)
	assert.Equal(t, 8192, cfg.Engine.InputEagerSize)
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, writeFile(path, "logging:\n  level: LOUD\n  format: text\n  output: stdout\nclass:\n  protocol: tcp\n  name: x\nshutdown_timeout: 5s\n"))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := GetDefaultConfig()
	cfg.Class.Name = "roundtrip"

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "roundtrip", loaded.Class.Name)
}

func TestInitConfigToPathRefusesExistingWithoutForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	_, err := InitConfigToPath(path, false)
	require.NoError(t, err)

	_, err = InitConfigToPath(path, false)
	assert.Error(t, err)

	_, err = InitConfigToPath(path, true)
	assert.NoError(t, err)
}

func TestGetDefaultConfigPathUnderXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdgtest")
	assert.Equal(t, "/tmp/xdgtest/narpcd/config.yaml", GetDefaultConfigPath())
}

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0644)
}

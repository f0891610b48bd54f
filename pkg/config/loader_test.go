package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
gateway:
  host: ${TEST_PVE_HOST:pve.example.com}
  user: autoscaler@pve
  password: ${TEST_PVE_PASSWORD:secret}

global:
  monitoring_interval_s: 45
  log_level: DEBUG

containers:
  - vmid: 101
    thresholds:
      cpu_up: 75
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_ParsesSubstitutesAndValidates(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pve.example.com", cfg.Gateway.Host)
	assert.Equal(t, 45, cfg.Global.MonitoringIntervalSecs)
	assert.Equal(t, "DEBUG", cfg.Global.LogLevel)
	require.Len(t, cfg.Containers, 1)
	assert.Equal(t, 75.0, cfg.Containers[0].Thresholds.CPUUp)
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("TEST_PVE_HOST", "pve-override.example.com")
	path := writeTempConfig(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "pve-override.example.com", cfg.Gateway.Host)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeTempConfig(t, "gateway: [this is not valid: yaml")
	_, err := Load(path)
	require.Error(t, err)
}

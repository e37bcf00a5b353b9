package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, "info", cfg.Logger.Level)
	require.Equal(t, BackendTukit, cfg.Daemon.Backend)
	require.Equal(t, Duration(time.Second), cfg.Daemon.DrainInterval)
	require.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
logger:
  level: debug
  format: json
telemetry:
  enabled: true
  prometheus_port: 9900
bus:
  use_session_bus: true
daemon:
  backend: memory
  drain_interval: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logger.Level)
	require.Equal(t, "json", cfg.Logger.Format)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, 9900, cfg.Telemetry.PrometheusPort)
	require.True(t, cfg.Bus.UseSessionBus)
	require.Equal(t, BackendMemory, cfg.Daemon.Backend)
	require.Equal(t, Duration(250*time.Millisecond), cfg.Daemon.DrainInterval)

	// Untouched settings keep their defaults.
	require.Equal(t, "snapupd", cfg.Telemetry.ServiceName)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, `
daemon:
  backend: zfs
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown snapshot backend")
}

func TestLoad_RejectsNonPositiveDrainInterval(t *testing.T) {
	path := writeConfig(t, `
daemon:
  backend: memory
  drain_interval: -1s
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "drain_interval")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapupd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

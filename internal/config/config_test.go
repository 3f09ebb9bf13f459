package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "activity_logging: true\n")
	c, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1/8", c.Addressing.CIDR)
	require.Equal(t, 9042, c.Addressing.BasePort)
	require.Equal(t, 1000, c.Addressing.PortsPerHost)
	require.Equal(t, "info", c.Logging.Level)
	require.True(t, c.ActivityLogging)
}

func TestLoadConfigRejectsInvalidPortsPerHost(t *testing.T) {
	path := writeTemp(t, "addressing:\n  ports_per_host: -1\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

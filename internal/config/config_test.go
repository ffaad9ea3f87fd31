package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConvertsMillisecondsToSeconds(t *testing.T) {
	path := writeConfigFile(t, `{
		"host": "ftp.example.com",
		"remote_dir": "/uploads",
		"local_path": "/data",
		"sync_interval_ms": 10000,
		"stabilization_interval_ms": 2000
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 10.0, cfg.SyncIntervalSecs)
	require.Equal(t, 2, cfg.StabilizationIntervalSecs)
	require.NotEmpty(t, cfg.ConfigID)
	require.NotEmpty(t, cfg.SessionID)
}

func TestLoadDefaultsPort(t *testing.T) {
	path := writeConfigFile(t, `{"host":"ftp.example.com","remote_dir":"/u","local_path":"/d"}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 21, cfg.Port)
}

func TestLoadMissingHostIsError(t *testing.T) {
	path := writeConfigFile(t, `{"remote_dir":"/u","local_path":"/d"}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingRemoteDirIsError(t *testing.T) {
	path := writeConfigFile(t, `{"host":"h","local_path":"/d"}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadGeneratesAndPersistsConfigID(t *testing.T) {
	path := writeConfigFile(t, `{"host":"h","remote_dir":"/u","local_path":"/d"}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.ConfigID)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), cfg.ConfigID)
}

func TestLoadPreservesExistingConfigID(t *testing.T) {
	path := writeConfigFile(t, `{"host":"h","remote_dir":"/u","local_path":"/d","config_id":"fixed-id"}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "fixed-id", cfg.ConfigID)
}

func TestShutdownSentinelPathDefaultsFromStatusPath(t *testing.T) {
	path := writeConfigFile(t, `{"host":"h","remote_dir":"/u","local_path":"/d","status_path":"/tmp/status.json"}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/status.json.shutdown", cfg.ShutdownSentinelPath)
}

func TestOneShotWhenSyncIntervalNonPositive(t *testing.T) {
	path := writeConfigFile(t, `{"host":"h","remote_dir":"/u","local_path":"/d","sync_interval_ms":0}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.OneShot())
}

func TestHostnameNeverEmpty(t *testing.T) {
	require.NotEmpty(t, Hostname())
}

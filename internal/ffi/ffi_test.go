package ffi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ftpuploader/agent/internal/notify"
)

func writeTestConfig(t *testing.T, dataDir string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"host": "ftp.example.com",
		"remote_dir": "/uploads",
		"local_path": "` + dir + `",
		"status_path": "` + filepath.Join(dir, "status.json") + `"
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("FTP_DATA_DIR", dataDir)
	return path
}

func TestInitOpensHashStoreAndValidatesConfig(t *testing.T) {
	dataDir := t.TempDir()
	configPath := writeTestConfig(t, dataDir)

	agent, err := Init(configPath, func(notify.Notification) {})
	require.NoError(t, err)
	require.NotNil(t, agent)

	require.NoError(t, agent.store.Close())
}

func TestGetStatusBeforeAnyWriteReturnsEmptyObject(t *testing.T) {
	dataDir := t.TempDir()
	configPath := writeTestConfig(t, dataDir)

	agent, err := Init(configPath, nil)
	require.NoError(t, err)
	defer agent.store.Close()

	raw, err := agent.GetStatus()
	require.NoError(t, err)
	require.Equal(t, "{}", string(raw))
}

func TestClearConfigDataOnEmptyStoreReturnsZero(t *testing.T) {
	dataDir := t.TempDir()
	configPath := writeTestConfig(t, dataDir)

	agent, err := Init(configPath, nil)
	require.NoError(t, err)
	defer agent.store.Close()

	n, err := agent.ClearConfigData()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	dataDir := t.TempDir()
	configPath := writeTestConfig(t, dataDir)

	agent, err := Init(configPath, nil)
	require.NoError(t, err)
	defer agent.store.Close()

	require.NoError(t, agent.Stop())
}

package syncloop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/ftpuploader/agent/internal/config"
	"github.com/ftpuploader/agent/internal/session"
	"github.com/ftpuploader/agent/internal/statusio"
)

func TestShouldStopOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := &config.Config{}
	require.True(t, shouldStop(ctx, cfg))
}

func TestShouldStopOnShutdownSentinel(t *testing.T) {
	dir := t.TempDir()
	sentinel := filepath.Join(dir, "status.json.shutdown")
	require.NoError(t, os.WriteFile(sentinel, []byte{}, 0o644))

	cfg := &config.Config{ShutdownSentinelPath: sentinel}
	require.True(t, shouldStop(context.Background(), cfg))
}

func TestShouldStopFalseWhenNeitherPresent(t *testing.T) {
	cfg := &config.Config{ShutdownSentinelPath: filepath.Join(t.TempDir(), "absent.shutdown")}
	require.False(t, shouldStop(context.Background(), cfg))
}

func TestShutdownWithWaitReturnsEarlyOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &config.Config{}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	stopped := shutdownWithWait(ctx, cfg, 5*time.Second)
	require.True(t, stopped)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestShutdownWithWaitRunsFullDurationWhenNotCancelled(t *testing.T) {
	cfg := &config.Config{ShutdownSentinelPath: filepath.Join(t.TempDir(), "absent.shutdown")}
	start := time.Now()
	stopped := shutdownWithWait(context.Background(), cfg, 150*time.Millisecond)
	require.False(t, stopped)
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestResultMessageOkWhenNoErrors(t *testing.T) {
	s := session.New()
	require.Equal(t, "ok", resultMessage(s))
}

func TestResultMessageReflectsAccumulatedErrors(t *testing.T) {
	s := session.New()
	s.AddError(errors.New("upload failed for x"))
	require.Contains(t, resultMessage(s), "upload failed for x")
}

func TestWriteStatusWritesConfiguredStage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")
	cfg := &config.Config{ConfigID: "c1", StatusPath: path}

	writeStatus(cfg, statusio.StageScanning, "file.bin", 0.5)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got statusio.Status
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, statusio.StageScanning, got.Stage)
	require.Equal(t, "file.bin", got.Filename)
}

func TestWriteResultReflectsSessionTotals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "result.json")
	cfg := &config.Config{ConfigID: "c1", ResultPath: path}
	s := session.New()
	s.AddFileUpload(1024, time.Second)

	writeResult(cfg, s)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got statusio.Result
	require.NoError(t, json.Unmarshal(raw, &got))
	require.True(t, got.Success)
	require.Equal(t, 1, got.FilesProcessed)
}

// Package statusio writes the status, result, and session report files
// described in spec.md §6, each rewritten atomically.
package statusio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ftpuploader/agent/internal/config"
)

// Status mirrors spec.md §6's status file shape.
type Status struct {
	ConfigID        string  `json:"config_id"`
	Stage           string  `json:"stage"`
	Filename        string  `json:"filename"`
	Progress        float64 `json:"progress"`
	Timestamp       int64   `json:"timestamp"`
	FileSize        *int64  `json:"file_size,omitempty"`
	UploadSpeedMbps *float64 `json:"upload_speed_mbps,omitempty"`
	UploadTimeSecs  *float64 `json:"upload_time_secs,omitempty"`
}

// Stage constants from spec.md §6.
const (
	StageStarting            = "Starting"
	StageConnecting          = "Connecting"
	StageConnected           = "Connected"
	StageScanning            = "Scanning"
	StageFoundFiles          = "Found files"
	StagePreparingParallel   = "Preparing parallel processing"
	StageProcessing          = "Processing"
	StageUploaded            = "Uploaded"
	StageVerified            = "Verified"
	StageSkippedUnchanged    = "Skipped (unchanged)"
	StageComplete            = "Complete"
	StageFileComplete        = "FileComplete"
	StageFinished            = "Finished"
	StageError               = "Error"
	StageWarning             = "Warning"
	StageConnectionFailed    = "Connection failed"
	StageServerRejection     = "Server Rejection"
	StageLoginFailed         = "Login failed"
	StageLoginRejection      = "Login Rejection"
	StageDownloadFailed      = "Download failed"
)

// Result mirrors spec.md §6's result file shape.
type Result struct {
	ConfigID       string `json:"config_id"`
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	FilesProcessed int    `json:"files_processed"`
	Timestamp      int64  `json:"timestamp"`
}

// Session mirrors spec.md §6's session file shape.
type Session struct {
	SessionID        string  `json:"session_id"`
	ConfigID         string  `json:"config_id"`
	TotalFiles       int     `json:"total_files"`
	TotalBytes       int64   `json:"total_bytes"`
	TotalTimeSecs    float64 `json:"total_time_secs"`
	AverageSpeedMbps float64 `json:"average_speed_mbps"`
}

// WriteStatus atomically rewrites the status file.
func WriteStatus(path string, s Status) error {
	if s.Timestamp == 0 {
		s.Timestamp = time.Now().Unix()
	}
	return writeAtomicJSON(path, s)
}

// WriteResult atomically rewrites the result file.
func WriteResult(path string, r Result) error {
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().Unix()
	}
	return writeAtomicJSON(path, r)
}

// WriteSession atomically rewrites the session file.
func WriteSession(path string, s Session) error {
	return writeAtomicJSON(path, s)
}

// writeAtomicJSON marshals v and overwrites path atomically by writing
// to a temp file in the same directory (falling back to config.TmpDir
// if path has no directory component) then renaming over the target.
func writeAtomicJSON(path string, v interface{}) error {
	if path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("statusio: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		dir = config.TmpDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("statusio: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("statusio: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("statusio: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("statusio: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("statusio: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("statusio: rename into place: %w", err)
	}
	return nil
}

// ShutdownSentinelPresent reports whether the per-config shutdown
// sentinel file exists, per spec.md §6.
func ShutdownSentinelPresent(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Package config loads and validates FTP upload agent configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Config is the immutable-per-session configuration for one upload agent
// instance. Time-valued fields in the JSON file arrive in milliseconds;
// Load converts them to seconds at entry.
type Config struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	User    string `json:"user"`
	Pass    string `json:"pass"`
	RemoteDir string `json:"remote_dir"`
	LocalPath string `json:"local_path"`

	RespectFilePaths bool `json:"respect_file_paths"`

	// SyncIntervalSecs is the delay between iterations. <= 0 means
	// one-shot. Stored in seconds though the JSON field arrives in ms.
	SyncIntervalSecs float64 `json:"-"`
	SyncIntervalMs   float64 `json:"sync_interval_ms"`

	// StabilizationIntervalSecs is the per-candidate stabilization wait.
	StabilizationIntervalSecs int `json:"-"`
	StabilizationIntervalMs   int `json:"stabilization_interval_ms"`

	UploadAggressiveness  int  `json:"upload_aggressiveness"`
	AutoTuneAggressiveness bool `json:"auto_tune_aggressiveness"`

	ConfigID   string `json:"config_id"`
	ConfigName string `json:"config_name"`

	// SessionID is ephemeral per process run; Load always regenerates it.
	SessionID string `json:"-"`

	// StatusPath, ResultPath, SessionPath are the report files from
	// spec.md §6. ShutdownSentinelPath defaults to StatusPath+".shutdown".
	StatusPath           string `json:"status_path"`
	ResultPath           string `json:"result_path"`
	SessionPath          string `json:"session_path"`
	ShutdownSentinelPath string `json:"-"`

	// sourcePath is the file Load read this Config from, used to persist
	// a generated ConfigID back.
	sourcePath string
}

// MaxConnectionRetries is the outer per-file retry bound from spec.md §4.G.
const MaxConnectionRetries = 3

// PeerCoordinationEveryNIterations is the "iteration mod 3 == 1" cadence
// from spec.md §4.D / §9.
const PeerCoordinationEveryNIterations = 3

// Load reads and validates a Config from a JSON file at path.
//
// Required fields missing or invalid is a configuration error (fatal at
// startup per spec.md §7).
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	c := new(Config)
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.sourcePath = path

	if err := c.validate(); err != nil {
		return nil, err
	}

	c.SyncIntervalSecs = c.SyncIntervalMs / 1000.0
	c.StabilizationIntervalSecs = c.StabilizationIntervalMs / 1000

	if c.UploadAggressiveness <= 0 {
		c.UploadAggressiveness = 1
	}

	if c.ConfigID == "" {
		c.ConfigID = uuid.NewString()
		if err := c.persistConfigID(); err != nil {
			return nil, fmt.Errorf("config: persist generated config_id: %w", err)
		}
	}
	c.SessionID = uuid.NewString()

	if c.ShutdownSentinelPath == "" && c.StatusPath != "" {
		c.ShutdownSentinelPath = c.StatusPath + ".shutdown"
	}

	return c, nil
}

func (c *Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("config: host is required")
	}
	if c.RemoteDir == "" {
		return fmt.Errorf("config: remote_dir is required")
	}
	if c.LocalPath == "" {
		return fmt.Errorf("config: local_path is required")
	}
	if c.Port <= 0 {
		c.Port = 21
	}
	return nil
}

// persistConfigID rewrites the source config file with a freshly
// generated config_id so future restarts reuse the same hash-store key.
func (c *Config) persistConfigID() error {
	if c.sourcePath == "" {
		return nil
	}
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.sourcePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.sourcePath)
}

// TmpDir returns the writable temp location for this process, honoring
// FTP_TMP_DIR per spec.md §6.
func TmpDir() string {
	if v := os.Getenv("FTP_TMP_DIR"); v != "" {
		return v
	}
	return "/tmp/"
}

// DataDir returns the hash DB location, honoring FTP_DATA_DIR, then
// "$HOME/Library/Application Support/FTPUploader", then "/tmp/FTPUploader"
// per spec.md §6.
func DataDir() string {
	if v := os.Getenv("FTP_DATA_DIR"); v != "" {
		return v
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, "Library", "Application Support", "FTPUploader")
	}
	return "/tmp/FTPUploader"
}

// Hostname resolves the local hostname for logging and peer identity,
// falling back to the HOSTNAME/HOST environment variables per spec.md §6.
func Hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	if v := os.Getenv("HOSTNAME"); v != "" {
		return v
	}
	if v := os.Getenv("HOST"); v != "" {
		return v
	}
	return "unknown"
}

// SyncInterval returns SyncIntervalSecs as a time.Duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSecs * float64(time.Second))
}

// StabilizationInterval returns StabilizationIntervalSecs as a time.Duration.
func (c *Config) StabilizationInterval() time.Duration {
	return time.Duration(c.StabilizationIntervalSecs) * time.Second
}

// OneShot reports whether this config should run exactly one iteration.
func (c *Config) OneShot() bool {
	return c.SyncIntervalSecs <= 0
}

// Command ftpuploader runs one FTP upload agent instance against a
// single JSON configuration file, printing notifications to stdout
// through logrus until signaled to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ftpuploader/agent/internal/config"
	"github.com/ftpuploader/agent/internal/hashstore"
	"github.com/ftpuploader/agent/internal/notify"
	"github.com/ftpuploader/agent/internal/syncloop"
)

var (
	configPath string
	legacyHash string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ftpuploader",
	Short: "Continuously scans a local directory and uploads new or changed files over FTP",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to the agent's JSON config file (required)")
	rootCmd.Flags().StringVar(&legacyHash, "migrate-legacy-hashes", "", "optional path to a legacy pipe-delimited hash file to import on startup")
	_ = rootCmd.MarkFlagRequired("config")
}

func run(cmd *cobra.Command, args []string) error {
	log := logrus.NewEntry(logrus.New())
	log.Logger.SetOutput(os.Stdout)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log = log.WithFields(logrus.Fields{
		"config_id":   cfg.ConfigID,
		"config_name": cfg.ConfigName,
	})

	dbPath := config.DataDir() + "/" + cfg.ConfigID + ".db"
	store, err := hashstore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open hash store: %w", err)
	}
	defer store.Close()

	if legacyHash != "" {
		n, err := store.MigrateFromTextFile(cfg.ConfigID, legacyHash)
		if err != nil {
			log.WithError(err).Warn("legacy hash migration failed")
		} else {
			log.WithField("records", n).Info("migrated legacy hash file")
		}
	}

	cb := logCallback(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting ftp upload agent")
	if err := syncloop.Run(ctx, cfg, store, cb); err != nil {
		return fmt.Errorf("sync loop: %w", err)
	}
	return nil
}

// logCallback adapts notify.Callback to structured logrus output,
// mirroring the FFI notification contract's fields one-for-one.
func logCallback(log *logrus.Entry) notify.Callback {
	return func(n notify.Notification) {
		entry := log.WithFields(logrus.Fields{
			"config_id_hash": n.ConfigIDHash,
			"type":           string(n.Type),
		})
		if n.Filename != "" {
			entry = entry.WithField("filename", n.Filename)
		}
		if n.Progress >= 0 {
			entry = entry.WithField("progress", n.Progress)
		}
		entry = entry.WithField("timestamp", time.UnixMilli(n.TimestampMs).Format(time.RFC3339))

		switch n.Type {
		case notify.Error:
			entry.Error(n.Message)
		case notify.Warning, notify.MonitorWarning:
			entry.Warn(n.Message)
		default:
			entry.Info(n.Message)
		}
	}
}

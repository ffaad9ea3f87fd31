// Package syncloop drives the top-level iteration state machine from
// spec.md §4.I: Starting → Connecting → Connected → Scanning →
// Preparing → Processing → Finished → Waiting → Connecting..., with
// Shutdown reachable from any state via a 100ms-quantum poll of both a
// process-wide flag and a per-config sentinel file.
package syncloop

import (
	"context"
	"fmt"
	"time"

	"github.com/ftpuploader/agent/internal/config"
	"github.com/ftpuploader/agent/internal/connmgr"
	"github.com/ftpuploader/agent/internal/ftpclient"
	"github.com/ftpuploader/agent/internal/hashstore"
	"github.com/ftpuploader/agent/internal/notify"
	"github.com/ftpuploader/agent/internal/peercoord"
	"github.com/ftpuploader/agent/internal/scanner"
	"github.com/ftpuploader/agent/internal/session"
	"github.com/ftpuploader/agent/internal/stabilizer"
	"github.com/ftpuploader/agent/internal/statusio"
	"github.com/ftpuploader/agent/internal/uploadpool"
)

// shutdownPollInterval is the quantum the loop sleeps in between
// checking for cancellation, per spec.md §5.
const shutdownPollInterval = 100 * time.Millisecond

// Run executes iterations until ctx is cancelled, the shutdown
// sentinel file appears, or (for a one-shot config) a single iteration
// completes.
func Run(ctx context.Context, cfg *config.Config, store *hashstore.Store, cb notify.Callback) error {
	sess := session.New()
	mgr := connmgr.NewManager()
	identity := peercoord.Identity{Hostname: config.Hostname(), ProfileName: cfg.ConfigName}
	mode := peercoord.ModeUpload

	writeStatus(cfg, statusio.StageStarting, "", 0)
	notifyEvent(cb, cfg.ConfigID, notify.Info, "agent starting")

	for iteration := 1; ; iteration++ {
		if shouldStop(ctx, cfg) {
			break
		}

		retryDelay, err := runIteration(ctx, cfg, store, mgr, sess, cb, identity, mode, iteration)
		if err != nil {
			// The first connection failure is suppressed; the 2nd and
			// later consecutive failures escalate to a warning, per
			// spec.md §7.
			if mgr.FailureCount() >= 2 {
				notifyEvent(cb, cfg.ConfigID, notify.Warning, fmt.Sprintf("iteration %d failed: %v", iteration, err))
			}
			sess.AddError(err)
		}

		if cfg.OneShot() {
			cleanupPeerPresence(cfg, identity)
			writeResult(cfg, sess)
			return nil
		}

		wait := cfg.SyncInterval()
		if retryDelay > 0 {
			wait = retryDelay
		}
		if shutdownWithWait(ctx, cfg, wait) {
			break
		}
	}

	cleanupPeerPresence(cfg, identity)
	writeResult(cfg, sess)
	notifyEvent(cb, cfg.ConfigID, notify.Info, "agent stopped")
	return nil
}

// runIteration runs one full Connecting → ... → Finished pass. On a
// connect failure it returns the connmgr backoff delay the caller must
// sleep instead of the normal sync interval, per spec.md §4.I.
func runIteration(ctx context.Context, cfg *config.Config, store *hashstore.Store, mgr *connmgr.Manager, sess *session.State, cb notify.Callback, identity peercoord.Identity, mode peercoord.Mode, iteration int) (time.Duration, error) {
	writeStatus(cfg, statusio.StageConnecting, "", 0)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dialTimeout := 30 * time.Second
	probe, err := ftpclient.Dial(ctx, addr, cfg.User, cfg.Pass, dialTimeout)
	if err != nil {
		_, delay := mgr.RecordFailure(err.Error(), cfg.SyncIntervalSecs)
		writeStatus(cfg, statusio.StageConnectionFailed, "", 0)
		return delay, fmt.Errorf("syncloop: connect: %w", err)
	}
	writeStatus(cfg, statusio.StageConnected, "", 0)

	if err := probe.ChangeDir(cfg.RemoteDir); err == nil {
		if iteration%config.PeerCoordinationEveryNIterations == 1 {
			coordinatePeers(probe, cfg, identity, mode, cb)
		}
	}
	_ = probe.Quit()
	mgr.RecordSuccess()

	writeStatus(cfg, statusio.StageScanning, "", 0)
	candidates, err := scanner.Scan(cfg.LocalPath)
	if err != nil {
		return 0, fmt.Errorf("syncloop: scan: %w", err)
	}
	writeStatus(cfg, statusio.StageFoundFiles, "", 0)
	if len(candidates) == 0 {
		writeStatus(cfg, statusio.StageFinished, "", 0)
		return 0, nil
	}

	writeStatus(cfg, statusio.StagePreparingParallel, "", 0)
	stabilized, err := stabilizer.Run(ctx, candidates, cfg.StabilizationInterval())
	if err != nil {
		return 0, fmt.Errorf("syncloop: stabilize: %w", err)
	}

	writeStatus(cfg, statusio.StageProcessing, "", 0)
	workers := cfg.UploadAggressiveness
	if mgr.ShouldReduceConnections() {
		workers = connmgr.ReducedWorkerCount(cfg.UploadAggressiveness)
	}

	outcomes := uploadpool.Run(ctx, stabilized, uploadpool.Options{
		Host: cfg.Host, User: cfg.User, Pass: cfg.Pass, Port: cfg.Port,
		RemoteDir: cfg.RemoteDir, RespectFilePaths: cfg.RespectFilePaths,
		LocalRoot: cfg.LocalPath, Mode: mode, Workers: workers,
		ConfigID: cfg.ConfigID, DialTimeout: dialTimeout,
		SyncIntervalSecs: cfg.SyncIntervalSecs,
	}, store, mgr, sess, cb)

	// Report every third successful file AND at the end of every
	// iteration, per spec.md §4.H. A fresh, empty snapshot is never
	// written over an earlier process's last-valid session.json.
	successful := 0
	for _, o := range outcomes {
		if o.Err == nil {
			successful++
			if session.ShouldReportAfter(successful) {
				writeSession(cfg, sess)
			}
		}
	}
	if sess.Snapshot().TotalFiles > 0 {
		writeSession(cfg, sess)
	}

	writeStatus(cfg, statusio.StageFinished, "", 0)
	return 0, nil
}

func coordinatePeers(probe *ftpclient.Client, cfg *config.Config, identity peercoord.Identity, mode peercoord.Mode, cb notify.Callback) {
	listing, err := probe.List(".")
	if err != nil {
		notifyEvent(cb, cfg.ConfigID, notify.Info, fmt.Sprintf("peer coordination listing failed: %v", err))
		return
	}
	doc, _ := peercoord.ReadFromListing(probe, listing)
	conflict := peercoord.DetectConflicts(doc, identity, mode, cfg.RemoteDir)
	switch conflict.Level {
	case peercoord.ConflictCritical:
		notifyEvent(cb, cfg.ConfigID, notify.MonitorWarning, conflict.Message)
	case peercoord.ConflictWarning:
		notifyEvent(cb, cfg.ConfigID, notify.MonitorWarning, conflict.Message)
	case peercoord.ConflictInfo:
		notifyEvent(cb, cfg.ConfigID, notify.MonitorWarning, conflict.Message)
	default:
		notifyEvent(cb, cfg.ConfigID, notify.MonitorWarning, notify.ClearMessage)
	}

	ip := peercoord.ResolveIP()
	if err := peercoord.Write(probe, listing, identity, ip, mode, time.Now()); err != nil {
		notifyEvent(cb, cfg.ConfigID, notify.Info, fmt.Sprintf("peer presence write failed: %v", err))
	}
}

func cleanupPeerPresence(cfg *config.Config, identity peercoord.Identity) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client, err := ftpclient.Dial(context.Background(), addr, cfg.User, cfg.Pass, 10*time.Second)
	if err != nil {
		return
	}
	defer client.Quit()
	if err := client.ChangeDir(cfg.RemoteDir); err != nil {
		return
	}
	listing, err := client.List(".")
	if err != nil {
		return
	}
	_ = peercoord.Cleanup(client, listing, identity)
}

// shouldStop reports whether the loop must stop before starting another
// iteration.
func shouldStop(ctx context.Context, cfg *config.Config) bool {
	if ctx.Err() != nil {
		return true
	}
	return statusio.ShutdownSentinelPresent(cfg.ShutdownSentinelPath)
}

// shutdownWithWait sleeps d in shutdownPollInterval quanta, returning
// true the moment cancellation or the shutdown sentinel is observed.
func shutdownWithWait(ctx context.Context, cfg *config.Config, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if shouldStop(ctx, cfg) {
			return true
		}
		select {
		case <-ctx.Done():
			return true
		case <-time.After(shutdownPollInterval):
		}
	}
	return shouldStop(ctx, cfg)
}

func writeStatus(cfg *config.Config, stage, filename string, progress float64) {
	_ = statusio.WriteStatus(cfg.StatusPath, statusio.Status{
		ConfigID: cfg.ConfigID,
		Stage:    stage,
		Filename: filename,
		Progress: progress,
	})
}

func writeResult(cfg *config.Config, sess *session.State) {
	report := sess.Snapshot()
	_ = statusio.WriteResult(cfg.ResultPath, statusio.Result{
		ConfigID:       cfg.ConfigID,
		Success:        sess.Errors() == nil,
		Message:        resultMessage(sess),
		FilesProcessed: report.TotalFiles,
	})
}

func resultMessage(sess *session.State) string {
	if err := sess.Errors(); err != nil {
		return err.Error()
	}
	return "ok"
}

func writeSession(cfg *config.Config, sess *session.State) {
	report := sess.Snapshot()
	_ = statusio.WriteSession(cfg.SessionPath, statusio.Session{
		SessionID:        cfg.SessionID,
		ConfigID:         cfg.ConfigID,
		TotalFiles:       report.TotalFiles,
		TotalBytes:       report.TotalBytes,
		TotalTimeSecs:    report.TotalTimeSecs,
		AverageSpeedMbps: report.AverageSpeedMBps,
	})
}

func notifyEvent(cb notify.Callback, configID string, t notify.Type, msg string) {
	if cb == nil {
		return
	}
	cb(notify.Notification{
		ConfigIDHash: notify.ConfigIDHash(configID),
		Type:         t,
		Message:      msg,
		TimestampMs:  time.Now().UnixMilli(),
		Progress:     notify.NoProgress,
	})
}

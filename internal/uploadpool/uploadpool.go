// Package uploadpool runs the bounded-concurrency upload phase from
// spec.md §4.G: one independent FTP session per worker, one file at a
// time per session, with retry bounded by config.MaxConnectionRetries
// and backoff delegated to internal/connmgr.
package uploadpool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ftpuploader/agent/internal/connmgr"
	"github.com/ftpuploader/agent/internal/ftpclient"
	"github.com/ftpuploader/agent/internal/hashstore"
	"github.com/ftpuploader/agent/internal/notify"
	"github.com/ftpuploader/agent/internal/peercoord"
	"github.com/ftpuploader/agent/internal/scanner"
	"github.com/ftpuploader/agent/internal/session"
)

// textExtensions is the set of extensions uploaded in ASCII mode; every
// other extension goes up in BINARY mode. Only the extensions listed
// here count as text: for example .fish, .cmd, .m, .bib, .sty, .cls and
// the LaTeX auxiliary extensions (.aux, .toc, .idx, ...) are uploaded in
// BINARY mode.
var textExtensions = map[string]bool{
	".txt": true, ".csv": true, ".json": true, ".xml": true,
	".html": true, ".htm": true, ".md": true, ".log": true,
	".css": true, ".js": true, ".mjs": true, ".ts": true,
	".py": true, ".rb": true, ".rs": true, ".go": true,
	".swift": true, ".java": true, ".kt": true, ".c": true,
	".h": true, ".cpp": true, ".hpp": true, ".cc": true,
	".cs": true, ".php": true, ".pl": true, ".sh": true,
	".bash": true, ".zsh": true, ".sql": true, ".tex": true,
	".yaml": true, ".yml": true, ".toml": true, ".ini": true,
	".cfg": true, ".conf": true, ".properties": true, ".env": true,
	".rst": true, ".adoc": true, ".tsv": true, ".svg": true,
	".bat": true, ".ps1": true, ".lua": true, ".r": true,
	".scala": true, ".groovy": true, ".vue": true, ".jsx": true,
	".tsx": true, ".gradle": true, ".makefile": true, ".m4": true,
}

// Options configures one upload-pool run.
type Options struct {
	Host, User, Pass string
	Port             int
	RemoteDir        string
	RespectFilePaths bool
	LocalRoot        string
	Mode             peercoord.Mode
	Workers          int
	ConfigID         string
	DialTimeout      time.Duration
	// SyncIntervalSecs is cfg.SyncIntervalSecs, passed through so
	// connmgr can pick fast- vs normal-mode backoff; it has nothing to
	// do with the per-dial timeout.
	SyncIntervalSecs float64
}

// Outcome is the per-candidate result of one upload attempt, used by the
// caller to drive status reporting.
type Outcome struct {
	Candidate        scanner.Candidate
	Stage            string // a statusio.Stage* value
	Skipped          bool
	BytesTransferred int64
	Elapsed          time.Duration
	Err              error
}

// Run uploads every candidate, spreading the work over Options.Workers
// concurrent FTP sessions, per spec.md §5's "bounded worker pool with
// per-worker FTP sessions".
func Run(ctx context.Context, candidates []scanner.Candidate, opts Options, store *hashstore.Store, mgr *connmgr.Manager, sess *session.State, cb notify.Callback) []Outcome {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	records, err := store.LoadAll(opts.ConfigID)
	if err != nil {
		records = map[hashstore.Key]hashstore.Record{}
	}

	sem := semaphore.NewWeighted(int64(workers))
	outcomes := make([]Outcome, len(candidates))

	done := make(chan struct{}, len(candidates))
	for i, cand := range candidates {
		i, cand := i, cand
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = Outcome{Candidate: cand, Stage: "Error", Err: err}
			done <- struct{}{}
			continue
		}
		go func() {
			defer sem.Release(1)
			defer func() { done <- struct{}{} }()
			outcomes[i] = uploadWithRetry(ctx, cand, opts, store, records, mgr, sess, cb)
		}()
	}
	for range candidates {
		<-done
	}
	return outcomes
}

func uploadWithRetry(ctx context.Context, cand scanner.Candidate, opts Options, store *hashstore.Store, records map[hashstore.Key]hashstore.Record, mgr *connmgr.Manager, sess *session.State, cb notify.Callback) Outcome {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		out := uploadOne(ctx, cand, opts, store, records)
		// Stage "Uploaded" with an error means only the move into
		// FTPU-Sent failed: the file is on the server, so it is not
		// uploaded again and the error is reported as a warning.
		if out.Err == nil || out.Stage == "Uploaded" {
			mgr.RecordSuccess()
			if out.Skipped {
				notifyEvent(cb, opts.ConfigID, notify.Info, fmt.Sprintf("%s: %s", out.Stage, cand.RelativePath), cand.RelativePath)
			} else {
				sess.AddFileUpload(out.BytesTransferred, out.Elapsed)
				notifyEvent(cb, opts.ConfigID, notify.Success, fmt.Sprintf("uploaded %s", cand.RelativePath), cand.RelativePath)
			}
			if out.Err != nil {
				notifyEvent(cb, opts.ConfigID, notify.Warning, out.Err.Error(), cand.RelativePath)
			}
			return out
		}
		lastErr = out.Err
		_, delay := mgr.RecordFailure(out.Err.Error(), opts.SyncIntervalSecs)
		sess.AddError(fmt.Errorf("%s: %w", cand.RelativePath, out.Err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Outcome{Candidate: cand, Stage: "Error", Err: ctx.Err()}
		}
	}
	notifyEvent(cb, opts.ConfigID, notify.Error, fmt.Sprintf("giving up on %s: %v", cand.RelativePath, lastErr), cand.RelativePath)
	return Outcome{Candidate: cand, Stage: "Error", Err: lastErr}
}

// uploadOne implements spec.md §4.G's thirteen-step per-file sequence on
// a fresh, single-use FTP session.
func uploadOne(ctx context.Context, cand scanner.Candidate, opts Options, store *hashstore.Store, records map[hashstore.Key]hashstore.Record) Outcome {
	start := time.Now()

	// Steps 1-2: connect, login.
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	client, err := ftpclient.Dial(ctx, addr, opts.User, opts.Pass, opts.DialTimeout)
	if err != nil {
		return Outcome{Candidate: cand, Stage: "Connection failed", Err: err}
	}
	defer client.Quit()

	// Step 3: CWD to the configured remote directory. storPath is the
	// upload target relative to it.
	remoteDir, remoteName := remoteTarget(opts, cand)
	if err := client.ChangeDir(opts.RemoteDir); err != nil {
		return Outcome{Candidate: cand, Stage: "Error", Err: err}
	}
	storPath := remoteName
	if opts.RespectFilePaths {
		storPath = cand.RelativePath
	}

	// Step 4: BINARY by default.
	if err := client.SetBinary(); err != nil {
		return Outcome{Candidate: cand, Stage: "Error", Err: err}
	}

	// Step 5: SIZE, three-way outcome. A remote file that has disappeared
	// between scan and upload is skipped, not an error.
	sizeResult, remoteSize, err := client.Size(storPath)
	if err != nil {
		return Outcome{Candidate: cand, Stage: "Error", Err: err}
	}
	if sizeResult == ftpclient.SizeNotFound {
		return Outcome{Candidate: cand, Stage: "Skipped (remote missing)", Skipped: true}
	}

	// Step 6: in keep mode, a remote file of matching fingerprint means
	// skip. The fingerprint is keyed on the LOCAL file's own size and
	// mtime (not the server's clock), so it is stable across uploads
	// from this agent regardless of server MDTM precision.
	key := hashstore.Key{RemoteDir: remoteDir, Filename: remoteName}
	if opts.Mode == peercoord.ModeKeep && sizeResult == ftpclient.SizeKnown && remoteSize == cand.SizeBytes {
		localInfo, statErr := os.Stat(cand.AbsolutePath)
		if statErr == nil {
			if hashstore.Unchanged(records, key, localInfo.Size(), localInfo.ModTime().Unix()) {
				return Outcome{Candidate: cand, Stage: "Skipped (unchanged)", Skipped: true}
			}
		}
	}

	// Step 7: text/binary extension detection.
	if textExtensions[strings.ToLower(filepath.Ext(cand.RelativePath))] {
		if err := client.SetASCII(); err != nil {
			return Outcome{Candidate: cand, Stage: "Error", Err: err}
		}
	}

	// Step 8: MKD parent dirs, tolerating "already exists".
	if opts.RespectFilePaths {
		if err := mkdirAllRemote(client, remoteSubdir(cand)); err != nil {
			return Outcome{Candidate: cand, Stage: "Error", Err: err}
		}
	}

	f, err := os.Open(cand.AbsolutePath)
	if err != nil {
		return Outcome{Candidate: cand, Stage: "Error", Err: err}
	}
	defer f.Close()

	// Step 9: STOR, in whichever mode step 7 selected.
	if err := client.Store(storPath, f); err != nil {
		return Outcome{Candidate: cand, Stage: "Error", Err: err}
	}

	// Step 10: reset to BINARY so the next file on this session starts
	// from a known transfer mode regardless of what step 7 picked.
	if err := client.SetBinary(); err != nil {
		return Outcome{Candidate: cand, Stage: "Error", Err: err}
	}

	elapsed := time.Since(start)

	// Step 12: record the hash, move the local file into FTPU-Sent.
	if localInfo, statErr := os.Stat(cand.AbsolutePath); statErr == nil {
		_ = store.Record(opts.ConfigID, remoteDir, remoteName, localInfo.Size(), localInfo.ModTime().Unix(),
			hashstore.Fingerprint(remoteDir, remoteName, localInfo.Size(), localInfo.ModTime().Unix()))
	}
	if err := moveToSent(opts.LocalRoot, cand); err != nil {
		return Outcome{Candidate: cand, Stage: "Uploaded", BytesTransferred: cand.SizeBytes, Elapsed: elapsed, Err: fmt.Errorf("upload succeeded but move-to-sent failed: %w", err)}
	}

	return Outcome{Candidate: cand, Stage: "Uploaded", BytesTransferred: cand.SizeBytes, Elapsed: elapsed}
}

// remoteTarget splits a candidate's upload destination into the remote
// directory the file lands in (the hash-store key's RemoteDir) and the
// bare filename, honoring Options.RespectFilePaths.
func remoteTarget(opts Options, cand scanner.Candidate) (dir, name string) {
	if !opts.RespectFilePaths {
		return opts.RemoteDir, filepath.Base(cand.RelativePath)
	}
	sub := remoteSubdir(cand)
	if sub == "" {
		return opts.RemoteDir, filepath.Base(cand.RelativePath)
	}
	return strings.TrimRight(opts.RemoteDir, "/") + "/" + sub, filepath.Base(cand.RelativePath)
}

func remoteSubdir(cand scanner.Candidate) string {
	dir := filepath.ToSlash(filepath.Dir(cand.RelativePath))
	if dir == "." {
		return ""
	}
	return dir
}

// mkdirAllRemote creates every path component of sub under the current
// remote directory, tolerating components that already exist.
func mkdirAllRemote(client *ftpclient.Client, sub string) error {
	if sub == "" {
		return nil
	}
	var built strings.Builder
	for _, part := range strings.Split(sub, "/") {
		if part == "" {
			continue
		}
		if built.Len() > 0 {
			built.WriteByte('/')
		}
		built.WriteString(part)
		if err := client.MakeDir(built.String()); err != nil {
			return err
		}
	}
	return nil
}

// moveToSent relocates a successfully uploaded file into the
// scanner.SentDirName subtree, preserving its relative path, and
// resolves name collisions by appending "_1", "_2", ... before the
// extension, mirroring the legacy get_unique_filename behavior.
func moveToSent(localRoot string, cand scanner.Candidate) error {
	dest := filepath.Join(localRoot, scanner.SentDirName, filepath.FromSlash(cand.RelativePath))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("uploadpool: create sent dir: %w", err)
	}
	dest = uniquePath(dest)
	if err := os.Rename(cand.AbsolutePath, dest); err != nil {
		return fmt.Errorf("uploadpool: move to sent: %w", err)
	}
	return nil
}

func uniquePath(path string) string {
	if _, err := os.Stat(path); err != nil {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}

func notifyEvent(cb notify.Callback, configID string, t notify.Type, msg, filename string) {
	if cb == nil {
		return
	}
	cb(notify.Notification{
		ConfigIDHash: notify.ConfigIDHash(configID),
		Type:         t,
		Message:      msg,
		TimestampMs:  time.Now().UnixMilli(),
		Filename:     filename,
		Progress:     notify.NoProgress,
	})
}

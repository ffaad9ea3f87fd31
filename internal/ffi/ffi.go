// Package ffi models the control surface spec.md §6 describes as a
// language-agnostic FFI boundary: start/stop/get_status/free_string/
// init/shutdown/clear_config_data. The real C ABI (exported symbols,
// string ownership across the boundary) is out of scope; this package
// only models the operations themselves as Go function values, per
// SPEC_FULL.md §6.
package ffi

import (
	"context"
	"fmt"
	"os"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/ftpuploader/agent/internal/config"
	"github.com/ftpuploader/agent/internal/hashstore"
	"github.com/ftpuploader/agent/internal/notify"
	"github.com/ftpuploader/agent/internal/statusio"
	"github.com/ftpuploader/agent/internal/syncloop"
)

// Agent is one running instance bound to a config file, reachable
// through the Start/Stop/GetStatus/Shutdown/ClearConfigData operations.
type Agent struct {
	mu       sync.Mutex
	cfg      *config.Config
	cb       notify.Callback
	cancel   context.CancelFunc
	done     chan struct{}
	store    *hashstore.Store
	running  bool
}

// Init models the FFI init call: it loads and validates the config file
// but does not start the sync loop, mirroring spec.md §6's split between
// "init" (config validation, fatal on error) and "start" (run).
func Init(configPath string, cb notify.Callback) (*Agent, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("ffi: init: %w", err)
	}
	store, err := hashstore.Open(hashstoreFilePath(cfg))
	if err != nil {
		return nil, fmt.Errorf("ffi: init: open hash store: %w", err)
	}
	return &Agent{cfg: cfg, cb: cb, store: store}, nil
}

func hashstoreFilePath(cfg *config.Config) string {
	return config.DataDir() + "/" + cfg.ConfigID + ".db"
}

// Start launches the sync loop in the background. Calling Start on an
// already-running Agent is a no-op, matching spec.md §7's guidance that
// redundant FFI calls must not corrupt state.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	a.running = true

	go func() {
		defer close(a.done)
		_ = syncloop.Run(ctx, a.cfg, a.store, a.cb)
	}()
	return nil
}

// Stop signals cancellation and returns immediately without joining the
// background goroutine, per spec.md §5/§9: stop latency must be bounded
// and independent of any in-flight STOR size, so it cannot wait on
// syncloop.Run (which itself waits on uploadpool.Run's worker join).
// The background goroutine observes ctx and exits at its own 100ms
// poll quantum; a.done closes once it has.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	cancel := a.cancel
	a.cancel = nil
	a.running = false
	a.mu.Unlock()

	cancel()
	return nil
}

// Shutdown is the process-wide variant of Stop: it cancels this agent,
// waits for the background goroutine to actually exit, and only then
// closes the hash store — closing it while syncloop.Run is still using
// it would race.
func (a *Agent) Shutdown() error {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()

	if err := a.Stop(); err != nil {
		return err
	}
	if done != nil {
		<-done
	}
	return a.store.Close()
}

// GetStatus returns the marshaled contents of the status file, the
// FFI-facing equivalent of "read status.json and hand the caller a
// string", per spec.md §6. The caller owns the returned byte slice;
// FreeString in this model is a no-op since Go is garbage collected —
// it exists only so the FFI contract enumerated in spec.md §6 has a
// matching symbol on this side of the boundary.
func (a *Agent) GetStatus() ([]byte, error) {
	a.mu.Lock()
	cfg := a.cfg
	a.mu.Unlock()
	if cfg.StatusPath == "" {
		return []byte("{}"), nil
	}
	var s statusio.Status
	raw, err := readJSONFile(cfg.StatusPath, &s)
	if err != nil {
		return []byte("{}"), nil
	}
	return raw, nil
}

// FreeString exists to round out the FFI symbol list from spec.md §6;
// in the Go model there is nothing to free.
func FreeString([]byte) {}

// ClearConfigData removes every hash-store record for this agent's
// config_id, per spec.md §6's "reset idempotency state" operation.
func (a *Agent) ClearConfigData() (int, error) {
	a.mu.Lock()
	cfg := a.cfg
	store := a.store
	a.mu.Unlock()
	return store.DeleteAll(cfg.ConfigID)
}

func readJSONFile(path string, v interface{}) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// Package session accumulates bytes/time/speeds across the process
// lifetime and emits periodic and final reports, per spec.md §4.H.
package session

import (
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// State is created once per process run and lives for the full process
// lifetime, per spec.md §3.
type State struct {
	mu sync.Mutex

	totalFiles            int
	totalBytes            int64
	totalUploadTimeSeconds float64
	speedsMBps            []float64
	errs                  *multierror.Error

	start time.Time
}

// New returns a fresh, zeroed State.
func New() *State {
	return &State{start: time.Now()}
}

// AddFileUpload records one successfully uploaded file's byte count and
// elapsed time, appending its MB/s to the speed samples. Serialized by
// mu per spec.md §5.
func (s *State) AddFileUpload(bytesTransferred int64, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalFiles++
	s.totalBytes += bytesTransferred
	secs := elapsed.Seconds()
	s.totalUploadTimeSeconds += secs

	if secs > 0 {
		mbps := (float64(bytesTransferred) / (1024 * 1024)) / secs
		s.speedsMBps = append(s.speedsMBps, mbps)
	}
}

// AddError appends a failure string to the session's accumulated error
// log without losing prior errors.
func (s *State) AddError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = multierror.Append(s.errs, err)
}

// Report is the point-in-time snapshot written to the session file, per
// spec.md §6.
type Report struct {
	TotalFiles      int
	TotalBytes      int64
	TotalTimeSecs   float64
	AverageSpeedMBps float64
	PeakSpeedMBps   float64
}

// Snapshot returns the current Report. If no files have been processed
// yet, a zero-valued Report is returned (the caller decides whether to
// still write it, per spec.md §4.H: "the session file retains last
// valid content").
func (s *State) Snapshot() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	var avg, peak float64
	if len(s.speedsMBps) > 0 {
		sum := 0.0
		for _, v := range s.speedsMBps {
			sum += v
			if v > peak {
				peak = v
			}
		}
		avg = sum / float64(len(s.speedsMBps))
	}

	return Report{
		TotalFiles:       s.totalFiles,
		TotalBytes:       s.totalBytes,
		TotalTimeSecs:    s.totalUploadTimeSeconds,
		AverageSpeedMBps: avg,
		PeakSpeedMBps:    peak,
	}
}

// ShouldReportAfter implements spec.md §4.H's "every third successful
// file" reporting cadence; the caller (syncloop) tracks the count of
// successful files, and the policy is a pure helper here so it lives
// next to the state it reads.
func ShouldReportAfter(successfulFilesThisIteration int) bool {
	return successfulFilesThisIteration%3 == 0
}

// Errors returns the accumulated error log, or nil if there have been
// none.
func (s *State) Errors() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs == nil {
		return nil
	}
	return s.errs.ErrorOrNil()
}

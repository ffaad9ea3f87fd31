// Package stabilizer runs the stabilization phase from spec.md §4.F:
// each candidate waits the stabilization interval in parallel so the
// whole batch costs one interval of wall-clock time, not n intervals.
package stabilizer

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ftpuploader/agent/internal/scanner"
)

// Run waits interval once per candidate, in parallel, and returns the
// same candidates once every wait has elapsed. If interval is zero the
// phase is skipped and candidates pass through immediately, per
// spec.md §4.F.
func Run(ctx context.Context, candidates []scanner.Candidate, interval time.Duration) ([]scanner.Candidate, error) {
	if interval <= 0 {
		return candidates, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for range candidates {
		g.Go(func() error {
			t := time.NewTimer(interval)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return candidates, nil
}

package tester

import (
	"context"

	"github.com/ksparavec/reachsim/internal/analyzer"
	"github.com/ksparavec/reachsim/internal/model"
	"github.com/ksparavec/reachsim/internal/nsexec"
)

// RunnerCapturer adapts an nsexec.Runner into a SnapshotCapturer via
// analyzer.Capture, the production path from router name to
// CounterSnapshot.
type RunnerCapturer struct {
	Run nsexec.Runner
}

func (c RunnerCapturer) Capture(ctx context.Context, router string) (model.CounterSnapshot, error) {
	return analyzer.Capture(ctx, c.Run, router)
}

// CaptureAll fetches every router's snapshot concurrently (§4.5 P4 steps
// 1/3, "concurrently across routers"). A per-router failure is non-fatal:
// it lands in the returned error map instead of aborting the others,
// mirroring the original's "missing after snapshot" degrade rather than a
// whole-run abort. Exported so both the Tester (one detailed job) and the
// Scheduler's quick-job runner (§4.6) share one fan-out implementation
// instead of two copies of the same goroutine plumbing.
func CaptureAll(ctx context.Context, capture SnapshotCapturer, routers []string) (map[string]model.CounterSnapshot, map[string]error) {
	type outcome struct {
		router string
		snap   model.CounterSnapshot
		err    error
	}
	results := make(chan outcome, len(routers))
	for _, router := range routers {
		go func(router string) {
			snap, err := capture.Capture(ctx, router)
			results <- outcome{router, snap, err}
		}(router)
	}

	snaps := make(map[string]model.CounterSnapshot, len(routers))
	errs := make(map[string]error)
	for range routers {
		r := <-results
		if r.err != nil {
			errs[r.router] = r.err
			continue
		}
		snaps[r.router] = r.snap
	}
	return snaps, errs
}

// Package scheduler implements the Hybrid Scheduler (C6): a FIFO
// admission queue that classifies each job as quick or detailed (§4.6),
// enforces mutual exclusion between the two classes, and dispatches quick
// batches through the Host Pool (C3) and detailed jobs through the
// Multi-Service Tester (C5).
package scheduler

import (
	"context"

	"github.com/ksparavec/reachsim/internal/model"
	"github.com/ksparavec/reachsim/internal/pool"
)

// DetailedRunner executes one detailed job end-to-end (§4.5), handed off
// exclusively once every running quick job has drained.
type DetailedRunner interface {
	Run(ctx context.Context, job model.JobSpec, runDir string) (model.RunSummary, error)
}

// QuickBatcher prepares and launches a contiguous prefix of quick jobs as
// one atomic host-creation phase followed by per-job parallel execution
// (§4.3/§4.6 "admit the whole contiguous prefix ... as a batch"). Narrows
// *pool.Pool to the one method the Scheduler drives.
type QuickBatcher interface {
	PrepareBatch(ctx context.Context, jobs []model.JobSpec, execute pool.ExecuteFunc) (*pool.BatchResult, error)
}

// QuickJobExecutor runs one quick job's probes against hosts the Host
// Pool has already allocated for it. *QuickRunner is the production
// implementation; tests substitute a fixture-backed fake.
type QuickJobExecutor interface {
	Run(ctx context.Context, job model.JobSpec, hosts map[string]model.Host) ([]model.PacketTestResult, error)
}

// JobResult is handed back to a submitter once its job completes. Exactly
// one field is populated, matching the job's JobMode.
type JobResult struct {
	Summary *model.RunSummary        // detailed jobs (§4.5 P5)
	Packets []model.PacketTestResult // quick jobs (§3 PacketTestResult)
}

// Job is one admitted submission plus the machinery to wait on it or
// cancel it (§4.6 "Cancellation").
type Job struct {
	Spec   model.JobSpec
	RunDir string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	result JobResult
	err    error
}

func newJob(ctx context.Context, spec model.JobSpec, runDir string) *Job {
	jobCtx, cancel := context.WithCancel(ctx)
	return &Job{
		Spec:   spec,
		RunDir: runDir,
		ctx:    jobCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Wait blocks until the job finishes or ctx is done, whichever comes
// first.
func (j *Job) Wait(ctx context.Context) (JobResult, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return JobResult{}, ctx.Err()
	}
}

// Cancel requests cancellation. A queued job is simply removed before it
// ever runs; a running job is told (via context cancellation) to abort
// after its current service completes (§4.6 "Running-phase cancellation
// never leaves a half-tested service").
func (j *Job) Cancel() {
	j.cancel()
}

func (j *Job) finish(result JobResult, err error) {
	select {
	case <-j.done:
		return // already finished (e.g. cancelled while queued)
	default:
	}
	j.result, j.err = result, err
	close(j.done)
}

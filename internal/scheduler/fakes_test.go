package scheduler

import (
	"context"
	"sync"

	"github.com/ksparavec/reachsim/internal/model"
	"github.com/ksparavec/reachsim/internal/pool"
)

// fakeDetailedRunner records every call and returns a scripted
// summary/error. If started/proceed are set, Run signals started and then
// waits for proceed (or ctx.Done) before returning, letting tests observe
// "detailed job is in flight" deterministically.
type fakeDetailedRunner struct {
	mu      sync.Mutex
	calls   []string
	summary model.RunSummary
	err     error

	started chan struct{}
	proceed chan struct{}
}

func (f *fakeDetailedRunner) Run(ctx context.Context, job model.JobSpec, _ string) (model.RunSummary, error) {
	f.mu.Lock()
	f.calls = append(f.calls, job.RunID)
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
	}
	if f.proceed != nil {
		select {
		case <-f.proceed:
		case <-ctx.Done():
		}
	}
	return f.summary, f.err
}

func (f *fakeDetailedRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeQuickBatcher simulates pool.Pool.PrepareBatch: it records the batch
// of run IDs it was asked to admit and invokes execute for each job
// concurrently, exactly like the real Pool's phase-5 launch.
type fakeQuickBatcher struct {
	mu         sync.Mutex
	batches    [][]string
	prepareErr error
	hosts      map[string]model.Host
}

func newFakeQuickBatcher() *fakeQuickBatcher {
	return &fakeQuickBatcher{hosts: map[string]model.Host{
		"source-1": {Name: "source-1", ConnectedRouter: "r1"},
	}}
}

func (f *fakeQuickBatcher) PrepareBatch(ctx context.Context, jobs []model.JobSpec, execute pool.ExecuteFunc) (*pool.BatchResult, error) {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.RunID
	}
	f.mu.Lock()
	f.batches = append(f.batches, ids)
	f.mu.Unlock()

	if f.prepareErr != nil {
		return nil, f.prepareErr
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job model.JobSpec) {
			defer wg.Done()
			_ = execute(ctx, job, f.hosts)
		}(job)
	}
	wg.Wait()
	return &pool.BatchResult{}, nil
}

// fakeQuickExecutor is a scripted QuickJobExecutor keyed by run ID. If
// started/proceed are set, Run signals started and waits for proceed
// before returning, mirroring fakeDetailedRunner's synchronization hook.
type fakeQuickExecutor struct {
	mu      sync.Mutex
	calls   []string
	results map[string][]model.PacketTestResult
	errs    map[string]error

	started chan struct{}
	proceed chan struct{}
}

func newFakeQuickExecutor() *fakeQuickExecutor {
	return &fakeQuickExecutor{results: map[string][]model.PacketTestResult{}, errs: map[string]error{}}
}

func (f *fakeQuickExecutor) Run(ctx context.Context, job model.JobSpec, _ map[string]model.Host) ([]model.PacketTestResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, job.RunID)
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
	}
	if f.proceed != nil {
		select {
		case <-f.proceed:
		case <-ctx.Done():
		}
	}
	return f.results[job.RunID], f.errs[job.RunID]
}

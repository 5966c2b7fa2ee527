package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shoenig/test/must"

	"github.com/ksparavec/reachsim/internal/model"
)

func newTestScheduler(detailed *fakeDetailedRunner, batcher *fakeQuickBatcher, executor *fakeQuickExecutor) *Scheduler {
	s := New(hclog.NewNullLogger(), detailed, batcher, executor)
	s.submitSpacing = 0
	return s
}

func TestSubmit_QueueFullRejects(t *testing.T) {
	s := newTestScheduler(&fakeDetailedRunner{}, newFakeQuickBatcher(), newFakeQuickExecutor())
	s.queueCapacity = 1

	_, err := s.Submit(context.Background(), model.JobSpec{RunID: "a", Mode: model.JobQuick}, t.TempDir())
	must.NoError(t, err)

	_, err = s.Submit(context.Background(), model.JobSpec{RunID: "b", Mode: model.JobQuick}, t.TempDir())
	must.ErrorIs(t, err, model.ErrQueueFull)
}

func TestCancel_QueuedJobNeverRuns(t *testing.T) {
	detailed := &fakeDetailedRunner{}
	s := newTestScheduler(detailed, newFakeQuickBatcher(), newFakeQuickExecutor())

	j, err := s.Submit(context.Background(), model.JobSpec{RunID: "d1", Mode: model.JobDetailed}, t.TempDir())
	must.NoError(t, err)

	// The admission loop is never started: j sits in the queue until
	// cancelled, exercising the "queued -> removed" half of §4.6
	// cancellation without any goroutine timing to reason about.
	s.Cancel(j)

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = j.Wait(waitCtx)
	must.ErrorIs(t, err, model.ErrJobCancelled)
	must.Eq(t, 0, detailed.callCount())
}

func TestQuickJobsCoalesceIntoOneBatch(t *testing.T) {
	detailed := &fakeDetailedRunner{}
	batcher := newFakeQuickBatcher()
	executor := newFakeQuickExecutor()
	executor.results["q1"] = []model.PacketTestResult{{DestPort: 80}}
	executor.results["q2"] = []model.PacketTestResult{{DestPort: 443}}
	s := newTestScheduler(detailed, batcher, executor)

	// Both jobs are enqueued before the admission loop starts, so the
	// first admission pass sees the full contiguous quick prefix and
	// coalesces it into a single batch (§4.6 "admit the whole contiguous
	// prefix of quick jobs as a batch") instead of racing the loop.
	j1, err := s.Submit(context.Background(), model.JobSpec{RunID: "q1", Mode: model.JobQuick}, t.TempDir())
	must.NoError(t, err)
	j2, err := s.Submit(context.Background(), model.JobSpec{RunID: "q2", Mode: model.JobQuick}, t.TempDir())
	must.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() { cancel(); s.Close() }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	r1, err := j1.Wait(waitCtx)
	must.NoError(t, err)
	r2, err := j2.Wait(waitCtx)
	must.NoError(t, err)

	must.Eq(t, 80, r1.Packets[0].DestPort)
	must.Eq(t, 443, r2.Packets[0].DestPort)
	must.Len(t, 1, batcher.batches)
	must.Eq(t, []string{"q1", "q2"}, batcher.batches[0])
	must.Eq(t, 0, detailed.callCount())
}

func TestDetailedWaitsForRunningQuickJobToDrain(t *testing.T) {
	detailed := &fakeDetailedRunner{}
	batcher := newFakeQuickBatcher()
	executor := newFakeQuickExecutor()
	executor.started = make(chan struct{})
	executor.proceed = make(chan struct{})
	s := newTestScheduler(detailed, batcher, executor)

	qj, err := s.Submit(context.Background(), model.JobSpec{RunID: "q1", Mode: model.JobQuick}, t.TempDir())
	must.NoError(t, err)
	dj, err := s.Submit(context.Background(), model.JobSpec{RunID: "d1", Mode: model.JobDetailed}, t.TempDir())
	must.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() { cancel(); s.Close() }()

	select {
	case <-executor.started:
	case <-time.After(2 * time.Second):
		t.Fatal("quick job never started")
	}

	// The detailed job must not be admitted while the quick job is still
	// running, even though it is already at the head of the queue.
	must.Eq(t, 0, detailed.callCount())
	close(executor.proceed)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	_, err = dj.Wait(waitCtx)
	must.NoError(t, err)
	must.Eq(t, 1, detailed.callCount())

	_, err = qj.Wait(waitCtx)
	must.NoError(t, err)
}

func TestQuickWaitsForRunningDetailedJobToFinish(t *testing.T) {
	detailed := &fakeDetailedRunner{started: make(chan struct{}), proceed: make(chan struct{})}
	batcher := newFakeQuickBatcher()
	executor := newFakeQuickExecutor()
	executor.results["q1"] = []model.PacketTestResult{{DestPort: 22}}
	s := newTestScheduler(detailed, batcher, executor)

	dj, err := s.Submit(context.Background(), model.JobSpec{RunID: "d1", Mode: model.JobDetailed}, t.TempDir())
	must.NoError(t, err)
	qj, err := s.Submit(context.Background(), model.JobSpec{RunID: "q1", Mode: model.JobQuick}, t.TempDir())
	must.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() { cancel(); s.Close() }()

	select {
	case <-detailed.started:
	case <-time.After(2 * time.Second):
		t.Fatal("detailed job never started")
	}

	must.Len(t, 0, batcher.batches)
	close(detailed.proceed)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	_, err = dj.Wait(waitCtx)
	must.NoError(t, err)

	r, err := qj.Wait(waitCtx)
	must.NoError(t, err)
	must.Eq(t, 22, r.Packets[0].DestPort)
	must.Len(t, 1, batcher.batches)
}

func TestQuickBatchPrepareFailureFailsAllJobs(t *testing.T) {
	detailed := &fakeDetailedRunner{}
	batcher := newFakeQuickBatcher()
	batcher.prepareErr = errors.New("trace failed")
	executor := newFakeQuickExecutor()
	s := newTestScheduler(detailed, batcher, executor)

	j1, err := s.Submit(context.Background(), model.JobSpec{RunID: "q1", Mode: model.JobQuick}, t.TempDir())
	must.NoError(t, err)
	j2, err := s.Submit(context.Background(), model.JobSpec{RunID: "q2", Mode: model.JobQuick}, t.TempDir())
	must.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() { cancel(); s.Close() }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	_, err1 := j1.Wait(waitCtx)
	_, err2 := j2.Wait(waitCtx)
	must.ErrorIs(t, err1, batcher.prepareErr)
	must.ErrorIs(t, err2, batcher.prepareErr)
}

func TestStatus_ReportsQueuedAndRunning(t *testing.T) {
	detailed := &fakeDetailedRunner{started: make(chan struct{}), proceed: make(chan struct{})}
	batcher := newFakeQuickBatcher()
	executor := newFakeQuickExecutor()
	s := newTestScheduler(detailed, batcher, executor)

	_, err := s.Submit(context.Background(), model.JobSpec{RunID: "d1", Mode: model.JobDetailed}, t.TempDir())
	must.NoError(t, err)
	_, err = s.Submit(context.Background(), model.JobSpec{RunID: "q1", Mode: model.JobQuick}, t.TempDir())
	must.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() { cancel(); s.Close() }()

	select {
	case <-detailed.started:
	case <-time.After(2 * time.Second):
		t.Fatal("detailed job never started")
	}

	st := s.Status()
	must.True(t, st.DetailedRunning)
	must.Eq(t, []string{"q1"}, st.Queued)

	close(detailed.proceed)
}

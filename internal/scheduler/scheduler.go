package scheduler

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v2"

	"github.com/ksparavec/reachsim/internal/model"
)

const (
	defaultQueueCapacity = 256
	defaultSubmitSpacing = 1 * time.Second
	defaultIOWorkers     = 4
	defaultCPUWorkers    = 2
	defaultCPUTaskCycle  = 50 // restart a CPU worker after this many tasks
	completedRingSize    = 64
)

// Scheduler is the Hybrid Scheduler (C6): a single-threaded admission
// loop (§5 "The scheduler itself is single-threaded") over a FIFO queue
// of quick and detailed jobs, enforcing mutual exclusion between the two
// classes. Grounded on virt/handle.go's pattern of one goroutine owning a
// mutex-guarded state machine and reacting to a wake channel, generalized
// from a single VM's lifecycle to a queue of many jobs.
type Scheduler struct {
	logger hclog.Logger

	detailed DetailedRunner
	quick    QuickBatcher
	quickRun QuickJobExecutor

	io  *workerPool
	cpu *workerPool

	queueCapacity int
	submitSpacing time.Duration

	mu              sync.Mutex
	queue           *list.List // of *Job, FIFO
	runningQuick    *set.Set[string]
	detailedRunning bool
	lastSubmit      time.Time
	completed       []string // bounded ring of recently finished run IDs

	ctx  context.Context
	wake chan struct{}
}

// New returns a Scheduler. quickRun is the executor dispatched for each
// job in a quick batch; detailed is the executor for one detailed job.
// Options override the §6 "Runtime configuration" defaults (io/cpu pool
// size, queue capacity); production callers apply them from config.Config,
// tests leave them at their defaults.
func New(logger hclog.Logger, detailed DetailedRunner, quick QuickBatcher, quickRun QuickJobExecutor, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:        logger.Named("scheduler"),
		detailed:      detailed,
		quick:         quick,
		quickRun:      quickRun,
		queueCapacity: defaultQueueCapacity,
		submitSpacing: defaultSubmitSpacing,
		queue:         list.New(),
		runningQuick:  set.New[string](0),
		ctx:           context.Background(),
		wake:          make(chan struct{}, 1),
	}
	ioWorkers, cpuWorkers := defaultIOWorkers, defaultCPUWorkers
	for _, opt := range opts {
		opt(s, &ioWorkers, &cpuWorkers)
	}
	s.io = newWorkerPool(ioWorkers, 0)
	s.cpu = newWorkerPool(cpuWorkers, defaultCPUTaskCycle)
	return s
}

// Option configures a Scheduler at construction time (§6 "Runtime
// configuration" knobs that New's fixed positional arguments don't cover).
// ioWorkers/cpuWorkers are threaded in separately from *Scheduler since the
// worker pools themselves are built only once every option has run.
type Option func(s *Scheduler, ioWorkers, cpuWorkers *int)

// WithIOPoolWorkers overrides the I/O worker pool size (cfg.IOPoolWorkers).
func WithIOPoolWorkers(n int) Option {
	return func(_ *Scheduler, ioWorkers, _ *int) { *ioWorkers = n }
}

// WithCPUPoolWorkers overrides the CPU worker pool size (cfg.CPUPoolWorkers).
func WithCPUPoolWorkers(n int) Option {
	return func(_ *Scheduler, _, cpuWorkers *int) { *cpuWorkers = n }
}

// WithQueueCapacity overrides the admission queue capacity (cfg.QueueCapacity).
func WithQueueCapacity(n int) Option {
	return func(s *Scheduler, _, _ *int) { s.queueCapacity = n }
}

// Start launches the admission loop. It returns once ctx is cancelled;
// callers should wait on it (or simply let it leak until process exit, as
// the production cmd entrypoint does) before tearing down worker pools.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	go s.run(ctx)
}

// Close stops accepting new admissions and drains both worker pools.
// Callers should cancel the context passed to Start first.
func (s *Scheduler) Close() {
	s.io.Close()
	s.cpu.Close()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Submit enqueues a job for admission, generating a fresh run ID if the
// caller did not supply one. The 1-second spacing between successive
// submissions is enforced here, on the submission path, "to preserve
// arrival order deterministically" (§4.6) rather than inside the
// admission loop, so FIFO order reflects caller intent even under bursty
// concurrent submission.
func (s *Scheduler) Submit(ctx context.Context, spec model.JobSpec, runDir string) (*Job, error) {
	if spec.RunID == "" {
		spec.RunID = uuid.New().String()
	}

	s.mu.Lock()
	if s.queue.Len() >= s.queueCapacity {
		s.mu.Unlock()
		return nil, model.ErrQueueFull
	}
	wait := s.submitSpacing - time.Since(s.lastSubmit)
	s.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	j := newJob(s.ctx, spec, runDir)
	s.mu.Lock()
	s.queue.PushBack(j)
	s.lastSubmit = time.Now()
	s.mu.Unlock()
	s.signal()
	return j, nil
}

// Cancel cancels j. A still-queued job is unlinked immediately and never
// runs; a running job is left to its own executor to notice ctx
// cancellation and abort after its current service (§4.6 "Cancellation").
func (s *Scheduler) Cancel(j *Job) {
	j.cancel()

	s.mu.Lock()
	removed := false
	for e := s.queue.Front(); e != nil; e = e.Next() {
		if e.Value.(*Job) == j {
			s.queue.Remove(e)
			removed = true
			break
		}
	}
	s.mu.Unlock()

	if removed {
		j.finish(JobResult{}, model.ErrJobCancelled)
		s.signal()
	}
}

// Status is a snapshot of the queue for external observers (§3
// QueueState).
type Status struct {
	Queued          []string
	RunningQuick    []string
	DetailedRunning bool
	Completed       []string
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		DetailedRunning: s.detailedRunning,
		RunningQuick:    s.runningQuick.Slice(),
		Completed:       append([]string(nil), s.completed...),
	}
	for e := s.queue.Front(); e != nil; e = e.Next() {
		st.Queued = append(st.Queued, e.Value.(*Job).Spec.RunID)
	}
	return st
}

func (s *Scheduler) recordCompleted(runID string) {
	s.completed = append(s.completed, runID)
	if len(s.completed) > completedRingSize {
		s.completed = s.completed[len(s.completed)-completedRingSize:]
	}
}

// run is the admission loop (§4.6 "Queue discipline"). It never performs
// I/O itself: every job's actual execution is handed off to a goroutine,
// so a long-running detailed job can't stall admission of cancellations
// for other queued jobs.
func (s *Scheduler) run(ctx context.Context) {
	for {
		s.mu.Lock()
		front := s.queue.Front()
		if front == nil {
			s.mu.Unlock()
			if !s.waitForWake(ctx) {
				return
			}
			continue
		}

		head := front.Value.(*Job)
		if head.ctx.Err() != nil {
			s.queue.Remove(front)
			s.mu.Unlock()
			head.finish(JobResult{}, model.ErrJobCancelled)
			continue
		}

		if head.Spec.Mode == model.JobDetailed {
			if s.detailedRunning || s.runningQuick.Size() > 0 {
				s.mu.Unlock()
				if !s.waitForWake(ctx) {
					return
				}
				continue
			}
			s.queue.Remove(front)
			s.detailedRunning = true
			s.mu.Unlock()
			go s.runDetailed(head)
			continue
		}

		// Quick: admitted only while no detailed job is running. Coalesce
		// the whole contiguous prefix of quick jobs into one batch (§4.6
		// "admit the whole contiguous prefix of quick jobs as a batch").
		if s.detailedRunning {
			s.mu.Unlock()
			if !s.waitForWake(ctx) {
				return
			}
			continue
		}

		var batch []*Job
		for e := s.queue.Front(); e != nil; {
			j := e.Value.(*Job)
			if j.Spec.Mode != model.JobQuick {
				break
			}
			next := e.Next()
			s.queue.Remove(e)
			if j.ctx.Err() != nil {
				j.finish(JobResult{}, model.ErrJobCancelled)
			} else {
				batch = append(batch, j)
			}
			e = next
		}
		for _, j := range batch {
			s.runningQuick.Insert(j.Spec.RunID)
		}
		s.mu.Unlock()
		if len(batch) > 0 {
			go s.runQuickBatch(ctx, batch)
		}
	}
}

// waitForWake blocks until Submit/Cancel/a completion signals the loop or
// ctx is done. Returns false once ctx is done.
func (s *Scheduler) waitForWake(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.wake:
		return true
	}
}

func (s *Scheduler) runDetailed(j *Job) {
	summary, err := s.detailed.Run(j.ctx, j.Spec, j.RunDir)
	if err == nil && j.ctx.Err() != nil {
		err = model.ErrJobCancelled
	}

	s.mu.Lock()
	s.detailedRunning = false
	s.recordCompleted(j.Spec.RunID)
	s.mu.Unlock()

	if err != nil {
		j.finish(JobResult{}, err)
	} else {
		j.finish(JobResult{Summary: &summary}, nil)
	}
	s.signal()
}

// runQuickBatch hands the batch to the Host Pool, which performs the
// atomic host-creation phase and then invokes execute once per job, in
// parallel (§4.3 phase 5). Each invocation runs on the I/O worker pool so
// probe concurrency across the whole system stays bounded regardless of
// batch size (§4.6 "I/O worker pool sized for parallelism").
func (s *Scheduler) runQuickBatch(ctx context.Context, batch []*Job) {
	byID := make(map[string]*Job, len(batch))
	specs := make([]model.JobSpec, len(batch))
	for i, j := range batch {
		byID[j.Spec.RunID] = j
		specs[i] = j.Spec
	}

	execute := func(execCtx context.Context, spec model.JobSpec, hosts map[string]model.Host) error {
		j := byID[spec.RunID]
		var results []model.PacketTestResult
		var runErr error
		s.io.Run(func() {
			results, runErr = s.quickRun.Run(j.ctx, spec, hosts)
		})
		if runErr != nil {
			j.finish(JobResult{}, runErr)
			return runErr
		}
		j.finish(JobResult{Packets: results}, nil)
		return nil
	}

	_, err := s.quick.PrepareBatch(ctx, specs, execute)
	if err != nil {
		// PrepareBatch failed before host creation completed (e.g. trace
		// or allocation error): no job in the batch ever reached execute,
		// so none of them has a result yet. Fail them all with the same
		// cause.
		for _, j := range batch {
			j.finish(JobResult{}, err)
		}
	}

	s.mu.Lock()
	for _, j := range batch {
		s.runningQuick.Remove(j.Spec.RunID)
		s.recordCompleted(j.Spec.RunID)
	}
	s.mu.Unlock()
	s.signal()
}

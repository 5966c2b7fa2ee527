package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/ksparavec/reachsim/internal/fabric"
	"github.com/ksparavec/reachsim/internal/model"
	"github.com/ksparavec/reachsim/internal/netctl"
	"github.com/ksparavec/reachsim/internal/nsexec"
	"github.com/ksparavec/reachsim/internal/registry"
)

const (
	defaultGracePeriod     = 30 * time.Second
	defaultRecheckInterval = 10 * time.Second
)

// Pool is the Host Pool (C3). Its in-memory lock (poolState.mu) guards
// only refcount and timer-map mutations; every subprocess call happens
// outside it, per §5 "Locking discipline".
type Pool struct {
	logger hclog.Logger
	net    netctl.Manager
	run    nsexec.Runner
	hosts  *registry.HostRegistry
	fab    *fabric.FabricHandle
	facts  map[string]model.RouterFacts
	tracer Tracer

	gracePeriod     time.Duration
	recheckInterval time.Duration

	// IsDetailedJobRunning reports whether a detailed job is currently
	// executing, consulted by the cleanup scheduler (§4.3 cleanup rules).
	// Wired to the scheduler (C6); defaults to "never" so the pool is
	// usable standalone in tests.
	IsDetailedJobRunning func() bool

	// TraceSink persists each job's resolved trace, if set.
	TraceSink TraceSink

	state *poolState
}

// New returns a Pool. fab is the FabricHandle produced by fabric.Setup
// (router namespaces and mesh bridges the pool attaches dynamic hosts to);
// allFacts is the same RouterFacts map used to build it, needed to resolve
// each host's gateway and mesh bridge (§4.3 host-creation primitive).
// Options override the §6 "Runtime configuration" defaults (grace
// period); production callers apply them from config.Config, tests leave
// them at their defaults.
func New(logger hclog.Logger, net netctl.Manager, run nsexec.Runner, hostRegistry *registry.HostRegistry,
	fab *fabric.FabricHandle, allFacts map[string]model.RouterFacts, tracer Tracer, opts ...Option) *Pool {
	p := &Pool{
		logger:               logger.Named("pool"),
		net:                  net,
		run:                  run,
		hosts:                hostRegistry,
		fab:                  fab,
		facts:                allFacts,
		tracer:               tracer,
		gracePeriod:          defaultGracePeriod,
		recheckInterval:      defaultRecheckInterval,
		IsDetailedJobRunning: func() bool { return false },
		state:                newPoolState(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Option configures a Pool at construction time (§6 "Runtime
// configuration" knobs New's fixed positional arguments don't cover).
type Option func(*Pool)

// WithGracePeriod overrides the unused-host cleanup grace period
// (cfg.QuickJobHostCleanupGracePeriod, default 30s).
func WithGracePeriod(d time.Duration) Option {
	return func(p *Pool) { p.gracePeriod = d }
}

// PrepareBatch runs the five-phase atomic preparation and launch described
// in §4.3.
func (p *Pool) PrepareBatch(ctx context.Context, jobs []model.JobSpec, execute ExecuteFunc) (*BatchResult, error) {
	// Phase 1: parallel trace.
	traces := make([]model.TraceResult, len(jobs))
	var traceErrs *multierror.Error
	traceResults := make(chan struct {
		idx   int
		trace model.TraceResult
		err   error
	}, len(jobs))

	for i, job := range jobs {
		go func(i int, job model.JobSpec) {
			if job.UserSuppliedTrace != nil {
				traceResults <- struct {
					idx   int
					trace model.TraceResult
					err   error
				}{i, *job.UserSuppliedTrace, nil}
				return
			}
			trace, err := p.tracer.Trace(ctx, job.SourceIP, job.DestIP)
			traceResults <- struct {
				idx   int
				trace model.TraceResult
				err   error
			}{i, trace, err}
		}(i, job)
	}
	for range jobs {
		r := <-traceResults
		if r.err != nil {
			traceErrs = multierror.Append(traceErrs, fmt.Errorf("trace job %d (%s->%s): %w",
				r.idx, jobs[r.idx].SourceIP, jobs[r.idx].DestIP, r.err))
			continue
		}
		traces[r.idx] = r.trace
		if p.TraceSink != nil {
			if err := p.TraceSink.SaveTrace(jobs[r.idx].RunID, r.trace); err != nil {
				p.logger.Warn("failed to persist trace", "run_id", jobs[r.idx].RunID, "error", err)
			}
		}
	}
	if err := traceErrs.ErrorOrNil(); err != nil {
		return nil, err
	}

	// Phase 2: requirements analysis.
	requirements, jobHostNames := analyzeRequirements(jobs, traces)

	// Phase 3: atomic host creation, stable order.
	reqNames := make([]string, 0, len(requirements))
	for name := range requirements {
		reqNames = append(reqNames, name)
	}
	sort.Strings(reqNames)

	created := make(map[string]model.Host, len(reqNames))
	var createdNames, reusedNames []string
	for _, name := range reqNames {
		req := requirements[name]
		host, wasCreated, err := p.createHost(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%w: host %q: %v", model.ErrHostCreateFailed, name, err)
		}
		created[name] = host
		if wasCreated {
			createdNames = append(createdNames, name)
		} else {
			reusedNames = append(reusedNames, name)
		}
	}

	// Phase 4: refcount registration.
	p.state.register(jobHostNames)

	// Phase 5: launch.
	// Phase 5: launch, one goroutine per job. Quick jobs in a batch run in
	// parallel with each other (§4.6 "Quick jobs may run in parallel with
	// each other"); only the host-creation phase above is a single atomic
	// step preceding all of them.
	result := &BatchResult{Created: createdNames, Reused: reusedNames}
	result.Allocations = make([]JobAllocation, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		hostNames := jobHostNames[job.RunID]
		hostMap := make(map[string]model.Host, len(hostNames))
		for _, name := range hostNames {
			hostMap[name] = created[name]
		}

		wg.Add(1)
		go func(i int, job model.JobSpec, hostNames []string, hostMap map[string]model.Host) {
			defer wg.Done()
			if err := execute(ctx, job, hostMap); err != nil {
				p.logger.Warn("job execution failed, releasing its hosts", "run_id", job.RunID, "error", err)
				p.Release(job.RunID, hostNames)
				result.Allocations[i] = JobAllocation{Job: job, Hosts: nil}
				return
			}
			result.Allocations[i] = JobAllocation{Job: job, Hosts: hostMap}
		}(i, job, hostNames, hostMap)
	}
	wg.Wait()

	return result, nil
}

// EnsureHost creates or reuses a single, explicitly-named host and
// registers jobID's hold on it. Used by the Tester (C5) for detailed-job
// environment setup (§4.5 P2), where host names are positional
// (source-<i>/destination-<i> per router slot) rather than the
// batch-deduplicated names PrepareBatch assigns for quick jobs — the
// Host Pool still exclusively owns the namespace either way (§3
// "Ownership").
func (p *Pool) EnsureHost(ctx context.Context, jobID string, req HostRequirement) (model.Host, bool, error) {
	host, wasCreated, err := p.createHost(ctx, req)
	if err != nil {
		return model.Host{}, false, fmt.Errorf("%w: host %q: %v", model.ErrHostCreateFailed, req.Name, err)
	}
	p.state.register(map[string][]string{jobID: {req.Name}})
	return host, wasCreated, nil
}

// Release decrements hostNames' refcounts for jobID and schedules cleanup
// for any that reach zero (§4.3 cleanup rules).
func (p *Pool) Release(jobID string, hostNames []string) {
	toSchedule := p.state.release(jobID, hostNames)
	for _, name := range toSchedule {
		p.scheduleCleanup(name)
	}
}

// RemoveManual destroys host immediately, refusing if it is still in use.
func (p *Pool) RemoveManual(ctx context.Context, host string) error {
	if p.state.inUse(host) {
		return fmt.Errorf("%w: host %q has active references", model.ErrHostInUse, host)
	}

	p.cancelCleanup(host)
	p.state.forget(host)

	if err := p.destroyHost(ctx, host); err != nil {
		return fmt.Errorf("pool: remove %q: %w", host, err)
	}
	return p.hosts.Remove(host)
}

// Status reports the pool's current view (§4.3).
func (p *Pool) Status() PoolStatus {
	return p.state.status()
}

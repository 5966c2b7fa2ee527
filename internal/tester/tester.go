package tester

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/ksparavec/reachsim/internal/analyzer"
	"github.com/ksparavec/reachsim/internal/model"
	"github.com/ksparavec/reachsim/internal/pool"
	"github.com/ksparavec/reachsim/internal/progress"
)

const (
	documentVersion = "1.0.0"

	defaultAfterSettlePause  = 500 * time.Millisecond
	defaultInterServicePause = 1 * time.Second
	defaultEnvSettlePause    = 1 * time.Second
)

// Tester is the Multi-Service Tester (C5): one detailed job end-to-end
// (§4.5).
type Tester struct {
	logger   hclog.Logger
	tracer   pool.Tracer
	hosts    HostPool
	services ServiceController
	capture  SnapshotCapturer
	sink     model.ReportSink

	afterSettlePause  time.Duration
	interServicePause time.Duration
	envSettlePause    time.Duration
}

// New returns a Tester. capture acquires iptables counter snapshots
// (production: tester.RunnerCapturer wrapping internal/analyzer.Capture);
// sink writes the per-service documents and run summary.
func New(logger hclog.Logger, tracer pool.Tracer, hosts HostPool, services ServiceController,
	capture SnapshotCapturer, sink model.ReportSink) *Tester {
	return &Tester{
		logger:            logger.Named("tester"),
		tracer:            tracer,
		hosts:             hosts,
		services:          services,
		capture:           capture,
		sink:              sink,
		afterSettlePause:  defaultAfterSettlePause,
		interServicePause: defaultInterServicePause,
		envSettlePause:    defaultEnvSettlePause,
	}
}

// Run executes job's full P1-P5 lifecycle, writing progress.json/timing.json
// and the per-service result documents into runDir, and returns the run
// summary. Cleanup (host release, service stop) runs unconditionally on
// return, per §4.5 "Cleanup: ... regardless of outcome".
func (t *Tester) Run(ctx context.Context, job model.JobSpec, runDir string) (model.RunSummary, error) {
	log, err := progress.New(runDir)
	if err != nil {
		return model.RunSummary{}, fmt.Errorf("tester: start progress log: %w", err)
	}
	defer func() {
		if err := log.WriteTimingSummary(runDir); err != nil {
			t.logger.Warn("failed to write timing summary", "run_id", job.RunID, "error", err)
		}
	}()

	t.logProgress(log, progress.PhaseStart,
		fmt.Sprintf("Multi-service test: %s -> %s (%d services)", job.SourceIP, job.DestIP, len(job.Services)))

	var createdHosts []string
	var startedServices []model.ServiceSpec
	defer t.cleanup(job.RunID, job.DestIP, &createdHosts, &startedServices, log)

	trace, err := t.discoverPath(ctx, job, log)
	if err != nil {
		t.logProgress(log, progress.PhaseError, err.Error())
		return model.RunSummary{}, err
	}

	sourceHostAdded, destHostAdded, err := t.setupEnvironment(ctx, job, trace, &createdHosts, &startedServices, log)
	if err != nil {
		t.logProgress(log, progress.PhaseError, err.Error())
		return model.RunSummary{}, err
	}

	traceroute := t.initialTests(ctx, job, log)

	docs, sourcePorts := t.testServices(ctx, job, trace, traceroute, sourceHostAdded, destHostAdded, log)
	t.logProgress(log, progress.PhasePhase4Complete, "All service tests completed")

	summary, err := t.emit(runDir, job, docs, sourcePorts)
	if err != nil {
		t.logProgress(log, progress.PhaseError, err.Error())
		return model.RunSummary{}, err
	}

	t.logProgress(log, progress.PhaseComplete, "Run complete")
	return summary, nil
}

// discoverPath is P1 (§4.5 P1).
func (t *Tester) discoverPath(ctx context.Context, job model.JobSpec, log *progress.Logger) (model.TraceResult, error) {
	t.logProgress(log, progress.PhasePhase1Start, fmt.Sprintf("Path discovery from %s to %s", job.SourceIP, job.DestIP))

	trace := model.TraceResult{}
	if job.UserSuppliedTrace != nil {
		trace = *job.UserSuppliedTrace
	} else {
		var err error
		trace, err = t.tracer.Trace(ctx, job.SourceIP, job.DestIP)
		if err != nil {
			return model.TraceResult{}, fmt.Errorf("tester: trace %s->%s: %w", job.SourceIP, job.DestIP, err)
		}
	}

	if len(trace.Routers) == 0 {
		return model.TraceResult{}, fmt.Errorf("%w: %s -> %s", model.ErrNoPathFound, job.SourceIP, job.DestIP)
	}

	t.logProgress(log, progress.PhasePhase1Complete, fmt.Sprintf("Found %d routers", len(trace.Routers)))
	return trace, nil
}

// setupEnvironment is P2 (§4.5 P2): one source-<i>/destination-<i> host
// pair per path slot, then every requested service started on dest_ip.
func (t *Tester) setupEnvironment(ctx context.Context, job model.JobSpec, trace model.TraceResult,
	createdHosts *[]string, startedServices *[]model.ServiceSpec, log *progress.Logger) (sourceAdded, destAdded bool, err error) {
	t.logProgress(log, progress.PhasePhase2Start, "Setting up simulation environment")

	for i, router := range trace.Routers {
		idx := i + 1
		srcName := fmt.Sprintf("source-%d", idx)
		dstName := fmt.Sprintf("destination-%d", idx)

		_, created, err := t.hosts.EnsureHost(ctx, job.RunID, pool.HostRequirement{
			Name: srcName, SourceIP: job.SourceIP, Router: router,
		})
		if err != nil {
			return false, false, fmt.Errorf("tester: attach source host to %q: %w", router, err)
		}
		*createdHosts = append(*createdHosts, srcName)
		sourceAdded = sourceAdded || created

		_, created, err = t.hosts.EnsureHost(ctx, job.RunID, pool.HostRequirement{
			Name: dstName, SourceIP: job.DestIP, Router: router,
		})
		if err != nil {
			return false, false, fmt.Errorf("tester: attach destination host to %q: %w", router, err)
		}
		*createdHosts = append(*createdHosts, dstName)
		destAdded = destAdded || created
	}

	for _, svc := range job.Services {
		if err := t.services.StartService(ctx, job.DestIP, svc.Port, svc.Protocol); err != nil {
			t.logger.Warn("failed to start service", "dest_ip", job.DestIP, "port", svc.Port, "protocol", svc.Protocol, "error", err)
			continue
		}
		*startedServices = append(*startedServices, svc)
		t.logProgress(log, fmt.Sprintf("service_%d_%s_started", svc.Port, svc.Protocol),
			fmt.Sprintf("Started %s service on %s:%d", svc.Protocol, job.DestIP, svc.Port))
	}

	time.Sleep(t.envSettlePause)
	return sourceAdded, destAdded, nil
}

// initialTests is P3: a bounded traceroute, kept as an auxiliary artifact
// even on failure (§4.5 P3).
func (t *Tester) initialTests(ctx context.Context, job model.JobSpec, log *progress.Logger) any {
	t.logProgress(log, "PHASE3_start", "Starting initial reachability tests")
	result, err := t.services.Traceroute(ctx, job.SourceIP, job.DestIP)
	if err != nil {
		result = map[string]any{"error": err.Error()}
	}
	t.logProgress(log, "PHASE3_complete", "Initial tests finished")
	return result
}

// testServices is P4, the sequential service-test loop (§4.5 P4), the
// critical correctness region: before/probe/after/analyze form one
// sequential unit per service, and services never run in parallel because
// counters are shared state across the whole router set.
func (t *Tester) testServices(ctx context.Context, job model.JobSpec, trace model.TraceResult, traceroute any,
	sourceHostAdded, destHostAdded bool, log *progress.Logger) ([]model.ServiceResultDocument, map[string]int) {
	t.logProgress(log, "PHASE4_start", fmt.Sprintf("Testing %d services sequentially", len(job.Services)))

	var lastAfter map[string]model.CounterSnapshot
	docs := make([]model.ServiceResultDocument, 0, len(job.Services))
	sourcePorts := map[string]int{}

	for i, svc := range job.Services {
		// Cancellation never interrupts a service mid-flight; it only
		// stops the loop from starting the next one (§4.6 "Running-phase
		// cancellation ... completes the current service's cleanup
		// before exiting").
		if ctx.Err() != nil {
			break
		}

		svcStart := time.Now()
		key := fmt.Sprintf("%d_%s", svc.Port, svc.Protocol)

		var before map[string]model.CounterSnapshot
		var missingBefore map[string]error
		if lastAfter != nil {
			before = lastAfter
			t.logProgress(log, progress.SnapshotPhase("before", svc.Port, svc.Protocol, "reuse"),
				"Reusing previous iptables snapshot")
		} else {
			t.logProgress(log, progress.SnapshotPhase("before", svc.Port, svc.Protocol, "start"),
				"Starting to get iptables counters before test")
			before, missingBefore = t.captureAll(ctx, trace.Routers)
			t.logSnapshotFailures(missingBefore, "before")
			t.logProgress(log, progress.SnapshotPhase("before", svc.Port, svc.Protocol, "complete"),
				fmt.Sprintf("Got iptables from %d routers", len(before)))
		}

		t.logProgress(log, progress.ServiceTestPhase(svc.Port, svc.Protocol, "start"),
			fmt.Sprintf("Starting connectivity test to %s:%d", job.DestIP, svc.Port))
		probe, probeErr := t.services.ProbeService(ctx, job.SourceIP, job.DestIP, svc.Port, svc.Protocol)
		t.logProgress(log, progress.ServiceTestPhase(svc.Port, svc.Protocol, "complete"), "Service test completed")

		if job.SourcePort == 0 && probe.SourcePort != 0 {
			sourcePorts[key] = probe.SourcePort
		}

		time.Sleep(t.afterSettlePause)

		t.logProgress(log, progress.SnapshotPhase("after", svc.Port, svc.Protocol, "start"),
			"Starting to get iptables counters after test")
		after, missingAfter := t.captureAll(ctx, trace.Routers)
		t.logSnapshotFailures(missingAfter, "after")
		t.logProgress(log, progress.SnapshotPhase("after", svc.Port, svc.Protocol, "complete"),
			fmt.Sprintf("Got iptables from %d routers", len(after)))
		lastAfter = after

		analyses := t.analyzeRouters(trace.Routers, before, after, probeErr, probe.PerRouter)

		routerResults := make(map[string]model.RouterStatus, len(analyses))
		for _, a := range analyses {
			routerResults[a.Router] = a.Status
		}

		var reachableVia, blockedBy []string
		for _, router := range trace.Routers {
			if routerResults[router] == model.StatusAllowed {
				reachableVia = append(reachableVia, router)
			} else {
				blockedBy = append(blockedBy, router)
			}
		}
		serviceReachable := len(trace.Routers) > 0 && len(blockedBy) == 0

		doc := model.ServiceResultDocument{
			Timestamp: svcStart.UTC().Format("2006-01-02 15:04:05"),
			Version:   documentVersion,
			Summary: model.ResultSummary{
				SourceIP:        job.SourceIP,
				SourcePort:      resolvedSourcePort(job.SourcePort, sourcePorts[key]),
				DestinationIP:   job.DestIP,
				DestinationPort: svc.Port,
				Protocol:        svc.Protocol,
			},
			SetupStatus: model.SetupStatus{
				SourceHostAdded:      sourceHostAdded,
				DestinationHostAdded: destHostAdded,
				ServiceStarted:       true,
			},
			ReachabilityTests: model.ReachabilityTests{
				Ping:       nil,
				Traceroute: model.ProbeOutcome{Result: traceroute, ReturnCode: 0},
				Service:    model.ProbeOutcome{Result: probe.Raw, ReturnCode: serviceReturnCode(probeErr, probe.Reachable)},
			},
			PacketCountAnalysis:  analyses,
			RouterServiceResults: routerResults,
			OperationalSummary:   []string{},
			TotalDurationSeconds: time.Since(svcStart).Seconds(),
			ReachabilitySummary: model.ReachabilitySummary{
				ServiceReachable:    serviceReachable,
				ReachableViaRouters: reachableVia,
				BlockedByRouters:    blockedBy,
			},
		}
		docs = append(docs, doc)

		if i < len(job.Services)-1 {
			time.Sleep(t.interServicePause)
		}
	}

	return docs, sourcePorts
}

// captureAll acquires one iptables snapshot per router concurrently,
// since this is genuinely I/O-bound subprocess work (§4.5 P4 step 1/3).
// A router whose capture fails is simply absent from the returned map;
// analyzeRouters treats that as a missing snapshot rather than aborting
// the whole service test, matching the degraded-but-continuing behavior
// original_source's analyze_packet_counts dict-based fetch has. Bounding
// actual subprocess concurrency to the I/O worker pool size is the
// scheduler's job (C6), not this component's.
func (t *Tester) captureAll(ctx context.Context, routers []string) (map[string]model.CounterSnapshot, map[string]error) {
	return CaptureAll(ctx, t.capture, routers)
}

// analyzeRouters attributes an Analyzer mode per router from the probe
// outcome (§4.5 P4 step 4: "OK -> allowing; FAIL|TIMEOUT|ERROR ->
// blocking; missing -> blocking (conservative)"), then runs the Analyzer.
// Analysis itself is a pure, non-blocking computation, so unlike snapshot
// capture it runs in router-path order rather than concurrently: there is
// no wall-clock benefit to fanning it out, and path order keeps document
// output deterministic.
func (t *Tester) analyzeRouters(routers []string, before, after map[string]model.CounterSnapshot,
	probeErr error, perRouter map[string]bool) []model.AnalysisResult {
	results := make([]model.AnalysisResult, 0, len(routers))
	for _, router := range routers {
		mode := model.ModeBlocking
		if probeErr == nil {
			if ok, known := perRouter[router]; known && ok {
				mode = model.ModeAllowing
			}
		}

		afterSnap, haveAfter := after[router]
		if !haveAfter {
			reason := model.ReasonNoBlockingFound
			if mode == model.ModeAllowing {
				reason = model.ReasonNoAllowingFound
			}
			results = append(results, model.AnalysisResult{
				Router: router, Mode: mode, Status: model.StatusUnknown,
				Reason: reason, Description: "missing after snapshot",
			})
			continue
		}

		beforeSnap, haveBefore := before[router]
		if !haveBefore {
			beforeSnap = model.CounterSnapshot{Router: router}
		}

		results = append(results, analyzer.Analyze(beforeSnap, afterSnap, mode))
	}
	return results
}

// emit is P5 (§4.5 P5): one JSON document per tested service plus
// summary.json.
func (t *Tester) emit(runDir string, job model.JobSpec, docs []model.ServiceResultDocument,
	sourcePorts map[string]int) (model.RunSummary, error) {
	files := make([]string, 0, len(docs))
	for i, doc := range docs {
		svc := job.Services[i]
		fileName := fmt.Sprintf("%d_%s_results.json", svc.Port, svc.Protocol)
		if err := t.sink.WriteServiceResult(runDir, fileName, doc); err != nil {
			return model.RunSummary{}, fmt.Errorf("tester: write result for %s: %w", fileName, err)
		}
		files = append(files, fileName)
	}

	summary := model.RunSummary{RunID: job.RunID, Files: files, SourcePorts: sourcePorts}
	if err := t.sink.WriteSummary(runDir, summary); err != nil {
		return model.RunSummary{}, fmt.Errorf("tester: write run summary: %w", err)
	}
	return summary, nil
}

// cleanup releases every host this run created and stops every service it
// started, unconditionally (§4.5 "Cleanup... regardless of outcome").
// Host teardown itself stays the Host Pool's responsibility (§3
// "Ownership"): Release only decrements refcounts and arms the Pool's own
// grace-timer cleanup.
func (t *Tester) cleanup(runID, destIP string, createdHosts *[]string, startedServices *[]model.ServiceSpec, log *progress.Logger) {
	t.logProgress(log, "cleanup_start", "Starting cleanup")

	for _, svc := range *startedServices {
		if err := t.services.StopService(context.Background(), destIP, svc.Port, svc.Protocol); err != nil {
			t.logger.Warn("failed to stop service", "dest_ip", destIP, "port", svc.Port, "protocol", svc.Protocol, "error", err)
		}
	}
	if len(*createdHosts) > 0 {
		t.hosts.Release(runID, *createdHosts)
	}

	t.logProgress(log, "cleanup_complete", "Cleanup completed")
}

func (t *Tester) logSnapshotFailures(failures map[string]error, which string) {
	for router, err := range failures {
		t.logger.Warn("snapshot capture failed", "router", router, "when", which, "error", err)
	}
}

// logProgress writes one progress line, logging (not failing) on error:
// a progress-log write failure must never abort an otherwise-successful
// run.
func (t *Tester) logProgress(log *progress.Logger, phase, message string) {
	if err := log.Log(phase, message); err != nil {
		t.logger.Warn("failed to write progress entry", "phase", phase, "error", err)
	}
}

// resolvedSourcePort returns the job's requested source port if set, else
// the port the probe tool actually resolved, else the literal "ephemeral"
// (§3 JobSpec "optional source_port", §6 summary "source_port").
func resolvedSourcePort(requested, derived int) any {
	if requested != 0 {
		return requested
	}
	if derived != 0 {
		return derived
	}
	return "ephemeral"
}

// serviceReturnCode mirrors original_source's return-code derivation: 0
// when the probe tool itself ran and reported success, 1 otherwise.
func serviceReturnCode(probeErr error, reachable bool) int {
	if probeErr != nil {
		return 1
	}
	if reachable {
		return 0
	}
	return 1
}

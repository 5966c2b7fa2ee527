package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/ksparavec/reachsim/internal/analyzer"
	"github.com/ksparavec/reachsim/internal/model"
	"github.com/ksparavec/reachsim/internal/tester"
)

// QuickRunner executes one quick job's packet-classification probes
// against hosts the Host Pool has already allocated for it (§4.6 job
// model: "quick ... ksms/packet-classification style probes that do not
// create/destroy routers"). It reuses the Tester's
// ServiceController/SnapshotCapturer boundary (internal/tester) instead of
// inventing a parallel one: both job classes drive the same tsimsh/
// iptables surface, and only the surrounding host/service lifecycle
// differs. Unlike the Tester, QuickRunner never starts or stops a
// persistent service and never runs an initial traceroute — a quick job
// is read-only with respect to namespaces and services.
type QuickRunner struct {
	logger   hclog.Logger
	services tester.ServiceController
	capture  tester.SnapshotCapturer

	afterSettlePause  time.Duration
	interServicePause time.Duration
}

// NewQuickRunner returns a QuickRunner. services and capture are the same
// kind of adapters a Tester is built with, so a single production
// ServiceController/SnapshotCapturer pair can back both job classes.
func NewQuickRunner(logger hclog.Logger, services tester.ServiceController, capture tester.SnapshotCapturer) *QuickRunner {
	return &QuickRunner{
		logger:            logger.Named("quick"),
		services:          services,
		capture:           capture,
		afterSettlePause:  500 * time.Millisecond,
		interServicePause: 1 * time.Second,
	}
}

// routersOf returns the distinct routers the Host Pool attached hosts to,
// in a stable (sorted) order. PrepareBatch's ExecuteFunc contract hands us
// only the allocated hosts, not the resolved trace, so the router set is
// recovered from Host.ConnectedRouter rather than threaded through
// separately.
func routersOf(hosts map[string]model.Host) []string {
	seen := make(map[string]bool, len(hosts))
	var routers []string
	for _, h := range hosts {
		if h.ConnectedRouter == "" || seen[h.ConnectedRouter] {
			continue
		}
		seen[h.ConnectedRouter] = true
		routers = append(routers, h.ConnectedRouter)
	}
	sort.Strings(routers)
	return routers
}

// Run tests every service in job against the routers its hosts attach to.
// Services within one job are tested strictly sequentially, matching the
// Tester's "never in parallel" rule for counters (§4.5 P4): counters are
// shared router state, and a quick job's own services would otherwise
// race each other even though separate quick jobs are allowed to race.
func (q *QuickRunner) Run(ctx context.Context, job model.JobSpec, hosts map[string]model.Host) ([]model.PacketTestResult, error) {
	routers := routersOf(hosts)
	if len(routers) == 0 {
		return nil, fmt.Errorf("quick job %s: no routers resolved from allocated hosts", job.RunID)
	}

	results := make([]model.PacketTestResult, 0, len(job.Services))
	var lastAfter map[string]model.CounterSnapshot

	for i, svc := range job.Services {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		before := lastAfter
		if before == nil {
			before, _ = tester.CaptureAll(ctx, q.capture, routers)
		}

		probe, probeErr := q.services.ProbeService(ctx, job.SourceIP, job.DestIP, svc.Port, svc.Protocol)
		if probeErr != nil {
			q.logger.Warn("probe failed", "run_id", job.RunID, "port", svc.Port, "protocol", svc.Protocol, "error", probeErr)
		}

		time.Sleep(q.afterSettlePause)
		after, afterFailures := tester.CaptureAll(ctx, q.capture, routers)
		lastAfter = after
		for router, err := range afterFailures {
			q.logger.Warn("snapshot capture failed", "run_id", job.RunID, "router", router, "error", err)
		}

		results = append(results, q.classify(job, svc, routers, before, after, probe, probeErr))

		if i < len(job.Services)-1 {
			time.Sleep(q.interServicePause)
		}
	}

	return results, nil
}

// classify attributes each on-path router's outcome, the same ladder the
// Tester uses (§4.5 P4 step 4): OK -> allowing, FAIL/TIMEOUT/ERROR/missing
// -> blocking (conservative), then Analyze against the before/after pair.
func (q *QuickRunner) classify(job model.JobSpec, svc model.ServiceSpec, routers []string,
	before, after map[string]model.CounterSnapshot, probe tester.ProbeResult, probeErr error) model.PacketTestResult {
	perRouter := make(map[string]model.RouterStatus, len(routers))
	attribution := make(map[string]model.AnalysisResult, len(routers))
	reachable := len(routers) > 0

	for _, router := range routers {
		mode := model.ModeBlocking
		if probeErr == nil && probe.PerRouter[router] {
			mode = model.ModeAllowing
		}

		afterSnap, ok := after[router]
		if !ok {
			res := model.AnalysisResult{Router: router, Mode: mode, Status: model.StatusUnknown, Description: "missing after snapshot"}
			attribution[router] = res
			perRouter[router] = model.StatusUnknown
			reachable = false
			continue
		}
		beforeSnap, ok := before[router]
		if !ok {
			beforeSnap = model.CounterSnapshot{Router: router}
		}

		res := analyzer.Analyze(beforeSnap, afterSnap, mode)
		attribution[router] = res
		perRouter[router] = res.Status
		if res.Status != model.StatusAllowed {
			reachable = false
		}
	}

	return model.PacketTestResult{
		SourceIP:    job.SourceIP,
		SourcePort:  job.SourcePort,
		DestIP:      job.DestIP,
		DestPort:    svc.Port,
		Protocol:    svc.Protocol,
		PerRouter:   perRouter,
		Attribution: attribution,
		Reachable:   reachable,
	}
}

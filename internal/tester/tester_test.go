package tester

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/shoenig/test/must"

	"github.com/ksparavec/reachsim/internal/model"
)

func acceptRuleSnapshot(router string) model.CounterSnapshot {
	return model.CounterSnapshot{
		Router: router,
		Tables: map[string]model.Table{
			"filter": {
				"FORWARD": model.Chain{Policy: "ACCEPT"},
			},
		},
	}
}

func acceptRuleAfterSnapshot(router string) model.CounterSnapshot {
	return model.CounterSnapshot{
		Router: router,
		Tables: map[string]model.Table{
			"filter": {
				"FORWARD": model.Chain{
					Policy: "ACCEPT",
					Rules:  []model.Rule{{Index: 0, Raw: "-A FORWARD -j ACCEPT", Target: "ACCEPT", Packets: 1}},
				},
			},
		},
	}
}

func dropPolicySnapshot(router string) model.CounterSnapshot {
	return model.CounterSnapshot{
		Router: router,
		Tables: map[string]model.Table{
			"filter": {
				"FORWARD": model.Chain{Policy: "DROP"},
			},
		},
	}
}

func newTestTester(tracer *fakeTracer, hosts *fakeHostPool, svcs *fakeServices, cap *fakeCapturer, sink *fakeSink) *Tester {
	return New(hclog.NewNullLogger(), tracer, hosts, svcs, cap, sink)
}

func TestRun_TwoRouters_OneAllowsOneBlocks(t *testing.T) {
	tracer := &fakeTracer{trace: model.TraceResult{Routers: []string{"r1", "r2"}}}
	hosts := newFakeHostPool()
	svcs := newFakeServices()
	svcs.traceroute = map[string]any{"hops": 2}
	svcs.probes["80_tcp"] = ProbeResult{
		Reachable: true,
		PerRouter: map[string]bool{"r1": true, "r2": false},
		Raw:       map[string]any{"summary": map[string]any{"successful": 1}},
	}
	cap := newFakeCapturer()
	cap.sequences["r1"] = []model.CounterSnapshot{acceptRuleSnapshot("r1"), acceptRuleAfterSnapshot("r1")}
	cap.snapshots["r2"] = dropPolicySnapshot("r2")
	sink := newFakeSink()

	tr := newTestTester(tracer, hosts, svcs, cap, sink)
	tr.afterSettlePause = 0
	tr.interServicePause = 0
	tr.envSettlePause = 0

	job := model.JobSpec{
		RunID:    "run-1",
		Mode:     model.JobDetailed,
		SourceIP: "10.0.0.1",
		DestIP:   "10.0.0.2",
		Services: []model.ServiceSpec{{Port: 80, Protocol: "tcp"}},
	}

	runDir := t.TempDir()
	summary, err := tr.Run(context.Background(), job, runDir)
	must.NoError(t, err)
	must.Eq(t, "run-1", summary.RunID)
	must.Len(t, 1, summary.Files)
	must.Eq(t, "80_tcp_results.json", summary.Files[0])

	doc, ok := sink.docs["80_tcp_results.json"]
	must.True(t, ok)
	must.Eq(t, model.StatusAllowed, doc.RouterServiceResults["r1"])
	must.Eq(t, model.StatusBlocked, doc.RouterServiceResults["r2"])
	must.False(t, doc.ReachabilitySummary.ServiceReachable)
	must.Eq(t, []string{"r1"}, doc.ReachabilitySummary.ReachableViaRouters)
	must.Eq(t, []string{"r2"}, doc.ReachabilitySummary.BlockedByRouters)
	must.Eq(t, "ephemeral", doc.Summary.SourcePort)

	must.Len(t, 4, hosts.ensured) // source-1, destination-1, source-2, destination-2
	must.SliceContains(t, hosts.released["run-1"], "source-1")
	must.SliceContains(t, hosts.released["run-1"], "destination-2")
	must.Len(t, 1, svcs.started)
	must.Len(t, 1, svcs.stopped)
}

func TestRun_NoRoutersReturnsNoPathFound(t *testing.T) {
	tracer := &fakeTracer{trace: model.TraceResult{Routers: nil}}
	hosts := newFakeHostPool()
	svcs := newFakeServices()
	cap := newFakeCapturer()
	sink := newFakeSink()

	tr := newTestTester(tracer, hosts, svcs, cap, sink)

	job := model.JobSpec{RunID: "run-2", SourceIP: "10.0.0.1", DestIP: "10.0.0.2"}
	_, err := tr.Run(context.Background(), job, t.TempDir())
	must.ErrorIs(t, err, model.ErrNoPathFound)
	must.Len(t, 0, hosts.ensured)
}

func TestRun_HostCreateFailurePropagatesAndStillReleasesPartialHosts(t *testing.T) {
	tracer := &fakeTracer{trace: model.TraceResult{Routers: []string{"r1", "r2"}}}
	hosts := newFakeHostPool()
	hosts.failOn = "source-2"
	svcs := newFakeServices()
	cap := newFakeCapturer()
	sink := newFakeSink()

	tr := newTestTester(tracer, hosts, svcs, cap, sink)
	tr.envSettlePause = 0

	job := model.JobSpec{
		RunID: "run-3", SourceIP: "10.0.0.1", DestIP: "10.0.0.2",
		Services: []model.ServiceSpec{{Port: 80, Protocol: "tcp"}},
	}

	_, err := tr.Run(context.Background(), job, t.TempDir())
	must.Error(t, err)
	must.SliceContains(t, hosts.released["run-3"], "source-1")
	must.SliceContains(t, hosts.released["run-3"], "destination-1")
	// source-2 failed to create, so it was never registered for release.
	for _, name := range hosts.released["run-3"] {
		must.NotEq(t, "source-2", name)
	}
}

func TestRun_MissingAfterSnapshotProducesUnknownStatus(t *testing.T) {
	tracer := &fakeTracer{trace: model.TraceResult{Routers: []string{"r1"}}}
	hosts := newFakeHostPool()
	svcs := newFakeServices()
	svcs.probes["53_udp"] = ProbeResult{Reachable: false, PerRouter: map[string]bool{"r1": false}}
	cap := newFakeCapturer()
	cap.errs["r1"] = errors.New("capture exploded")
	sink := newFakeSink()

	tr := newTestTester(tracer, hosts, svcs, cap, sink)
	tr.afterSettlePause, tr.envSettlePause = 0, 0

	job := model.JobSpec{
		RunID: "run-4", SourceIP: "10.0.0.1", DestIP: "10.0.0.2",
		Services: []model.ServiceSpec{{Port: 53, Protocol: "udp"}},
	}
	_, err := tr.Run(context.Background(), job, t.TempDir())
	must.NoError(t, err)

	doc := sink.docs["53_udp_results.json"]
	must.Len(t, 1, doc.PacketCountAnalysis)
	must.Eq(t, model.StatusUnknown, doc.PacketCountAnalysis[0].Status)
	must.Eq(t, "missing after snapshot", doc.PacketCountAnalysis[0].Description)
}

func TestRun_ReusesPreviousAfterSnapshotAsNextBefore(t *testing.T) {
	tracer := &fakeTracer{trace: model.TraceResult{Routers: []string{"r1"}}}
	hosts := newFakeHostPool()
	svcs := newFakeServices()
	svcs.probes["80_tcp"] = ProbeResult{PerRouter: map[string]bool{"r1": true}}
	svcs.probes["443_tcp"] = ProbeResult{PerRouter: map[string]bool{"r1": true}}
	cap := newFakeCapturer()
	cap.sequences["r1"] = []model.CounterSnapshot{acceptRuleSnapshot("r1"), acceptRuleAfterSnapshot("r1")}
	sink := newFakeSink()

	tr := newTestTester(tracer, hosts, svcs, cap, sink)
	tr.afterSettlePause, tr.interServicePause, tr.envSettlePause = 0, 0, 0

	job := model.JobSpec{
		RunID: "run-5", SourceIP: "10.0.0.1", DestIP: "10.0.0.2",
		Services: []model.ServiceSpec{
			{Port: 80, Protocol: "tcp"},
			{Port: 443, Protocol: "tcp"},
		},
	}
	_, err := tr.Run(context.Background(), job, t.TempDir())
	must.NoError(t, err)
	must.Len(t, 2, sink.docs)
	// Second service's "before" is reused from the first service's
	// "after": since the capturer's sequence sticks on the
	// already-triggered snapshot, the second service sees zero *new*
	// triggered rules and falls through to the FORWARD chain's default
	// ACCEPT policy instead of an explicit rule.
	second := sink.docs["443_tcp_results.json"]
	must.Eq(t, model.ReasonDefaultPolicy, second.PacketCountAnalysis[0].Reason)
}

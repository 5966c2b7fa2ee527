package tester

import (
	"context"
	"fmt"

	"github.com/ksparavec/reachsim/internal/model"
	"github.com/ksparavec/reachsim/internal/pool"
)

// fakeTracer returns a fixed TraceResult regardless of input.
type fakeTracer struct {
	trace model.TraceResult
	err   error
}

func (f *fakeTracer) Trace(_ context.Context, _, _ string) (model.TraceResult, error) {
	return f.trace, f.err
}

// fakeHostPool records every EnsureHost/Release call instead of touching
// any real namespace.
type fakeHostPool struct {
	ensured  []pool.HostRequirement
	released map[string][]string
	failOn   string // host name to fail EnsureHost for, if set
}

func newFakeHostPool() *fakeHostPool {
	return &fakeHostPool{released: map[string][]string{}}
}

func (f *fakeHostPool) EnsureHost(_ context.Context, _ string, req pool.HostRequirement) (model.Host, bool, error) {
	if f.failOn != "" && req.Name == f.failOn {
		return model.Host{}, false, fmt.Errorf("simulated failure for %q", req.Name)
	}
	f.ensured = append(f.ensured, req)
	return model.Host{Name: req.Name}, true, nil
}

func (f *fakeHostPool) Release(jobID string, hostNames []string) {
	f.released[jobID] = append(f.released[jobID], hostNames...)
}

// fakeServices is a scripted ServiceController: callers preload per-port
// probe outcomes, and record start/stop/traceroute calls.
type fakeServices struct {
	started    []string
	stopped    []string
	traceroute any
	traceErr   error
	probes     map[string]ProbeResult
	probeErrs  map[string]error
}

func newFakeServices() *fakeServices {
	return &fakeServices{probes: map[string]ProbeResult{}, probeErrs: map[string]error{}}
}

func (f *fakeServices) StartService(_ context.Context, ip string, port int, protocol string) error {
	f.started = append(f.started, fmt.Sprintf("%s:%d/%s", ip, port, protocol))
	return nil
}

func (f *fakeServices) StopService(_ context.Context, ip string, port int, protocol string) error {
	f.stopped = append(f.stopped, fmt.Sprintf("%s:%d/%s", ip, port, protocol))
	return nil
}

func (f *fakeServices) Traceroute(_ context.Context, _, _ string) (any, error) {
	return f.traceroute, f.traceErr
}

func (f *fakeServices) ProbeService(_ context.Context, _, _ string, port int, protocol string) (ProbeResult, error) {
	key := fmt.Sprintf("%d_%s", port, protocol)
	return f.probes[key], f.probeErrs[key]
}

// fakeCapturer returns scripted snapshots keyed by router. sequences, if
// set for a router, returns one entry per successive call (sticking to
// the last entry once exhausted); snapshots is the fallback for routers
// with no sequence.
type fakeCapturer struct {
	snapshots map[string]model.CounterSnapshot
	sequences map[string][]model.CounterSnapshot
	calls     map[string]int
	errs      map[string]error
}

func newFakeCapturer() *fakeCapturer {
	return &fakeCapturer{
		snapshots: map[string]model.CounterSnapshot{},
		sequences: map[string][]model.CounterSnapshot{},
		calls:     map[string]int{},
		errs:      map[string]error{},
	}
}

func (f *fakeCapturer) Capture(_ context.Context, router string) (model.CounterSnapshot, error) {
	if err, ok := f.errs[router]; ok {
		return model.CounterSnapshot{}, err
	}
	if seq, ok := f.sequences[router]; ok && len(seq) > 0 {
		i := f.calls[router]
		if i >= len(seq) {
			i = len(seq) - 1
		}
		f.calls[router]++
		return seq[i], nil
	}
	return f.snapshots[router], nil
}

// fakeSink records every document written instead of touching disk.
type fakeSink struct {
	docs    map[string]model.ServiceResultDocument
	summary model.RunSummary
}

func newFakeSink() *fakeSink {
	return &fakeSink{docs: map[string]model.ServiceResultDocument{}}
}

func (f *fakeSink) WriteServiceResult(_ string, fileName string, doc model.ServiceResultDocument) error {
	f.docs[fileName] = doc
	return nil
}

func (f *fakeSink) WriteSummary(_ string, summary model.RunSummary) error {
	f.summary = summary
	return nil
}

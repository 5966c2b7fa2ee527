package pool

import (
	"context"
	"errors"
	"net/netip"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/shoenig/test/must"

	"github.com/ksparavec/reachsim/internal/fabric"
	"github.com/ksparavec/reachsim/internal/model"
	netmock "github.com/ksparavec/reachsim/internal/netctl/mock"
	nsmock "github.com/ksparavec/reachsim/internal/nsexec/mock"
	"github.com/ksparavec/reachsim/internal/registry"
)

type fakeTracer struct {
	trace model.TraceResult
	err   error
}

func (f *fakeTracer) Trace(_ context.Context, _, _ string) (model.TraceResult, error) {
	return f.trace, f.err
}

func newBatchTestPool(t *testing.T, net *netmock.Manager, run *nsmock.Runner, tracer Tracer) *Pool {
	reg := registry.NewHostRegistry(filepath.Join(t.TempDir(), "hosts.json"))
	fab := &fabric.FabricHandle{Bridges: map[string]string{"10.1.1.0/24": "br111024"}}
	allFacts := map[string]model.RouterFacts{"r1": facts24("10.1.1.1")}
	return New(hclog.NewNullLogger(), net, run, reg, fab, allFacts, tracer)
}

func expectHostWiring(net *netmock.Manager, run *nsmock.Runner, hostName, gatewayIP, bridge, primaryCIDR string) {
	hash := fabric.HostVethHash(hostName)
	net.Expect(
		netmock.Call{Op: netmock.OpCreateNamespace, Args: []string{hostName}},
		netmock.Call{Op: netmock.OpSetLoopbackUp, Args: []string{hostName}},
		netmock.Call{Op: netmock.OpCreateVethPair, Args: []string{hash + "r", hash + "h"}},
		netmock.Call{Op: netmock.OpMoveLinkToNamespace, Args: []string{hash + "r", hostName}},
		netmock.Call{Op: netmock.OpRenameLink, Args: []string{hostName, hash + "r", "eth0"}},
		netmock.Call{Op: netmock.OpMoveLinkToNamespace, Args: []string{hash + "h", "hidden-mesh"}},
		netmock.Call{Op: netmock.OpSetMaster, Args: []string{"hidden-mesh", hash + "h", bridge}},
		netmock.Call{Op: netmock.OpAddAddress, Args: []string{hostName, "eth0"}, Addr: netip.MustParsePrefix(primaryCIDR)},
		netmock.Call{Op: netmock.OpSetLinkUp, Args: []string{hostName, "eth0"}},
		netmock.Call{Op: netmock.OpSetLinkUp, Args: []string{"hidden-mesh", hash + "h"}},
	)
	run.Expect(
		nsmock.Call{NS: hostName, Argv: []string{"tc", "qdisc", "add", "dev", "eth0", "root", "netem", "delay", "1ms"}},
		nsmock.Call{NS: hostName, Argv: []string{"ip", "route", "add", "default", "via", gatewayIP}},
	)
}

func TestPrepareBatch_CreatesHostAndLaunchesJob(t *testing.T) {
	net := netmock.New(t)
	run := nsmock.New(t)
	expectHostWiring(net, run, "source-1", "10.1.1.1", "br111024", "10.1.1.100/24")

	p := newBatchTestPool(t, net, run, nil)

	job := model.JobSpec{
		RunID:             "job-a",
		SourceIP:          "10.1.1.100",
		DestIP:            "10.1.1.200",
		UserSuppliedTrace: &model.TraceResult{Routers: []string{"r1"}},
	}

	var launched bool
	result, err := p.PrepareBatch(context.Background(), []model.JobSpec{job}, func(_ context.Context, j model.JobSpec, hosts map[string]model.Host) error {
		launched = true
		must.Eq(t, "job-a", j.RunID)
		_, ok := hosts["source-1"]
		must.True(t, ok)
		return nil
	})

	must.NoError(t, err)
	must.True(t, launched)
	must.Eq(t, []string{"source-1"}, result.Created)
	must.Eq(t, 0, len(result.Reused))

	net.AssertExpectations()
	run.AssertExpectations()

	must.True(t, p.state.inUse("source-1"))
}

func TestPrepareBatch_ExecuteFailureReleasesHosts(t *testing.T) {
	net := netmock.New(t)
	run := nsmock.New(t)
	expectHostWiring(net, run, "source-1", "10.1.1.1", "br111024", "10.1.1.100/24")

	p := newBatchTestPool(t, net, run, nil)

	job := model.JobSpec{
		RunID:             "job-a",
		SourceIP:          "10.1.1.100",
		DestIP:            "10.1.1.200",
		UserSuppliedTrace: &model.TraceResult{Routers: []string{"r1"}},
	}

	result, err := p.PrepareBatch(context.Background(), []model.JobSpec{job}, func(context.Context, model.JobSpec, map[string]model.Host) error {
		return errors.New("service probe failed")
	})

	must.NoError(t, err)
	must.Eq(t, 1, len(result.Allocations))
	must.False(t, p.state.inUse("source-1"))

	net.AssertExpectations()
	run.AssertExpectations()
	p.state.hosts["source-1"].timer.Stop()
}

func TestPrepareBatch_UsesTracerWhenNoUserSuppliedTrace(t *testing.T) {
	net := netmock.New(t)
	run := nsmock.New(t)
	expectHostWiring(net, run, "source-1", "10.1.1.1", "br111024", "10.1.1.100/24")

	tracer := &fakeTracer{trace: model.TraceResult{Routers: []string{"r1"}}}
	p := newBatchTestPool(t, net, run, tracer)

	job := model.JobSpec{RunID: "job-a", SourceIP: "10.1.1.100", DestIP: "10.1.1.200"}
	_, err := p.PrepareBatch(context.Background(), []model.JobSpec{job}, func(context.Context, model.JobSpec, map[string]model.Host) error {
		return nil
	})
	must.NoError(t, err)
	net.AssertExpectations()
	run.AssertExpectations()
}

func TestEnsureHost_CreatesAndRegistersSingleHost(t *testing.T) {
	net := netmock.New(t)
	run := nsmock.New(t)
	expectHostWiring(net, run, "destination-1", "10.1.1.1", "br111024", "10.1.1.200/24")

	p := newBatchTestPool(t, net, run, nil)

	host, created, err := p.EnsureHost(context.Background(), "job-a", HostRequirement{
		Name: "destination-1", SourceIP: "10.1.1.200", Router: "r1",
	})
	must.NoError(t, err)
	must.True(t, created)
	must.Eq(t, "destination-1", host.Name)
	must.True(t, p.state.inUse("destination-1"))

	net.AssertExpectations()
	run.AssertExpectations()
}

func TestRemoveManual_RefusesWhenInUse(t *testing.T) {
	net := netmock.New(t)
	run := nsmock.New(t)
	p := newBatchTestPool(t, net, run, nil)

	p.state.register(map[string][]string{"job-a": {"source-1"}})

	err := p.RemoveManual(context.Background(), "source-1")
	must.Error(t, err)
}

func TestRemoveManual_RemovesWhenIdle(t *testing.T) {
	net := netmock.New(t)
	net.Expect(netmock.Call{Op: netmock.OpDeleteNamespace, Args: []string{"source-1"}})
	run := nsmock.New(t)
	p := newBatchTestPool(t, net, run, nil)

	must.NoError(t, p.hosts.Put(model.HostRegistryEntry{Name: "source-1"}))

	must.NoError(t, p.RemoveManual(context.Background(), "source-1"))
	net.AssertExpectations()

	_, ok, err := p.hosts.Get("source-1")
	must.NoError(t, err)
	must.False(t, ok)
}

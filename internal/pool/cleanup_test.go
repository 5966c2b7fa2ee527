package pool

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shoenig/test/must"

	netmock "github.com/ksparavec/reachsim/internal/netctl/mock"
	nsmock "github.com/ksparavec/reachsim/internal/nsexec/mock"
	"github.com/ksparavec/reachsim/internal/registry"
)

func testPool(t *testing.T, net *netmock.Manager, run *nsmock.Runner) *Pool {
	reg := registry.NewHostRegistry(filepath.Join(t.TempDir(), "hosts.json"))
	p := New(hclog.NewNullLogger(), net, run, reg, nil, nil, nil)
	p.recheckInterval = time.Hour // tests drive transitions directly, never via real ticks
	return p
}

func TestScheduleCleanup_PausesWhenDetailedJobRunning(t *testing.T) {
	net := netmock.New(t)
	p := testPool(t, net, nsmock.New(t))
	p.IsDetailedJobRunning = func() bool { return true }

	p.state.register(map[string][]string{"job-a": {"source-1"}})
	p.state.release("job-a", []string{"source-1"})

	p.scheduleCleanup("source-1")

	status := p.Status()
	must.Eq(t, []string{"source-1"}, status.Paused)
	must.Eq(t, 0, len(status.PendingCleanup))

	p.state.hosts["source-1"].timer.Stop()
}

func TestScheduleCleanup_SetsExpiryWhenNoDetailedJob(t *testing.T) {
	net := netmock.New(t)
	p := testPool(t, net, nsmock.New(t))

	p.state.register(map[string][]string{"job-a": {"source-1"}})
	p.state.release("job-a", []string{"source-1"})

	p.scheduleCleanup("source-1")

	status := p.Status()
	must.Eq(t, 1, len(status.PendingCleanup))
	must.Eq(t, "source-1", status.PendingCleanup[0].Host)

	p.state.hosts["source-1"].timer.Stop()
}

func TestRecheckHost_RevivesOnPositiveRefcount(t *testing.T) {
	net := netmock.New(t)
	p := testPool(t, net, nsmock.New(t))

	p.state.register(map[string][]string{"job-a": {"source-1"}})
	p.state.release("job-a", []string{"source-1"})
	p.scheduleCleanup("source-1")
	p.state.hosts["source-1"].timer.Stop()

	p.state.register(map[string][]string{"job-b": {"source-1"}})
	p.recheckHost("source-1")

	must.True(t, p.state.inUse("source-1"))
	must.False(t, p.state.hosts["source-1"].paused)
}

func TestRecheckHost_RemovesAfterGraceExpires(t *testing.T) {
	net := netmock.New(t)
	net.Expect(netmock.Call{Op: netmock.OpDeleteNamespace, Args: []string{"source-1"}})
	run := nsmock.New(t)

	p := testPool(t, net, run)
	p.gracePeriod = -time.Second // already expired the instant it's set

	p.state.register(map[string][]string{"job-a": {"source-1"}})
	p.state.release("job-a", []string{"source-1"})
	p.scheduleCleanup("source-1")
	p.state.hosts["source-1"].timer.Stop()

	p.recheckHost("source-1")

	_, ok := p.state.hosts["source-1"]
	must.False(t, ok)
	net.AssertExpectations()

	_, found, err := p.hosts.Get("source-1")
	must.NoError(t, err)
	must.False(t, found)
}

func TestCancelCleanup_StopsTimerAndClearsState(t *testing.T) {
	net := netmock.New(t)
	p := testPool(t, net, nsmock.New(t))

	p.state.register(map[string][]string{"job-a": {"source-1"}})
	p.state.release("job-a", []string{"source-1"})
	p.scheduleCleanup("source-1")

	p.cancelCleanup("source-1")

	e := p.state.hosts["source-1"]
	must.False(t, e.paused)
	must.Eq(t, (*time.Time)(nil), e.expiry)
}

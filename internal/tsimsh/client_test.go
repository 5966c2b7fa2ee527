package tsimsh

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shoenig/test/must"

	"github.com/ksparavec/reachsim/internal/nsexec"
	nsmock "github.com/ksparavec/reachsim/internal/nsexec/mock"
)

func newTestClient(t *testing.T, stdout string) *Client {
	run := nsmock.New(t)
	run.Expect(nsmock.Call{NS: "", Argv: []string{"tsimsh", "-q"}, Result: &nsexec.Result{Stdout: []byte(stdout)}})
	return New(hclog.NewNullLogger(), run, time.Second)
}

func TestTrace_ExtractsRouterHopsOnly(t *testing.T) {
	c := newTestClient(t, `{"path":[
		{"is_router":false,"name":"source-1"},
		{"is_router":true,"name":"hq-core"},
		{"is_router":true,"name":"br-gw"},
		{"is_router":false,"name":"destination-1"}
	]}`)

	trace, err := c.Trace(context.Background(), "10.1.1.10", "10.2.1.10")
	must.NoError(t, err)
	must.Eq(t, []string{"hq-core", "br-gw"}, trace.Routers)
}

func TestProbeService_MapsStatusesToAllowingBlocking(t *testing.T) {
	c := newTestClient(t, `{"tests":[
		{"via_router":"hq-core","status":"OK","source_port":34567},
		{"via_router":"br-gw","status":"FAIL"}
	]}`)

	result, err := c.ProbeService(context.Background(), "10.1.1.10", "10.2.1.10", 22, "tcp")
	must.NoError(t, err)
	must.True(t, result.PerRouter["hq-core"])
	must.False(t, result.PerRouter["br-gw"])
	must.True(t, result.Reachable)
	must.Eq(t, 34567, result.SourcePort)
}

func TestProbeService_NoOKTestIsNotReachable(t *testing.T) {
	c := newTestClient(t, `{"tests":[{"via_router":"hq-core","status":"TIMEOUT"}]}`)

	result, err := c.ProbeService(context.Background(), "10.1.1.10", "10.2.1.10", 22, "tcp")
	must.NoError(t, err)
	must.False(t, result.Reachable)
}

func TestStartService_NonEmptyOutputIsError(t *testing.T) {
	c := newTestClient(t, "error: address in use")

	err := c.StartService(context.Background(), "10.2.1.10", 80, "tcp")
	must.Error(t, err)
}

package analyzer

import (
	"context"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/ksparavec/reachsim/internal/nsexec"
	nsmock "github.com/ksparavec/reachsim/internal/nsexec/mock"
)

func TestCapture_ParsesRunnerOutput(t *testing.T) {
	run := nsmock.New(t)
	run.Expect(nsmock.Call{
		NS:   "router1",
		Argv: []string{"iptables-save", "-c"},
		Result: &nsexec.Result{Stdout: []byte(
			"*filter\n:FORWARD ACCEPT [0:0]\n[1:60] -A FORWARD -j ACCEPT\nCOMMIT\n")},
	})

	snap, err := Capture(context.Background(), run, "router1")
	must.NoError(t, err)
	must.Eq(t, "router1", snap.Router)
	must.Len(t, 1, snap.Tables["filter"]["FORWARD"].Rules)
	run.AssertExpectations()
}

func TestCapture_WrapsRunnerError(t *testing.T) {
	run := nsmock.New(t)
	run.Expect(nsmock.Call{
		NS:   "router1",
		Argv: []string{"iptables-save", "-c"},
		Err:  context.DeadlineExceeded,
	})

	_, err := Capture(context.Background(), run, "router1")
	must.Error(t, err)
	run.AssertExpectations()
}

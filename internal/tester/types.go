// Package tester implements the Multi-Service Tester (C5): one detailed
// job end-to-end, from path discovery through the per-service JSON
// documents a run produces (§4.5). Grounded on virt/driver.go's
// StartTask/WaitTask/StopTask phase sequencing, generalized from one VM
// lifecycle to the five P1-P5 phases of a reachability run.
package tester

import (
	"context"

	"github.com/ksparavec/reachsim/internal/model"
	"github.com/ksparavec/reachsim/internal/pool"
)

// HostPool is the slice of *pool.Pool the Tester needs: create one
// explicitly-named host per path slot and release its hold when done. The
// Host Pool remains the exclusive owner of namespace lifecycle (§3
// "Ownership"); the Tester never creates or destroys a namespace directly.
type HostPool interface {
	EnsureHost(ctx context.Context, jobID string, req pool.HostRequirement) (model.Host, bool, error)
	Release(jobID string, hostNames []string)
}

// ProbeResult is one service probe's outcome (§4.5 P4 step 2/4).
type ProbeResult struct {
	// Reachable is true when at least one individual test in the probe
	// tool's output shows status "OK". tsimsh.Client does not consult the
	// tool's summary counts when setting it.
	Reachable bool
	// SourcePort is the actual source port the probe used, if the
	// underlying tool reported one; 0 means still unresolved/ephemeral.
	SourcePort int
	// PerRouter carries each on-path router's individual verdict, when
	// the probe tool reports one (keyed "via_router" in its JSON), used
	// to pick the Analyzer mode per router (§4.5 P4 step 4). A router
	// absent from this map is treated conservatively as blocking.
	PerRouter map[string]bool
	// Raw is the decoded JSON body of the probe invocation, embedded
	// verbatim into the service result document's "service.result" field.
	Raw any
}

// ServiceController is the boundary to the higher-level shell (tsimsh)
// for starting/stopping services and running probes (§6 "Required host
// tools"). The production implementation (internal/tsimsh.Client) shells
// out to it; tsimsh itself stays out of scope (§1 "CLI shells"), so tests
// use a fixture-backed fake instead.
type ServiceController interface {
	StartService(ctx context.Context, ip string, port int, protocol string) error
	StopService(ctx context.Context, ip string, port int, protocol string) error
	// Traceroute runs a single bounded traceroute and returns its decoded
	// JSON body (§4.5 P3).
	Traceroute(ctx context.Context, sourceIP, destIP string) (any, error)
	// ProbeService issues one service test with a 1-second timeout and no
	// source port in the request (§4.5 P4 step 2 "no source port included
	// by contract").
	ProbeService(ctx context.Context, sourceIP, destIP string, port int, protocol string) (ProbeResult, error)
}

// SnapshotCapturer acquires one router's iptables counter snapshot
// (§4.5 P4 steps 1/3). Narrows internal/analyzer.Capture to the one
// router argument the Tester needs, so tests can fake it directly instead
// of wiring a full nsexec.Runner.
type SnapshotCapturer interface {
	Capture(ctx context.Context, router string) (model.CounterSnapshot, error)
}

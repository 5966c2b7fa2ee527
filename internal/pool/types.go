// Package pool implements the Host Pool (C3): on-demand endpoint
// namespaces for quick-job batches, reference-counted and cleaned up on a
// grace timer, plus manual lifecycle for detailed jobs. Grounded on
// virt/handle.go's taskHandle: an RWMutex-guarded state struct with a
// ticker-driven background goroutine that rechecks and transitions state
// until the resource is torn down.
package pool

import (
	"context"
	"time"

	"github.com/ksparavec/reachsim/internal/model"
)

// Tracer produces the router path between a source and destination. The
// production implementation (internal/tsimsh.Client) shells out to the
// tsimsh binary, itself out of scope (§1 lists "CLI shells" as an
// external collaborator); tests use a fixture-backed fake instead.
type Tracer interface {
	Trace(ctx context.Context, sourceIP, destIP string) (model.TraceResult, error)
}

// TraceSink persists one job's resolved trace for the run (§4.3 phase 1
// "persist the trace per run"). A nil Pool.TraceSink simply skips
// persistence.
type TraceSink interface {
	SaveTrace(runID string, trace model.TraceResult) error
}

// HostRequirement is one (source_ip, router) pair the batch's jobs need a
// host for, after union-ing every job's path (§4.3 phase 2).
type HostRequirement struct {
	Name            string // source-<n>, assigned in stable batch order
	SourceIP        string
	Router          string
	SecondaryCIDRs  []string
}

// JobAllocation is the per-job outcome of a batch: the hosts that satisfy
// its path, keyed by HostRequirement.Name. Hosts is nil when the job's
// ExecuteFunc returned an error.
type JobAllocation struct {
	Job   model.JobSpec
	Hosts map[string]model.Host // host requirement name -> materialized Host
}

// BatchResult is PrepareBatch's return value (§4.3).
type BatchResult struct {
	Allocations []JobAllocation
	Created     []string // host names created by this batch (CREATED, not REUSED)
	Reused      []string // host names already present (REUSED)
}

// PendingCleanup describes one host counting down to removal (§4.3 cleanup
// rules).
type PendingCleanup struct {
	Host   string
	Expiry time.Time
}

// PoolStatus is Status's return value (§4.3).
type PoolStatus struct {
	ActiveHosts    []string
	PendingCleanup []PendingCleanup
	Paused         []string // hosts paused for detailed jobs
}

// ExecuteFunc runs one job against its allocated hosts. A non-nil error
// causes PrepareBatch to release that job's hosts immediately (§4.3 phase
// 5).
type ExecuteFunc func(ctx context.Context, job model.JobSpec, hosts map[string]model.Host) error

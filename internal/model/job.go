package model

import "time"

// JobMode classifies a JobSpec as quick (non-mutating, parallelizable) or
// detailed (mutating, serialized) per §3/§4.6.
type JobMode string

const (
	JobQuick    JobMode = "quick"
	JobDetailed JobMode = "detailed"
)

// ServiceSpec is one (port, protocol) pair requested for a job, with an
// optional human label. Name is supplemental over spec.md: original_source's
// network_reachability_test_multi.py attaches a label per service for
// report rendering; kept here even though report rendering itself is out
// of scope (§1), so a future ReportSink implementation has it available.
type ServiceSpec struct {
	Port     int
	Protocol string
	Name     string
}

// JobSpec is one submitted reachability request (§3).
type JobSpec struct {
	RunID             string
	Mode              JobMode
	SourceIP          string
	SourcePort        int // 0 means unset/ephemeral
	DestIP            string
	Services          []ServiceSpec
	UserSuppliedTrace *TraceResult
	CreatorTag        string
	SubmittedAt       time.Time
}

// TraceResult is the ordered router path produced by (or supplied to) path
// discovery (§4.5 P1).
type TraceResult struct {
	Routers    []string
	RawJSON    []byte
	UserTraced bool
}

// RouterStatus is a per-router reachability verdict for one service test
// (§3 PacketTestResult).
type RouterStatus string

const (
	StatusAllowed RouterStatus = "ALLOWED"
	StatusBlocked RouterStatus = "BLOCKED"
	StatusUnknown RouterStatus = "UNKNOWN"
)

// PacketTestResult is the per-service outcome of testing one
// (source_ip, source_port, dest_ip, dest_port/protocol) tuple (§3).
type PacketTestResult struct {
	SourceIP       string
	SourcePort     int
	DestIP         string
	DestPort       int
	Protocol       string
	PerRouter      map[string]RouterStatus
	Attribution    map[string]AnalysisResult
	Reachable      bool
}

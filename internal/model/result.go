package model

// ServiceResultDocument is the per-(port, protocol) JSON document the
// Tester writes into a run directory (§6 "Service result document"). Field
// names are external contract: consumers outside this module read this
// exact shape.
type ServiceResultDocument struct {
	Timestamp            string                  `json:"timestamp"`
	Version              string                  `json:"version"`
	Summary              ResultSummary           `json:"summary"`
	SetupStatus          SetupStatus             `json:"setup_status"`
	ReachabilityTests     ReachabilityTests      `json:"reachability_tests"`
	PacketCountAnalysis  []AnalysisResult        `json:"packet_count_analysis"`
	RouterServiceResults map[string]RouterStatus `json:"router_service_results"`
	OperationalSummary   []string                `json:"operational_summary"`
	TotalDurationSeconds float64                 `json:"total_duration_seconds"`
	ReachabilitySummary  ReachabilitySummary     `json:"reachability_summary"`
}

// ResultSummary identifies the tested tuple. SourcePort holds either an
// int (caller-supplied source port) or the literal string "ephemeral"
// (§3 JobSpec "optional source_port"), matching §6's documented union.
type ResultSummary struct {
	SourceIP        string `json:"source_ip"`
	SourcePort      any    `json:"source_port"`
	DestinationIP   string `json:"destination_ip"`
	DestinationPort int    `json:"destination_port"`
	Protocol        string `json:"protocol"`
}

// SetupStatus reports whether P2's environment setup had to act or found
// everything already in place (§4.5 P2).
type SetupStatus struct {
	SourceHostAdded      bool `json:"source_host_added"`
	DestinationHostAdded bool `json:"destination_host_added"`
	ServiceStarted       bool `json:"service_started"`
}

// ProbeOutcome is one probe's raw tool output plus a derived exit status.
// Result holds the decoded JSON body of the underlying tsimsh invocation
// (a nested object, not a scalar), matching §6's "reachability_tests"
// shape, where "result" carries the full traceroute/service-test document.
type ProbeOutcome struct {
	Result     any `json:"result"`
	ReturnCode int `json:"return_code"`
}

// ReachabilityTests holds every probe run for one service (§4.5 P3/P4).
// Ping is always null: the Tester never pings (§4.5 P3 "No ping").
type ReachabilityTests struct {
	Ping       any          `json:"ping"`
	Traceroute ProbeOutcome `json:"traceroute"`
	Service    ProbeOutcome `json:"service"`
}

// ReachabilitySummary is the service-level reachability verdict derived
// from every on-path router's attribution (§3 PacketTestResult
// "reachable iff every on-path router reports ALLOWED").
type ReachabilitySummary struct {
	ServiceReachable    bool     `json:"service_reachable"`
	ReachableViaRouters []string `json:"reachable_via_routers"`
	BlockedByRouters    []string `json:"blocked_by_routers"`
}

// RunSummary is summary.json: the run's service result files and the
// source port actually used for each, since an unset JobSpec.SourcePort
// resolves to an OS-assigned ephemeral port discovered only at probe time
// (§4.5 P5 "derived source ports").
type RunSummary struct {
	RunID       string         `json:"run_id"`
	Files       []string       `json:"files"`
	SourcePorts map[string]int `json:"source_ports"`
}

// ReportSink is where a Tester run's output goes: one document per
// service plus a run summary. The production sink is a JSON-file writer
// (internal/tester.FileSink); PDF/report rendering and any HTTP front end
// are out of scope (§1) and would consume a ReportSink implementation of
// their own.
type ReportSink interface {
	WriteServiceResult(runDir string, fileName string, doc ServiceResultDocument) error
	WriteSummary(runDir string, summary RunSummary) error
}

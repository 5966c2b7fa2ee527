package model

import "encoding/json"

// Rule is one iptables rule as recorded in a CounterSnapshot (§3).
type Rule struct {
	Index   int    `json:"rule_index"`
	Chain   string `json:"chain,omitempty"`
	Raw     string `json:"raw"`
	Target  string `json:"target"`
	Packets uint64 `json:"packets"`

	// Extracted display metadata (§4.4 step 2), parsed from Raw by
	// analyzer.ParseSave for every rule it reads.
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination,omitempty"`
	Protocol    string `json:"protocol,omitempty"`
	DPorts      string `json:"dports,omitempty"`
	SPorts      string `json:"sports,omitempty"`
}

// Chain holds one chain's default policy ("-" for user-defined chains, as
// iptables-save writes it) and its ordered rule list.
type Chain struct {
	Policy string
	Rules  []Rule
}

// Table maps chain name to Chain.
type Table map[string]Chain

// CounterSnapshot is a full per-router iptables counter snapshot, taken
// strictly before or after one service probe (§3).
type CounterSnapshot struct {
	Router string
	Tables map[string]Table // table name -> Table
}

// AnalysisMode selects which Analyzer branch to run for one router (§4.4).
type AnalysisMode string

const (
	ModeBlocking AnalysisMode = "blocking"
	ModeAllowing AnalysisMode = "allowing"
)

// AnalysisReason is the Analyzer's classification of why a router allowed
// or blocked the probe (§4.4).
type AnalysisReason string

const (
	ReasonExplicitRules    AnalysisReason = "explicit_rules"
	ReasonDefaultPolicy    AnalysisReason = "default_policy"
	ReasonDefaultPolicyNew AnalysisReason = "default_policy_new"
	ReasonImplicitReturn   AnalysisReason = "implicit_return"
	ReasonNoBlockingFound  AnalysisReason = "no_blocking_found"
	ReasonNoAllowingFound  AnalysisReason = "no_allowing_found"
)

// AnalysisResult is the structured output of one Analyzer invocation for
// one router (§4.4 step 5).
type AnalysisResult struct {
	Router      string
	Mode        AnalysisMode
	Status      RouterStatus
	Reason      AnalysisReason
	Description string
	Details     string
	RulesFound  int

	BlockingRules []Rule
	AllowingRules []Rule
}

// MarshalJSON nests Status/Reason/Description/Details/RulesFound under a
// "result" object, matching §6 "packet_count_analysis[]"'s documented
// shape: "{router, mode, result: {status, reason, description, details,
// rules_found}, blocking_rules[], allowing_rules[]}". The Go struct stays
// flat since every internal caller (analyzer, tester) reads these fields
// directly; only the external document needs the nesting.
func (r AnalysisResult) MarshalJSON() ([]byte, error) {
	type resultObj struct {
		Status      RouterStatus   `json:"status"`
		Reason      AnalysisReason `json:"reason"`
		Description string         `json:"description"`
		Details     string         `json:"details"`
		RulesFound  int            `json:"rules_found"`
	}
	type wire struct {
		Router        string    `json:"router"`
		Mode          AnalysisMode `json:"mode"`
		Result        resultObj `json:"result"`
		BlockingRules []Rule    `json:"blocking_rules"`
		AllowingRules []Rule    `json:"allowing_rules"`
	}
	return json.Marshal(wire{
		Router: r.Router,
		Mode:   r.Mode,
		Result: resultObj{
			Status:      r.Status,
			Reason:      r.Reason,
			Description: r.Description,
			Details:     r.Details,
			RulesFound:  r.RulesFound,
		},
		BlockingRules: r.BlockingRules,
		AllowingRules: r.AllowingRules,
	})
}

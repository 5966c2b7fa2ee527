package analyzer

import (
	"regexp"

	"github.com/ksparavec/reachsim/internal/model"
)

var (
	sourceRe = regexp.MustCompile(`-s\s+(\S+)`)
	destRe   = regexp.MustCompile(`-d\s+(\S+)`)
	protoRe  = regexp.MustCompile(`-p\s+(\S+)`)
	dportRe  = regexp.MustCompile(`--dports?\s+(\S+)`)
	sportRe  = regexp.MustCompile(`--sports?\s+(\S+)`)
)

// extractRuleMetadata fills in r's display fields from its raw rule text
// (§4.4 step 2). Absent fields are left blank; not every rule constrains
// source, destination, protocol, or ports.
func extractRuleMetadata(r *model.Rule) {
	if m := sourceRe.FindStringSubmatch(r.Raw); m != nil {
		r.Source = m[1]
	}
	if m := destRe.FindStringSubmatch(r.Raw); m != nil {
		r.Destination = m[1]
	}
	if m := protoRe.FindStringSubmatch(r.Raw); m != nil {
		r.Protocol = m[1]
	}
	if m := dportRe.FindStringSubmatch(r.Raw); m != nil {
		r.DPorts = m[1]
	}
	if m := sportRe.FindStringSubmatch(r.Raw); m != nil {
		r.SPorts = m[1]
	}
}

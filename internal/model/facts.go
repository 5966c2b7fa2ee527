package model

import "regexp"

// routerNameRe matches a DNS-label shaped router name (RFC 1123), the shape
// §3 requires for RouterFacts.Name.
var routerNameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9\-]{0,61}[a-z0-9])?$`)

// IsValidRouterName reports whether name has DNS-label shape.
func IsValidRouterName(name string) bool {
	return name != "" && routerNameRe.MatchString(name)
}

// Required and recognized raw-facts section names (§4.1, §6). Metadata is
// ancillary, like iptables_filter|nat|mangle and ipset_list: present only
// on routers that carry supplemental bookkeeping (§4.8 router registry,
// Fabric Builder step 8).
const (
	SectionInterfaces   = "interfaces"
	SectionRoutingTable = "routing_table"
	SectionPolicyRules  = "policy_rules"
	SectionIPTablesSave = "iptables_save"
	SectionIPSetSave    = "ipset_save"
	SectionMetadata     = "metadata"
)

// Section is one named, block-delimited payload parsed from a raw-facts
// file (§4.1). Payload is preserved verbatim so later restore tools (the
// Fabric Builder) can hand it straight to iptables-restore/ipset/ip.
type Section struct {
	Name      string
	Title     string
	Command   string
	Timestamp string
	Payload   string
	ExitCode  int
}

// RouterFacts is the immutable-after-load parsed content of one
// "<router>_facts.txt" file.
type RouterFacts struct {
	Name     string
	Sections map[string]Section
	// Metadata carries the parsed "metadata" section, if the router's
	// raw-facts file has one: its type/role, and whether it is a VPN
	// gateway (used by Fabric Builder step 8 to decide whether to attach
	// simulated netem latency, and by the router registry, §4.8). Sourced
	// from original_source's network_namespace_setup.py, which loads a
	// per-router JSON sidecar and checks metadata.type == "gateway" plus a
	// wg0 interface before attaching VPN latency — folded here into the
	// same block-delimited raw-facts file rather than a separate sidecar.
	Metadata RouterMetadata
}

// RouterMetadata is the supplemental per-router metadata parsed from the
// "metadata" section (§4.8 router registry: "type, role, declared
// interfaces"; Fabric Builder step 8: "identified by a metadata flag in
// the router record").
type RouterMetadata struct {
	Type         string // e.g. "gateway", "core", "leaf"
	Role         string
	IsVPNGateway bool
	VPNInterface string
}

// RoutingTableSection returns the section name for a named routing table,
// e.g. SectionRoutingTable or "routing_table_<alias>".
func RoutingTableSection(alias string) string {
	if alias == "" {
		return SectionRoutingTable
	}
	return SectionRoutingTable + "_" + alias
}

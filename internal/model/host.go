package model

import "time"

// ConnectionType describes how a dynamic Host attaches to the topology —
// either to a specific router (the common case) or directly to a subnet.
type ConnectionType string

const (
	ConnectionToRouter ConnectionType = "router"
	ConnectionToSubnet ConnectionType = "subnet"
)

// Host is a dynamic endpoint namespace (§3 "Host (dynamic endpoint)").
type Host struct {
	Name            string
	PrimaryCIDR     string
	SecondaryCIDRs  []string
	// DummyInterfaceNames holds the dummyN interface names carrying the
	// SecondaryCIDRs, in the same order. Supplemental over spec.md per
	// original_source/host_namespace_setup.py, so Host Pool cleanup can
	// enumerate and remove them deterministically without re-deriving
	// names from the CIDR list.
	DummyInterfaceNames []string
	ConnectedRouter     string
	ConnectionType      ConnectionType
	GatewayIP           string
	MeshVethName        string
	MeshBridge          string
}

// HostRegistryEntry is the §3 source-of-truth record for one Host, kept in
// the host registry (C8) so cleanup can proceed even across process
// restarts.
type HostRegistryEntry struct {
	Name              string
	PrimaryIP         string
	SecondaryIPs      []string
	ConnectedRouter   string
	GatewayIP         string
	CreationTimestamp time.Time
	CreatorTag        string
	MeshBridge        string
	MeshVethName      string
	ConnectionType    ConnectionType
}

// InterfaceNameMapping records the short_name <-> original_name
// relationship forced by the 15-character Linux interface-name limit (§3).
type InterfaceNameMapping struct {
	ShortName    string
	OriginalName string
}

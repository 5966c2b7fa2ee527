package model

import "net/netip"

// Interface is one network interface declared in a router's "interfaces"
// section (§3). Loopback is excluded by the loader.
type Interface struct {
	Name      string
	Flags     []string
	Addresses []netip.Prefix
}

// SubnetKind classifies a Subnet by its member count (§3).
type SubnetKind string

const (
	SubnetExternal      SubnetKind = "external"       // one member
	SubnetPointToPoint  SubnetKind = "point_to_point"  // two members
	SubnetBridged       SubnetKind = "bridged"         // three or more members
)

// SubnetMember identifies one (router, interface, ip) tuple that belongs to
// a Subnet.
type SubnetMember struct {
	Router    string
	Interface string
	IP        netip.Addr
}

// Subnet is a CIDR-keyed collection of router interface memberships (§3).
type Subnet struct {
	CIDR    netip.Prefix
	Members []SubnetMember
}

// Kind classifies the subnet by its member count.
func (s *Subnet) Kind() SubnetKind {
	switch len(s.Members) {
	case 1:
		return SubnetExternal
	case 2:
		return SubnetPointToPoint
	default:
		return SubnetBridged
	}
}

// Key returns the CIDR string used as the map key for this subnet
// throughout the fabric and registries.
func (s *Subnet) Key() string {
	return s.CIDR.String()
}

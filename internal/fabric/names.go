package fabric

import (
	"net/netip"
	"strconv"
	"strings"
)

const maxIfaceNameLen = 15

// bridgeName derives the hidden-mesh bridge name for one subnet (§4.2 step
// 4): "br<compressed-ip><prefix>" dropping trailing-zero octets, falling
// back to "br<md5(subnet)[0:8]>" when that would exceed the 15-character
// interface-name limit.
func bridgeName(subnet netip.Prefix) string {
	if subnet.Addr().Is4() {
		if name := compressedIPv4BridgeName(subnet); len(name) <= maxIfaceNameLen {
			return name
		}
	}
	return "br" + shortHash(subnet.String())
}

func compressedIPv4BridgeName(subnet netip.Prefix) string {
	octets := subnet.Addr().As4()

	last := 3
	for last > 0 && octets[last] == 0 {
		last--
	}

	var b strings.Builder
	b.WriteString("br")
	for i := 0; i <= last; i++ {
		b.WriteString(strconv.Itoa(int(octets[i])))
	}
	b.WriteString(strconv.Itoa(subnet.Bits()))
	return b.String()
}

// RouterCodePrefix, HiddenMeshNamespace and MeshBridgePrefix identify names
// the fabric's own cleanup sweeps are allowed to touch (§4.2 cleanup rules). Exported so
// internal/pool (which creates dynamic hosts) shares the exact same
// patterns rather than re-deriving them.
const (
	RouterCodePrefix    = "r"
	HiddenMeshNamespace = "hidden-mesh"
	MeshBridgePrefix    = "m"
)

// HostVethHash returns a short, stable identifier derived from a host name
// for use in veth endpoint names that must fit the 15-character limit
// (§4.3 "short veth names use the host-name hash"). Exported so
// internal/pool, which owns dynamic-host veth naming, shares the same
// derivation as the router-interface naming in this package.
func HostVethHash(hostName string) string {
	return shortHash(hostName)[:6]
}

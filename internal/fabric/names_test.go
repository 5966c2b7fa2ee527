package fabric

import (
	"net/netip"
	"testing"

	"github.com/shoenig/test/must"
)

func TestBridgeName_CompressedDottingTrailingZeros(t *testing.T) {
	must.Eq(t, "br100124", bridgeName(netip.MustParsePrefix("10.0.1.0/24")))
	must.Eq(t, "br192168124", bridgeName(netip.MustParsePrefix("192.168.1.0/24")))
}

func TestBridgeName_FallsBackToHashWhenTooLong(t *testing.T) {
	name := bridgeName(netip.MustParsePrefix("223.255.255.255/32"))
	must.True(t, len(name) <= maxIfaceNameLen)
	must.StrContains(t, name, "br")
}

func TestBridgeName_Deterministic(t *testing.T) {
	p := netip.MustParsePrefix("10.0.1.0/24")
	must.Eq(t, bridgeName(p), bridgeName(p))
}

func TestHostVethHash_StableAndShort(t *testing.T) {
	a := HostVethHash("source-1")
	b := HostVethHash("source-1")
	must.Eq(t, a, b)
	must.Eq(t, 6, len(a))
}

func TestHostVethHash_DiffersByName(t *testing.T) {
	must.NotEq(t, HostVethHash("source-1"), HostVethHash("source-2"))
}

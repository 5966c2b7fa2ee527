package pool

import (
	"fmt"
	"net/netip"

	"github.com/ksparavec/reachsim/internal/facts"
	"github.com/ksparavec/reachsim/internal/model"
)

// findRouterAttachment locates the interface on rf whose declared subnet
// overlaps the host's primary /24 network, returning that interface's
// address as the host's default gateway and the exact subnet the Fabric
// Builder keyed its bridge by. Grounded on
// original_source/host_namespace_setup.py's find_router_for_subnet /
// get_default_gateway, which resolve both the gateway and the mesh bridge
// from the same router-subnets-overlap lookup; spec.md names only the
// outcome ("gateway IP", "auto-detect the bridge"), not this lookup.
func findRouterAttachment(rf model.RouterFacts, primaryCIDR string) (gatewayIP string, subnet netip.Prefix, err error) {
	hostPrefix, err := netip.ParsePrefix(primaryCIDR)
	if err != nil {
		return "", netip.Prefix{}, fmt.Errorf("pool: parse primary CIDR %q: %w", primaryCIDR, err)
	}
	hostNet := hostPrefix.Masked()

	ifaces, err := facts.Interfaces(rf)
	if err != nil {
		return "", netip.Prefix{}, fmt.Errorf("pool: read interfaces for router %q: %w", rf.Name, err)
	}

	for _, iface := range ifaces {
		for _, addr := range iface.Addresses {
			candidate := addr.Masked()
			if candidate.Overlaps(hostNet) {
				return addr.Addr().String(), candidate, nil
			}
		}
	}

	return "", netip.Prefix{}, fmt.Errorf("%w: no interface on router %q overlaps %s",
		model.ErrHostCreateFailed, rf.Name, primaryCIDR)
}

// Package fabric builds and tears down the hidden-mesh namespace fabric
// that reconstructs a router topology from raw facts (C2). Grounded on
// libvirt/net/net_linux.go's ensure/configure/teardown sequencing, adapted
// from libvirt network objects to direct Linux namespace/veth/bridge
// primitives via internal/netctl and internal/nsexec.
package fabric

import (
	"crypto/md5"
	"fmt"
	"sort"
)

// routerCodes assigns each router a stable, sortable code r000, r001, …
// (§4.2 step 2). Codes are deterministic across runs given the same set of
// router names.
func routerCodes(names []string) map[string]string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	codes := make(map[string]string, len(sorted))
	for i, name := range sorted {
		codes[name] = fmt.Sprintf("r%03d", i)
	}
	return codes
}

// abbreviateInterface shortens an interface name to fit the veth endpoint
// naming scheme: names of length <= 5 pass through verbatim; longer names
// use the first 4 characters plus the last character (§4.2 step 2).
func abbreviateInterface(name string) string {
	if len(name) <= 5 {
		return name
	}
	return name[:4] + name[len(name)-1:]
}

// vethEndpointNames returns the router-side and hidden-side veth endpoint
// names for one router interface: "<code><abbr>r" and "<code><abbr>h".
// Both must fit Linux's 15-character interface name limit; router codes
// are 4 characters and abbreviations are at most 5, so the longest
// possible endpoint name is 10 characters.
func vethEndpointNames(code, ifaceName string) (routerSide, hiddenSide string) {
	abbr := abbreviateInterface(ifaceName)
	return code + abbr + "r", code + abbr + "h"
}

// shortHash returns an 8-character hex fallback identifier for names that
// would otherwise exceed the 15-character interface-name limit.
func shortHash(s string) string {
	sum := md5.Sum([]byte(s))
	return fmt.Sprintf("%x", sum)[:8]
}

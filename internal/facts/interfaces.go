package facts

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/ksparavec/reachsim/internal/model"
)

// ifaceHeaderRe matches an `ip addr show` interface header line, e.g.
// "2: eth0@if7: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 ...".
var ifaceHeaderRe = regexp.MustCompile(`^\d+:\s+([^:\s]+):\s+<([^>]*)>`)

// addrLineRe matches an address line under an interface, e.g.
// "    inet 192.168.1.1/24 brd 192.168.1.255 scope global eth0".
var addrLineRe = regexp.MustCompile(`^\s*inet6?\s+(\S+)`)

// parseInterfaces parses the payload of the "interfaces" section, the text
// output of an `ip addr show` style listing, into declared interfaces.
// Loopback is excluded per §3.
func parseInterfaces(payload string) ([]model.Interface, error) {
	var ifaces []model.Interface
	var current *model.Interface

	flush := func() {
		if current != nil && current.Name != "lo" {
			ifaces = append(ifaces, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(payload, "\n") {
		if m := ifaceHeaderRe.FindStringSubmatch(line); m != nil {
			flush()
			name := strings.SplitN(m[1], "@", 2)[0]
			current = &model.Interface{
				Name:  name,
				Flags: splitFlags(m[2]),
			}
			continue
		}
		if current == nil {
			continue
		}
		if m := addrLineRe.FindStringSubmatch(line); m != nil {
			prefix, err := netip.ParsePrefix(m[1])
			if err != nil {
				return nil, fmt.Errorf("%w: interface %q has unparsable address %q: %v",
					model.ErrFactsMalformed, current.Name, m[1], err)
			}
			current.Addresses = append(current.Addresses, prefix)
		}
	}
	flush()

	return ifaces, nil
}

func splitFlags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

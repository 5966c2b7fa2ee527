package fabric

import "regexp"

// Patterns identifying fabric-owned namespaces/interfaces, so cleanup
// sweeps only ever touch what this system created (§4.2 cleanup rules:
// "never touch unrelated system namespaces").
var (
	routerNamespaceRe = regexp.MustCompile(`^r\d{3}$`)
	vethEndpointRe    = regexp.MustCompile(`^(r\d{3}|[0-9a-f]{6})[a-zA-Z0-9]{0,5}[rh]$`)
	meshBridgeRe      = regexp.MustCompile(`^m\d+$`)
	bridgeRe          = regexp.MustCompile(`^br[0-9a-f]+$`)
)

// isSimulationNamespace reports whether name is one this fabric would have
// created: a router code namespace or the hidden-mesh namespace.
func isSimulationNamespace(name string) bool {
	return name == HiddenMeshNamespace || routerNamespaceRe.MatchString(name)
}

// isSimulationInterface reports whether name matches one of the naming
// patterns this fabric or the host pool uses: router/host veth endpoints,
// subnet bridges, or mesh bridges.
func isSimulationInterface(name string) bool {
	return vethEndpointRe.MatchString(name) || meshBridgeRe.MatchString(name) || bridgeRe.MatchString(name)
}

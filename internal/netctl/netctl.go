// Package netctl wraps the Linux network-namespace and link primitives
// (namespaces, veth pairs, bridges, addresses) used by the Fabric Builder
// (§4.2) and Host Pool (§4.3) to materialize the hidden-mesh topology.
// Grounded on libvirt/net/net_linux.go's namespace/bridge plumbing, backed
// by github.com/vishvananda/netlink + netns (already an indirect dependency
// of the teacher via its nomad/go-set chain; promoted to direct here since
// reachsim calls them directly instead of going through libvirt).
package netctl

import "net/netip"

// Manager is the narrow interface over namespace/link primitives so it can
// be faked in unit tests; the real implementation (netctl_linux.go) talks
// to the kernel through netlink and netns.
type Manager interface {
	// CreateNamespace creates a new named network namespace.
	CreateNamespace(name string) error
	// DeleteNamespace removes a named network namespace. Idempotent: a
	// missing namespace is not an error.
	DeleteNamespace(name string) error
	// NamespaceExists reports whether the named namespace exists.
	NamespaceExists(name string) (bool, error)

	// CreateVethPair creates a veth pair in the current (host) namespace
	// with the given endpoint names.
	CreateVethPair(nameA, nameB string) error

	// MoveLinkToNamespace moves the named host-namespace link into the
	// named target namespace.
	MoveLinkToNamespace(linkName, nsName string) error

	// RenameLink renames a link inside the named namespace.
	RenameLink(nsName, oldName, newName string) error

	// SetLinkUp brings a link up inside the named namespace.
	SetLinkUp(nsName, linkName string) error

	// AddAddress assigns a CIDR address to a link inside the named
	// namespace.
	AddAddress(nsName, linkName string, addr netip.Prefix) error

	// CreateBridge creates a Linux bridge inside the named namespace.
	CreateBridge(nsName, bridgeName string) error

	// SetMaster enslaves linkName to bridgeName, both inside nsName.
	SetMaster(nsName, linkName, bridgeName string) error

	// SetLoopbackUp brings lo up inside the named namespace.
	SetLoopbackUp(nsName string) error

	// EnableForwarding turns on IPv4 forwarding inside the named
	// namespace.
	EnableForwarding(nsName string) error

	// LinkExists reports whether a link with the given name exists inside
	// the named namespace.
	LinkExists(nsName, linkName string) (bool, error)

	// ListNamespaces lists all network namespaces visible to the host,
	// used by cleanup sweeps (§4.2 cleanup rules).
	ListNamespaces() ([]string, error)

	// ListLinks lists the names of every link inside the named namespace
	// (nsName == "" means the caller's current/host namespace), used by
	// cleanup_host_ns_leaks and the fabric cleanup sweeps.
	ListLinks(nsName string) ([]string, error)

	// DeleteLink removes a link inside the named namespace. Idempotent: a
	// missing link is not an error.
	DeleteLink(nsName, linkName string) error

	// CreateDummyLink creates a dummy-type link inside the named namespace,
	// used by the Host Pool (§4.3) to carry a host's secondary CIDRs.
	CreateDummyLink(nsName, linkName string) error
}

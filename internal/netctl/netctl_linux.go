//go:build linux

package netctl

import (
	"fmt"
	"net/netip"
	"os"
	"runtime"

	"github.com/hashicorp/go-hclog"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// manager is the real Manager, built on vishvananda/netlink + netns.
//
// Most operations use netlink.NewHandleAt(ns) to address a target
// namespace's netlink socket directly, which avoids moving the calling
// goroutine's OS thread in and out of namespaces. Operations that must
// touch namespaced procfs (sysctls for forwarding) do require entering the
// namespace; those lock the OS thread for the duration, per the standard
// vishvananda/netns caller contract.
type manager struct {
	logger hclog.Logger
}

// New returns the production netctl.Manager.
func New(logger hclog.Logger) Manager {
	return &manager{logger: logger.Named("netctl")}
}

func (m *manager) CreateNamespace(name string) error {
	cur, err := netns.Get()
	if err != nil {
		return fmt.Errorf("netctl: get current namespace: %w", err)
	}
	defer cur.Close()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	newNs, err := netns.NewNamed(name)
	if err != nil {
		_ = netns.Set(cur)
		return fmt.Errorf("netctl: create namespace %q: %w", name, err)
	}
	defer newNs.Close()

	return netns.Set(cur)
}

func (m *manager) DeleteNamespace(name string) error {
	if err := netns.DeleteNamed(name); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("netctl: delete namespace %q: %w", name, err)
	}
	return nil
}

func (m *manager) NamespaceExists(name string) (bool, error) {
	h, err := netns.GetFromName(name)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer h.Close()
	return true, nil
}

func (m *manager) ListNamespaces() ([]string, error) {
	entries, err := os.ReadDir("/var/run/netns")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("netctl: list namespaces: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (m *manager) CreateVethPair(nameA, nameB string) error {
	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: nameA},
		PeerName:  nameB,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return fmt.Errorf("netctl: create veth %s<->%s: %w", nameA, nameB, err)
	}
	return nil
}

func (m *manager) MoveLinkToNamespace(linkName, nsName string) error {
	link, err := netlink.LinkByName(linkName)
	if err != nil {
		return fmt.Errorf("netctl: lookup link %q: %w", linkName, err)
	}

	ns, err := netns.GetFromName(nsName)
	if err != nil {
		return fmt.Errorf("netctl: lookup namespace %q: %w", nsName, err)
	}
	defer ns.Close()

	if err := netlink.LinkSetNsFd(link, int(ns)); err != nil {
		return fmt.Errorf("netctl: move link %q to namespace %q: %w", linkName, nsName, err)
	}
	return nil
}

// handleAt returns a netlink.Handle scoped to the named namespace. Callers
// must Close the handle.
func handleAt(nsName string) (*netlink.Handle, func(), error) {
	ns, err := netns.GetFromName(nsName)
	if err != nil {
		return nil, nil, fmt.Errorf("netctl: lookup namespace %q: %w", nsName, err)
	}

	h, err := netlink.NewHandleAt(ns)
	if err != nil {
		ns.Close()
		return nil, nil, fmt.Errorf("netctl: open handle in namespace %q: %w", nsName, err)
	}

	cleanup := func() {
		h.Close()
		ns.Close()
	}
	return h, cleanup, nil
}

func (m *manager) RenameLink(nsName, oldName, newName string) error {
	h, done, err := handleAt(nsName)
	if err != nil {
		return err
	}
	defer done()

	link, err := h.LinkByName(oldName)
	if err != nil {
		return fmt.Errorf("netctl: lookup link %q in %q: %w", oldName, nsName, err)
	}
	if err := h.LinkSetName(link, newName); err != nil {
		return fmt.Errorf("netctl: rename %q to %q in %q: %w", oldName, newName, nsName, err)
	}
	return nil
}

func (m *manager) SetLinkUp(nsName, linkName string) error {
	h, done, err := handleAt(nsName)
	if err != nil {
		return err
	}
	defer done()

	link, err := h.LinkByName(linkName)
	if err != nil {
		return fmt.Errorf("netctl: lookup link %q in %q: %w", linkName, nsName, err)
	}
	if err := h.LinkSetUp(link); err != nil {
		return fmt.Errorf("netctl: set link %q up in %q: %w", linkName, nsName, err)
	}
	return nil
}

func (m *manager) SetLoopbackUp(nsName string) error {
	return m.SetLinkUp(nsName, "lo")
}

func (m *manager) AddAddress(nsName, linkName string, addr netip.Prefix) error {
	h, done, err := handleAt(nsName)
	if err != nil {
		return err
	}
	defer done()

	link, err := h.LinkByName(linkName)
	if err != nil {
		return fmt.Errorf("netctl: lookup link %q in %q: %w", linkName, nsName, err)
	}

	nlAddr, err := netlink.ParseAddr(addr.String())
	if err != nil {
		return fmt.Errorf("netctl: parse address %q: %w", addr, err)
	}
	if err := h.AddrAdd(link, nlAddr); err != nil {
		return fmt.Errorf("netctl: add address %q to %q in %q: %w", addr, linkName, nsName, err)
	}
	return nil
}

func (m *manager) CreateBridge(nsName, bridgeName string) error {
	h, done, err := handleAt(nsName)
	if err != nil {
		return err
	}
	defer done()

	br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: bridgeName}}
	if err := h.LinkAdd(br); err != nil {
		return fmt.Errorf("netctl: create bridge %q in %q: %w", bridgeName, nsName, err)
	}
	return h.LinkSetUp(br)
}

func (m *manager) SetMaster(nsName, linkName, bridgeName string) error {
	h, done, err := handleAt(nsName)
	if err != nil {
		return err
	}
	defer done()

	link, err := h.LinkByName(linkName)
	if err != nil {
		return fmt.Errorf("netctl: lookup link %q in %q: %w", linkName, nsName, err)
	}
	br, err := h.LinkByName(bridgeName)
	if err != nil {
		return fmt.Errorf("netctl: lookup bridge %q in %q: %w", bridgeName, nsName, err)
	}
	if err := h.LinkSetMaster(link, br); err != nil {
		return fmt.Errorf("netctl: enslave %q to %q in %q: %w", linkName, bridgeName, nsName, err)
	}
	return nil
}

func (m *manager) LinkExists(nsName, linkName string) (bool, error) {
	h, done, err := handleAt(nsName)
	if err != nil {
		return false, err
	}
	defer done()

	_, err = h.LinkByName(linkName)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *manager) ListLinks(nsName string) ([]string, error) {
	var links []netlink.Link
	var err error

	if nsName == "" {
		links, err = netlink.LinkList()
		if err != nil {
			return nil, fmt.Errorf("netctl: list links in host namespace: %w", err)
		}
	} else {
		h, done, herr := handleAt(nsName)
		if herr != nil {
			return nil, herr
		}
		defer done()

		links, err = h.LinkList()
		if err != nil {
			return nil, fmt.Errorf("netctl: list links in %q: %w", nsName, err)
		}
	}

	names := make([]string, 0, len(links))
	for _, l := range links {
		names = append(names, l.Attrs().Name)
	}
	return names, nil
}

func (m *manager) DeleteLink(nsName, linkName string) error {
	var link netlink.Link
	var err error

	if nsName == "" {
		link, err = netlink.LinkByName(linkName)
		if err != nil {
			if _, ok := err.(netlink.LinkNotFoundError); ok {
				return nil
			}
			return fmt.Errorf("netctl: lookup link %q: %w", linkName, err)
		}
		if err := netlink.LinkDel(link); err != nil {
			return fmt.Errorf("netctl: delete link %q: %w", linkName, err)
		}
		return nil
	}

	h, done, herr := handleAt(nsName)
	if herr != nil {
		return herr
	}
	defer done()

	link, err = h.LinkByName(linkName)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("netctl: lookup link %q in %q: %w", linkName, nsName, err)
	}
	if err := h.LinkDel(link); err != nil {
		return fmt.Errorf("netctl: delete link %q in %q: %w", linkName, nsName, err)
	}
	return nil
}

func (m *manager) CreateDummyLink(nsName, linkName string) error {
	h, done, err := handleAt(nsName)
	if err != nil {
		return err
	}
	defer done()

	dummy := &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Name: linkName}}
	if err := h.LinkAdd(dummy); err != nil {
		return fmt.Errorf("netctl: create dummy link %q in %q: %w", linkName, nsName, err)
	}
	return h.LinkSetUp(dummy)
}

// EnableForwarding turns on IPv4 forwarding inside nsName. Unlike the other
// operations this must actually enter the namespace, since
// /proc/sys/net/ipv4/ip_forward is scoped by the calling process's network
// namespace rather than addressable via a netlink handle.
func (m *manager) EnableForwarding(nsName string) error {
	ns, err := netns.GetFromName(nsName)
	if err != nil {
		return fmt.Errorf("netctl: lookup namespace %q: %w", nsName, err)
	}
	defer ns.Close()

	cur, err := netns.Get()
	if err != nil {
		return fmt.Errorf("netctl: get current namespace: %w", err)
	}
	defer cur.Close()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := netns.Set(ns); err != nil {
		return fmt.Errorf("netctl: enter namespace %q: %w", nsName, err)
	}
	defer netns.Set(cur)

	if err := os.WriteFile("/proc/sys/net/ipv4/ip_forward", []byte("1\n"), 0644); err != nil {
		return fmt.Errorf("netctl: enable forwarding in %q: %w", nsName, err)
	}
	return nil
}

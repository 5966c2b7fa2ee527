package pool

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/ksparavec/reachsim/internal/fabric"
	"github.com/ksparavec/reachsim/internal/model"
)

// createHost implements the §4.3 host-creation primitive: a new namespace
// wired into the hidden mesh with a physical eth0 (1 ms latency) carrying
// req.SourceIP/24 and dummy sub-interfaces (0 ms latency) carrying any
// secondary CIDRs. Returns (host, true, nil) when a new namespace was
// created, (host, false, nil) when req.Name was already registered and its
// namespace still exists (REUSED).
func (p *Pool) createHost(ctx context.Context, req HostRequirement) (model.Host, bool, error) {
	if entry, ok, err := p.hosts.Get(req.Name); err != nil {
		return model.Host{}, false, err
	} else if ok {
		if exists, err := p.net.NamespaceExists(req.Name); err == nil && exists {
			return hostFromEntry(entry), false, nil
		}
		p.logger.Warn("registry entry present but namespace missing, recreating", "host", req.Name)
	}

	rf, ok := p.facts[req.Router]
	if !ok {
		return model.Host{}, false, fmt.Errorf("%w: unknown router %q", model.ErrHostCreateFailed, req.Router)
	}

	primaryCIDR := req.SourceIP + "/24"
	gatewayIP, subnet, err := findRouterAttachment(rf, primaryCIDR)
	if err != nil {
		return model.Host{}, false, err
	}

	bridge, ok := p.fab.Bridges[subnet.String()]
	if !ok {
		return model.Host{}, false, fmt.Errorf("%w: no mesh bridge discovered for subnet %s", model.ErrHostCreateFailed, subnet)
	}

	if err := p.net.CreateNamespace(req.Name); err != nil {
		return model.Host{}, false, err
	}
	if err := p.net.SetLoopbackUp(req.Name); err != nil {
		return model.Host{}, false, err
	}

	hash := fabric.HostVethHash(req.Name)
	hostSide, meshSide := hash+"r", hash+"h"

	if err := p.net.CreateVethPair(hostSide, meshSide); err != nil {
		return model.Host{}, false, err
	}
	if err := p.net.MoveLinkToNamespace(hostSide, req.Name); err != nil {
		return model.Host{}, false, err
	}
	if err := p.net.RenameLink(req.Name, hostSide, "eth0"); err != nil {
		return model.Host{}, false, err
	}
	if err := p.net.MoveLinkToNamespace(meshSide, fabric.HiddenMeshNamespace); err != nil {
		return model.Host{}, false, err
	}
	if err := p.net.SetMaster(fabric.HiddenMeshNamespace, meshSide, bridge); err != nil {
		return model.Host{}, false, err
	}

	primaryPrefix, err := netip.ParsePrefix(primaryCIDR)
	if err != nil {
		return model.Host{}, false, err
	}
	if err := p.net.AddAddress(req.Name, "eth0", primaryPrefix); err != nil {
		return model.Host{}, false, err
	}
	if err := p.net.SetLinkUp(req.Name, "eth0"); err != nil {
		return model.Host{}, false, err
	}
	if err := p.net.SetLinkUp(fabric.HiddenMeshNamespace, meshSide); err != nil {
		return model.Host{}, false, err
	}
	if err := p.attachLatency(ctx, req.Name, "eth0", "1ms"); err != nil {
		return model.Host{}, false, err
	}
	if _, err := p.run.Run(ctx, req.Name, []string{"ip", "route", "add", "default", "via", gatewayIP}, nil); err != nil {
		return model.Host{}, false, err
	}

	dummyNames := make([]string, 0, len(req.SecondaryCIDRs))
	for i, cidr := range req.SecondaryCIDRs {
		dummyName := fmt.Sprintf("dummy%d", i+1)
		if err := p.net.CreateDummyLink(req.Name, dummyName); err != nil {
			return model.Host{}, false, err
		}
		addr, err := netip.ParsePrefix(cidr)
		if err != nil {
			return model.Host{}, false, err
		}
		if err := p.net.AddAddress(req.Name, dummyName, addr); err != nil {
			return model.Host{}, false, err
		}
		if err := p.net.SetLinkUp(req.Name, dummyName); err != nil {
			return model.Host{}, false, err
		}
		if err := p.attachLatency(ctx, req.Name, dummyName, "0ms"); err != nil {
			return model.Host{}, false, err
		}
		dummyNames = append(dummyNames, dummyName)
	}

	host := model.Host{
		Name:                req.Name,
		PrimaryCIDR:         primaryCIDR,
		SecondaryCIDRs:      req.SecondaryCIDRs,
		DummyInterfaceNames: dummyNames,
		ConnectedRouter:     req.Router,
		ConnectionType:      model.ConnectionToRouter,
		GatewayIP:           gatewayIP,
		MeshVethName:        meshSide,
		MeshBridge:          bridge,
	}

	entry := model.HostRegistryEntry{
		Name:              req.Name,
		PrimaryIP:         primaryCIDR,
		SecondaryIPs:      req.SecondaryCIDRs,
		ConnectedRouter:   req.Router,
		GatewayIP:         gatewayIP,
		CreationTimestamp: time.Now(),
		MeshBridge:        bridge,
		MeshVethName:      meshSide,
		ConnectionType:    model.ConnectionToRouter,
	}
	if err := p.hosts.Put(entry); err != nil {
		return model.Host{}, false, err
	}

	return host, true, nil
}

func hostFromEntry(entry model.HostRegistryEntry) model.Host {
	return model.Host{
		Name:            entry.Name,
		PrimaryCIDR:     entry.PrimaryIP,
		SecondaryCIDRs:  entry.SecondaryIPs,
		ConnectedRouter: entry.ConnectedRouter,
		ConnectionType:  entry.ConnectionType,
		GatewayIP:       entry.GatewayIP,
		MeshVethName:    entry.MeshVethName,
		MeshBridge:      entry.MeshBridge,
	}
}

// attachLatency sets netem delay on iface inside ns, mirroring
// fabric.Builder's VPN-gateway latency attachment but parameterized on
// delay since hosts need 1 ms on their physical interface and 0 ms on
// dummy interfaces (§4.3).
func (p *Pool) attachLatency(ctx context.Context, ns, iface, delay string) error {
	_, err := p.run.Run(ctx, ns, []string{"tc", "qdisc", "add", "dev", iface, "root", "netem", "delay", delay}, nil)
	return err
}

// destroyHost removes a host's namespace. Deleting either end of a veth
// pair removes both, so this also takes down the hidden-mesh-side veth
// without touching the hidden-mesh namespace itself.
func (p *Pool) destroyHost(ctx context.Context, name string) error {
	return p.net.DeleteNamespace(name)
}

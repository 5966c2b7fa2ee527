package fabric

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/ksparavec/reachsim/internal/facts"
	"github.com/ksparavec/reachsim/internal/model"
	"github.com/ksparavec/reachsim/internal/netctl"
	"github.com/ksparavec/reachsim/internal/nsexec"
	"github.com/ksparavec/reachsim/internal/registry"
)

// FabricHandle is the result of a successful Setup: everything Teardown
// and Verify need to find what was created.
type FabricHandle struct {
	RouterCodes         map[string]string // router name -> code (r000, r001, …)
	RouterNamespaces    map[string]string // router name -> namespace name (== code)
	HiddenMeshNamespace string
	Bridges             map[string]string                      // subnet CIDR key -> bridge name
	InterfaceNames      map[string]model.InterfaceNameMapping // "router/iface" -> short<->original mapping
}

// RouterCheck is the per-router outcome of Verify.
type RouterCheck struct {
	Router            string
	NamespaceOK       bool
	MissingInterfaces []string
	Issues            []string
}

// VerificationReport is Verify's result (§4.2 "verify").
type VerificationReport struct {
	Routers []RouterCheck
	OK      bool
}

// Builder implements C2: it materializes the hidden-mesh namespace fabric
// from RouterFacts and tears it down again. Grounded on
// libvirt/net/net_linux.go's ensure/configure/teardown sequencing.
type Builder struct {
	logger hclog.Logger
	net    netctl.Manager
	run    nsexec.Runner

	bridges *registry.BridgeRegistry
	routers *registry.RouterRegistry
}

// New returns a Builder. By default it does not persist to the bridge or
// router registries (most tests construct a Builder standalone); pass
// WithBridgeRegistry/WithRouterRegistry to have Setup populate them, as
// the production entrypoint does.
func New(logger hclog.Logger, net netctl.Manager, run nsexec.Runner, opts ...Option) *Builder {
	b := &Builder{logger: logger.Named("fabric"), net: net, run: run}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Option configures a Builder at construction time.
type Option func(*Builder)

// WithBridgeRegistry has Setup record each subnet's bridge name and
// wired interfaces into reg (§4.8 "Bridge/interface registry").
func WithBridgeRegistry(reg *registry.BridgeRegistry) Option {
	return func(b *Builder) { b.bridges = reg }
}

// WithRouterRegistry has Setup record each router's metadata and declared
// interfaces into reg (§4.8 "Router registry").
func WithRouterRegistry(reg *registry.RouterRegistry) Option {
	return func(b *Builder) { b.routers = reg }
}

// Setup builds the complete fabric from facts, or fails atomically once
// mutation has not yet begun (preconditions) — once namespace/interface
// mutation begins (steps 5-6), failures are fatal and surfaced as
// *model.FabricFatalError rather than rolled back, per §4.2.
func (b *Builder) Setup(ctx context.Context, allFacts map[string]model.RouterFacts, enablePolicyRouting bool) (*FabricHandle, error) {
	if err := b.preClean(ctx); err != nil {
		b.logger.Warn("pre-clean encountered errors", "error", err)
	}

	routerNames := make([]string, 0, len(allFacts))
	for name := range allFacts {
		routerNames = append(routerNames, name)
	}
	sort.Strings(routerNames)

	handle := &FabricHandle{
		RouterCodes:      routerCodes(routerNames),
		RouterNamespaces: make(map[string]string, len(routerNames)),
		Bridges:          make(map[string]string),
		InterfaceNames:   make(map[string]model.InterfaceNameMapping),
	}

	if err := b.net.CreateNamespace(HiddenMeshNamespace); err != nil {
		return nil, &model.FabricFatalError{Namespace: HiddenMeshNamespace, Err: err}
	}
	handle.HiddenMeshNamespace = HiddenMeshNamespace
	if err := b.net.EnableForwarding(HiddenMeshNamespace); err != nil {
		return nil, &model.FabricFatalError{Namespace: HiddenMeshNamespace, Err: err}
	}
	if err := b.net.SetLoopbackUp(HiddenMeshNamespace); err != nil {
		return nil, &model.FabricFatalError{Namespace: HiddenMeshNamespace, Err: err}
	}

	subnets, err := discoverSubnets(allFacts)
	if err != nil {
		return nil, err
	}
	subnetKeys := make([]string, 0, len(subnets))
	for key := range subnets {
		subnetKeys = append(subnetKeys, key)
	}
	sort.Strings(subnetKeys)

	for _, key := range subnetKeys {
		br := bridgeName(subnets[key].CIDR)
		if err := b.net.CreateBridge(HiddenMeshNamespace, br); err != nil {
			return nil, &model.FabricFatalError{Namespace: HiddenMeshNamespace, Interface: br, Err: err}
		}
		handle.Bridges[key] = br
		if b.bridges != nil {
			if err := b.bridges.Put(registry.BridgeEntry{Subnet: key, BridgeName: br}); err != nil {
				b.logger.Warn("failed to record bridge in registry", "subnet", key, "error", err)
			}
		}
	}

	for _, router := range routerNames {
		code := handle.RouterCodes[router]
		if err := b.net.CreateNamespace(code); err != nil {
			return nil, &model.FabricFatalError{Namespace: code, Err: err}
		}
		handle.RouterNamespaces[router] = code
		if err := b.net.EnableForwarding(code); err != nil {
			return nil, &model.FabricFatalError{Namespace: code, Err: err}
		}
		if err := b.net.SetLoopbackUp(code); err != nil {
			return nil, &model.FabricFatalError{Namespace: code, Err: err}
		}
	}

	declaredInterfaces := make(map[string][]string, len(routerNames))
	for _, router := range routerNames {
		code := handle.RouterNamespaces[router]
		ifaces, err := facts.Interfaces(allFacts[router])
		if err != nil {
			return nil, err
		}

		for _, iface := range ifaces {
			if err := b.wireInterface(ctx, handle, subnets, router, code, iface); err != nil {
				return nil, err
			}
			declaredInterfaces[router] = append(declaredInterfaces[router], iface.Name)
		}
	}

	var warnings *multierror.Error
	for _, router := range routerNames {
		code := handle.RouterNamespaces[router]
		rf := allFacts[router]

		if w := b.applyRouterConfig(ctx, code, rf, enablePolicyRouting); w.ErrorOrNil() != nil {
			warnings = multierror.Append(warnings, w.Errors...)
		}

		if rf.Metadata.IsVPNGateway && rf.Metadata.VPNInterface != "" {
			if err := b.attachLatency(ctx, code, rf.Metadata.VPNInterface); err != nil {
				warnings = multierror.Append(warnings, &model.FabricApplyWarning{
					Router: router, Line: "tc netem delay", Err: err,
				})
			}
		}

		if b.routers != nil {
			entry := registry.RouterEntry{
				Type:               rf.Metadata.Type,
				Role:               rf.Metadata.Role,
				DeclaredInterfaces: declaredInterfaces[router],
			}
			if err := b.routers.Put(router, entry); err != nil {
				b.logger.Warn("failed to record router in registry", "router", router, "error", err)
			}
		}
	}

	if warnings.ErrorOrNil() != nil {
		b.logger.Warn("fabric setup completed with warnings", "warnings", warnings.Error())
	}

	return handle, nil
}

// wireInterface implements §4.2 step 6 for one router interface: veth
// pair, move both halves, rename, enslave, address, bring up. Any failure
// here is fatal once the router-side move has happened, since a
// half-wired interface cannot be left in place silently.
func (b *Builder) wireInterface(ctx context.Context, handle *FabricHandle, subnets map[string]*model.Subnet, router, code string, iface model.Interface) error {
	routerSide, hiddenSide := vethEndpointNames(code, iface.Name)

	if err := b.net.CreateVethPair(routerSide, hiddenSide); err != nil {
		return &model.FabricFatalError{Namespace: code, Interface: iface.Name, Err: err}
	}

	if err := b.net.MoveLinkToNamespace(routerSide, code); err != nil {
		return &model.FabricFatalError{Namespace: code, Interface: iface.Name, Err: err}
	}
	if err := b.net.RenameLink(code, routerSide, iface.Name); err != nil {
		return &model.FabricFatalError{Namespace: code, Interface: iface.Name, Err: err}
	}

	if err := b.net.MoveLinkToNamespace(hiddenSide, HiddenMeshNamespace); err != nil {
		return &model.FabricFatalError{Namespace: code, Interface: iface.Name, Err: err}
	}

	mapping := model.InterfaceNameMapping{ShortName: routerSide, OriginalName: iface.Name}
	for _, addr := range iface.Addresses {
		network := addr.Masked()
		subnetKey := network.String()
		br, ok := handle.Bridges[subnetKey]
		if !ok {
			return &model.FabricFatalError{Namespace: code, Interface: iface.Name,
				Err: fmt.Errorf("no bridge discovered for subnet %s", network)}
		}
		if err := b.net.SetMaster(HiddenMeshNamespace, hiddenSide, br); err != nil {
			return &model.FabricFatalError{Namespace: code, Interface: iface.Name, Err: err}
		}
		if b.bridges != nil {
			if err := b.bridges.AddInterfaceMapping(subnetKey, br, mapping); err != nil {
				b.logger.Warn("failed to record interface mapping in registry",
					"subnet", subnetKey, "interface", iface.Name, "error", err)
			}
		}
		break // all addresses on one interface share a bridge attachment point
	}

	for _, addr := range iface.Addresses {
		if err := b.net.AddAddress(code, iface.Name, addr); err != nil {
			return &model.FabricFatalError{Namespace: code, Interface: iface.Name, Err: err}
		}
	}

	if err := b.net.SetLinkUp(code, iface.Name); err != nil {
		return &model.FabricFatalError{Namespace: code, Interface: iface.Name, Err: err}
	}
	if err := b.net.SetLinkUp(HiddenMeshNamespace, hiddenSide); err != nil {
		return &model.FabricFatalError{Namespace: code, Interface: iface.Name, Err: err}
	}

	handle.InterfaceNames[router+"/"+iface.Name] = mapping
	return nil
}

// Teardown idempotently removes every namespace Setup created. Deleting
// the hidden-mesh namespace destroys every bridge and hidden-side veth it
// hosts; deleting each router namespace destroys its router-side veth.
func (b *Builder) Teardown(ctx context.Context, handle *FabricHandle) error {
	var errs *multierror.Error

	for router, code := range handle.RouterNamespaces {
		if err := b.net.DeleteNamespace(code); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("teardown router %q (%s): %w", router, code, err))
		}
	}

	if handle.HiddenMeshNamespace != "" {
		if err := b.net.DeleteNamespace(handle.HiddenMeshNamespace); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("teardown hidden-mesh: %w", err))
		}
	}

	return errs.ErrorOrNil()
}

// CleanupHostNSLeaks is a best-effort sweep of the host namespace for
// simulation interfaces stranded there by a partial Setup failure (§4.2).
func (b *Builder) CleanupHostNSLeaks(ctx context.Context) error {
	links, err := b.net.ListLinks("")
	if err != nil {
		return fmt.Errorf("cleanup host ns leaks: %w", err)
	}

	var errs *multierror.Error
	for _, name := range links {
		if !isSimulationInterface(name) {
			continue
		}
		if err := b.net.DeleteLink("", name); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("remove leaked interface %q: %w", name, err))
		}
	}
	return errs.ErrorOrNil()
}

// preClean removes any namespaces matching the simulation's naming
// patterns before (re-)building the fabric (§4.2 step 1).
func (b *Builder) preClean(ctx context.Context) error {
	namespaces, err := b.net.ListNamespaces()
	if err != nil {
		return fmt.Errorf("pre-clean: list namespaces: %w", err)
	}

	var errs *multierror.Error
	for _, name := range namespaces {
		if !isSimulationNamespace(name) {
			continue
		}
		if err := b.net.DeleteNamespace(name); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("pre-clean namespace %q: %w", name, err))
		}
	}

	if err := b.CleanupHostNSLeaks(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs.ErrorOrNil()
}

// Verify checks that each router namespace exists with its declared
// interfaces and addresses (§4.2 "verify"). Failures are reported, not
// fatal.
func (b *Builder) Verify(ctx context.Context, handle *FabricHandle, allFacts map[string]model.RouterFacts) (*VerificationReport, error) {
	report := &VerificationReport{OK: true}

	routers := make([]string, 0, len(handle.RouterNamespaces))
	for router := range handle.RouterNamespaces {
		routers = append(routers, router)
	}
	sort.Strings(routers)

	for _, router := range routers {
		code := handle.RouterNamespaces[router]
		check := RouterCheck{Router: router}

		exists, err := b.net.NamespaceExists(code)
		if err != nil {
			check.Issues = append(check.Issues, err.Error())
		}
		check.NamespaceOK = exists

		ifaces, err := facts.Interfaces(allFacts[router])
		if err != nil {
			check.Issues = append(check.Issues, err.Error())
		}

		for _, iface := range ifaces {
			present, err := b.net.LinkExists(code, iface.Name)
			if err != nil {
				check.Issues = append(check.Issues, err.Error())
				continue
			}
			if !present {
				check.MissingInterfaces = append(check.MissingInterfaces, iface.Name)
			}
		}

		if !check.NamespaceOK || len(check.MissingInterfaces) > 0 || len(check.Issues) > 0 {
			report.OK = false
		}
		report.Routers = append(report.Routers, check)
	}

	return report, nil
}

// Package mock is a scripted netctl.Manager for tests, grounded on the same
// Expect/Assert recorder shape as internal/nsexec/mock.
package mock

import (
	"net/netip"
	"sync"

	"github.com/shoenig/test/must"
)

// Op identifies which Manager method a Call expects.
type Op string

const (
	OpCreateNamespace     Op = "CreateNamespace"
	OpDeleteNamespace     Op = "DeleteNamespace"
	OpNamespaceExists     Op = "NamespaceExists"
	OpCreateVethPair      Op = "CreateVethPair"
	OpMoveLinkToNamespace Op = "MoveLinkToNamespace"
	OpRenameLink          Op = "RenameLink"
	OpSetLinkUp           Op = "SetLinkUp"
	OpAddAddress          Op = "AddAddress"
	OpCreateBridge        Op = "CreateBridge"
	OpSetMaster           Op = "SetMaster"
	OpSetLoopbackUp       Op = "SetLoopbackUp"
	OpEnableForwarding    Op = "EnableForwarding"
	OpLinkExists          Op = "LinkExists"
	OpListNamespaces      Op = "ListNamespaces"
	OpListLinks           Op = "ListLinks"
	OpDeleteLink          Op = "DeleteLink"
	OpCreateDummyLink     Op = "CreateDummyLink"
)

// Call is one expected invocation and the canned result to return for it.
type Call struct {
	Op   Op
	Args []string // namespace/link/bridge names in positional order, stringified
	Addr netip.Prefix

	BoolResult  bool
	SliceResult []string
	Err         error
}

// Manager is a scripted netctl.Manager.
type Manager struct {
	t        must.T
	mu       sync.Mutex
	expected []Call
}

// New returns an empty scripted Manager.
func New(t must.T) *Manager {
	return &Manager{t: t}
}

// Expect queues one or more expected calls, in order.
func (m *Manager) Expect(calls ...Call) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expected = append(m.expected, calls...)
	return m
}

// AssertExpectations verifies every queued Call was consumed.
func (m *Manager) AssertExpectations() {
	m.t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	must.SliceEmpty(m.t, m.expected,
		must.Sprintf("netctl mock expecting %d more invocations: %v", len(m.expected), m.expected))
}

func (m *Manager) next(op Op, args ...string) Call {
	m.t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	must.SliceNotEmpty(m.t, m.expected,
		must.Sprintf("unexpected call to %s(%v)", op, args))

	call := m.expected[0]
	m.expected = m.expected[1:]

	must.Eq(m.t, call.Op, op, must.Sprint("netctl mock received unexpected operation"))
	must.Eq(m.t, call.Args, args, must.Sprintf("netctl mock %s received unexpected args", op))

	return call
}

func (m *Manager) CreateNamespace(name string) error {
	return m.next(OpCreateNamespace, name).Err
}

func (m *Manager) DeleteNamespace(name string) error {
	return m.next(OpDeleteNamespace, name).Err
}

func (m *Manager) NamespaceExists(name string) (bool, error) {
	c := m.next(OpNamespaceExists, name)
	return c.BoolResult, c.Err
}

func (m *Manager) CreateVethPair(nameA, nameB string) error {
	return m.next(OpCreateVethPair, nameA, nameB).Err
}

func (m *Manager) MoveLinkToNamespace(linkName, nsName string) error {
	return m.next(OpMoveLinkToNamespace, linkName, nsName).Err
}

func (m *Manager) RenameLink(nsName, oldName, newName string) error {
	return m.next(OpRenameLink, nsName, oldName, newName).Err
}

func (m *Manager) SetLinkUp(nsName, linkName string) error {
	return m.next(OpSetLinkUp, nsName, linkName).Err
}

func (m *Manager) AddAddress(nsName, linkName string, addr netip.Prefix) error {
	m.t.Helper()
	m.mu.Lock()
	must.SliceNotEmpty(m.t, m.expected,
		must.Sprintf("unexpected call to %s(%s, %s, %s)", OpAddAddress, nsName, linkName, addr))
	call := m.expected[0]
	m.expected = m.expected[1:]
	m.mu.Unlock()

	must.Eq(m.t, call.Op, OpAddAddress, must.Sprint("netctl mock received unexpected operation"))
	must.Eq(m.t, call.Args, []string{nsName, linkName}, must.Sprint("netctl mock AddAddress received unexpected args"))
	must.Eq(m.t, call.Addr, addr, must.Sprint("netctl mock AddAddress received unexpected prefix"))
	return call.Err
}

func (m *Manager) CreateBridge(nsName, bridgeName string) error {
	return m.next(OpCreateBridge, nsName, bridgeName).Err
}

func (m *Manager) SetMaster(nsName, linkName, bridgeName string) error {
	return m.next(OpSetMaster, nsName, linkName, bridgeName).Err
}

func (m *Manager) SetLoopbackUp(nsName string) error {
	return m.next(OpSetLoopbackUp, nsName).Err
}

func (m *Manager) EnableForwarding(nsName string) error {
	return m.next(OpEnableForwarding, nsName).Err
}

func (m *Manager) LinkExists(nsName, linkName string) (bool, error) {
	c := m.next(OpLinkExists, nsName, linkName)
	return c.BoolResult, c.Err
}

func (m *Manager) ListNamespaces() ([]string, error) {
	c := m.next(OpListNamespaces)
	return c.SliceResult, c.Err
}

func (m *Manager) ListLinks(nsName string) ([]string, error) {
	c := m.next(OpListLinks, nsName)
	return c.SliceResult, c.Err
}

func (m *Manager) DeleteLink(nsName, linkName string) error {
	return m.next(OpDeleteLink, nsName, linkName).Err
}

func (m *Manager) CreateDummyLink(nsName, linkName string) error {
	return m.next(OpCreateDummyLink, nsName, linkName).Err
}

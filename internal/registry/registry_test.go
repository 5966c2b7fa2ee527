package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/ksparavec/reachsim/internal/model"
)

func TestHostRegistry_PutGetRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.json")
	reg := NewHostRegistry(path)

	entry := model.HostRegistryEntry{
		Name:              "source-1",
		PrimaryIP:         "192.168.100.10/24",
		ConnectedRouter:   "r1",
		GatewayIP:         "192.168.100.1",
		CreationTimestamp: time.Unix(1700000000, 0).UTC(),
		ConnectionType:    model.ConnectionToRouter,
	}
	must.NoError(t, reg.Put(entry))

	got, ok, err := reg.Get("source-1")
	must.NoError(t, err)
	must.True(t, ok)
	must.Eq(t, entry, got)

	_, ok, err = reg.Get("missing")
	must.NoError(t, err)
	must.False(t, ok)

	must.NoError(t, reg.Remove("source-1"))
	_, ok, err = reg.Get("source-1")
	must.NoError(t, err)
	must.False(t, ok)

	// Removing an already-absent entry is not an error.
	must.NoError(t, reg.Remove("source-1"))
}

func TestHostRegistry_ListReturnsAllEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.json")
	reg := NewHostRegistry(path)

	must.NoError(t, reg.Put(model.HostRegistryEntry{Name: "source-1"}))
	must.NoError(t, reg.Put(model.HostRegistryEntry{Name: "source-2"}))

	all, err := reg.List()
	must.NoError(t, err)
	must.MapLen(t, 2, all)
	must.MapContainsKey(t, all, "source-1")
	must.MapContainsKey(t, all, "source-2")
}

func TestHostRegistry_SurvivesReopenAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.json")

	first := NewHostRegistry(path)
	must.NoError(t, first.Put(model.HostRegistryEntry{Name: "source-1"}))

	second := NewHostRegistry(path)
	_, ok, err := second.Get("source-1")
	must.NoError(t, err)
	must.True(t, ok)
}

func TestBridgeRegistry_PutAndInterfaceMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridges.json")
	reg := NewBridgeRegistry(path)

	must.NoError(t, reg.Put(BridgeEntry{Subnet: "10.0.1.0/24", BridgeName: "br100124"}))
	must.NoError(t, reg.AddInterfaceMapping("10.0.1.0/24", "br100124",
		model.InterfaceNameMapping{ShortName: "r000eth0r", OriginalName: "router-eth0"}))

	entry, ok, err := reg.Get("10.0.1.0/24")
	must.NoError(t, err)
	must.True(t, ok)
	must.Eq(t, "br100124", entry.BridgeName)
	must.Eq(t, 1, len(entry.Interfaces))
	must.Eq(t, "router-eth0", entry.Interfaces[0].OriginalName)
}

func TestBridgeRegistry_AddInterfaceMappingCreatesMissingEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridges.json")
	reg := NewBridgeRegistry(path)

	must.NoError(t, reg.AddInterfaceMapping("10.0.2.0/30", "br100204",
		model.InterfaceNameMapping{ShortName: "r001eth0r", OriginalName: "eth0"}))

	entry, ok, err := reg.Get("10.0.2.0/30")
	must.NoError(t, err)
	must.True(t, ok)
	must.Eq(t, "br100204", entry.BridgeName)
	must.Eq(t, 1, len(entry.Interfaces))
}

func TestBridgeRegistry_RemoveAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridges.json")
	reg := NewBridgeRegistry(path)

	must.NoError(t, reg.Put(BridgeEntry{Subnet: "10.0.1.0/24", BridgeName: "br100124"}))
	must.NoError(t, reg.Put(BridgeEntry{Subnet: "10.0.2.0/24", BridgeName: "br100224"}))

	all, err := reg.List()
	must.NoError(t, err)
	must.MapLen(t, 2, all)

	must.NoError(t, reg.Remove("10.0.1.0/24"))
	all, err = reg.List()
	must.NoError(t, err)
	must.MapLen(t, 1, all)
	must.MapContainsKey(t, all, "10.0.2.0/24")
}

func TestRouterRegistry_PutGetRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routers.json")
	reg := NewRouterRegistry(path)

	entry := RouterEntry{Type: "linux", Role: "gateway", DeclaredInterfaces: []string{"eth0", "eth1"}}
	must.NoError(t, reg.Put("r1", entry))

	got, ok, err := reg.Get("r1")
	must.NoError(t, err)
	must.True(t, ok)
	must.Eq(t, entry, got)

	must.NoError(t, reg.Remove("r1"))
	_, ok, err = reg.Get("r1")
	must.NoError(t, err)
	must.False(t, ok)
}

func TestRouterRegistry_List(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routers.json")
	reg := NewRouterRegistry(path)

	must.NoError(t, reg.Put("r1", RouterEntry{Role: "core"}))
	must.NoError(t, reg.Put("r2", RouterEntry{Role: "leaf"}))

	all, err := reg.List()
	must.NoError(t, err)
	must.MapLen(t, 2, all)
}

func TestFileStore_ReadOnMissingFileReturnsZeroValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	reg := NewHostRegistry(path)

	all, err := reg.List()
	must.NoError(t, err)
	must.MapLen(t, 0, all)
}

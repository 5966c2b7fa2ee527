// Package registry implements the three process-wide, file-backed
// registries of C8: hosts, bridges/interface names, and routers. Each is a
// single JSON file on a tmpfs-backed path, mutated under an OS-level file
// lock held only long enough to serialize one read-modify-write, matching
// §4.8's ownership rule that registry files are authoritative between a
// writer's read and write.
//
// Grounded on libvirt/conn_mock.go's CAS-guarded mock connection state
// (same shape: a guarded map, read-modify-write, no long-held locks),
// generalized from an in-process mutex to a cross-process lock via
// github.com/gofrs/flock since these registries must survive being touched
// by independently-scheduled quick-job batches (§4.6) rather than a single
// goroutine.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/ksparavec/reachsim/internal/model"
)

// fileStore provides lock-then-read-modify-write access to one JSON file
// holding a single map value. Each registry embeds one rather than
// re-implementing the locking discipline three times.
type fileStore struct {
	path string
}

func newFileStore(path string) *fileStore {
	return &fileStore{path: path}
}

// update locks path+".lock", decodes the file's current contents into v,
// runs mutate, and writes v back — all while the lock is held. v must be a
// pointer to the registry's in-memory map.
func (s *fileStore) update(v any, mutate func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("registry: create directory for %q: %w", s.path, err)
	}

	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("registry: lock %q: %w", s.path, err)
	}
	defer lock.Unlock()

	if err := s.load(v); err != nil {
		return err
	}
	if err := mutate(); err != nil {
		return err
	}
	return s.save(v)
}

// read takes a shared lock for the duration of the decode only, so readers
// never block a writer beyond one load.
func (s *fileStore) read(v any) error {
	lock := flock.New(s.path + ".lock")
	if err := lock.RLock(); err != nil {
		return fmt.Errorf("registry: rlock %q: %w", s.path, err)
	}
	defer lock.Unlock()

	return s.load(v)
}

func (s *fileStore) load(v any) error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("registry: read %q: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("registry: decode %q: %w", s.path, err)
	}
	return nil
}

func (s *fileStore) save(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encode %q: %w", s.path, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("registry: write %q: %w", tmp, err)
	}
	return os.Rename(tmp, s.path)
}

// RouterEntry is the router registry's router_name -> metadata record
// (§4.8: "type, role, declared interfaces").
type RouterEntry struct {
	Type               string
	Role               string
	DeclaredInterfaces []string
}

// BridgeEntry is the bridge/interface registry's subnet -> bridge_name
// record, carrying the short<->original interface name mappings created
// while that subnet's bridge was wired (§4.8, §3 InterfaceNameMap).
type BridgeEntry struct {
	Subnet     string
	BridgeName string
	Interfaces []model.InterfaceNameMapping
}

// HostRegistry is the name -> HostRegistryEntry source of truth for
// cleanup described in §3 and §4.8.
type HostRegistry struct {
	store *fileStore
}

// NewHostRegistry opens (without yet reading) the host registry backed by
// path, typically a file under a tmpfs-backed state directory.
func NewHostRegistry(path string) *HostRegistry {
	return &HostRegistry{store: newFileStore(path)}
}

// Put inserts or replaces entry under entry.Name.
func (r *HostRegistry) Put(entry model.HostRegistryEntry) error {
	var hosts map[string]model.HostRegistryEntry
	return r.store.update(&hosts, func() error {
		if hosts == nil {
			hosts = make(map[string]model.HostRegistryEntry)
		}
		hosts[entry.Name] = entry
		return nil
	})
}

// Remove deletes the entry named name, if present. Idempotent.
func (r *HostRegistry) Remove(name string) error {
	var hosts map[string]model.HostRegistryEntry
	return r.store.update(&hosts, func() error {
		delete(hosts, name)
		return nil
	})
}

// Get returns the entry named name and whether it was present.
func (r *HostRegistry) Get(name string) (model.HostRegistryEntry, bool, error) {
	var hosts map[string]model.HostRegistryEntry
	if err := r.store.read(&hosts); err != nil {
		return model.HostRegistryEntry{}, false, err
	}
	entry, ok := hosts[name]
	return entry, ok, nil
}

// List returns every entry currently registered.
func (r *HostRegistry) List() (map[string]model.HostRegistryEntry, error) {
	var hosts map[string]model.HostRegistryEntry
	if err := r.store.read(&hosts); err != nil {
		return nil, err
	}
	if hosts == nil {
		hosts = make(map[string]model.HostRegistryEntry)
	}
	return hosts, nil
}

// BridgeRegistry is the subnet -> BridgeEntry registry of §4.8.
type BridgeRegistry struct {
	store *fileStore
}

// NewBridgeRegistry opens the bridge/interface registry backed by path.
func NewBridgeRegistry(path string) *BridgeRegistry {
	return &BridgeRegistry{store: newFileStore(path)}
}

// Put inserts or replaces the entry for entry.Subnet.
func (r *BridgeRegistry) Put(entry BridgeEntry) error {
	var bridges map[string]BridgeEntry
	return r.store.update(&bridges, func() error {
		if bridges == nil {
			bridges = make(map[string]BridgeEntry)
		}
		bridges[entry.Subnet] = entry
		return nil
	})
}

// AddInterfaceMapping appends a short<->original name pair to the entry
// for subnet, creating the entry (with the given bridgeName) if absent.
func (r *BridgeRegistry) AddInterfaceMapping(subnet, bridgeName string, mapping model.InterfaceNameMapping) error {
	var bridges map[string]BridgeEntry
	return r.store.update(&bridges, func() error {
		if bridges == nil {
			bridges = make(map[string]BridgeEntry)
		}
		entry, ok := bridges[subnet]
		if !ok {
			entry = BridgeEntry{Subnet: subnet, BridgeName: bridgeName}
		}
		entry.Interfaces = append(entry.Interfaces, mapping)
		bridges[subnet] = entry
		return nil
	})
}

// Remove deletes the entry for subnet, if present. Idempotent.
func (r *BridgeRegistry) Remove(subnet string) error {
	var bridges map[string]BridgeEntry
	return r.store.update(&bridges, func() error {
		delete(bridges, subnet)
		return nil
	})
}

// Get returns the entry for subnet and whether it was present.
func (r *BridgeRegistry) Get(subnet string) (BridgeEntry, bool, error) {
	var bridges map[string]BridgeEntry
	if err := r.store.read(&bridges); err != nil {
		return BridgeEntry{}, false, err
	}
	entry, ok := bridges[subnet]
	return entry, ok, nil
}

// List returns every bridge entry currently registered.
func (r *BridgeRegistry) List() (map[string]BridgeEntry, error) {
	var bridges map[string]BridgeEntry
	if err := r.store.read(&bridges); err != nil {
		return nil, err
	}
	if bridges == nil {
		bridges = make(map[string]BridgeEntry)
	}
	return bridges, nil
}

// RouterRegistry is the router_name -> RouterEntry registry of §4.8.
type RouterRegistry struct {
	store *fileStore
}

// NewRouterRegistry opens the router registry backed by path.
func NewRouterRegistry(path string) *RouterRegistry {
	return &RouterRegistry{store: newFileStore(path)}
}

// Put inserts or replaces the entry for router.
func (r *RouterRegistry) Put(router string, entry RouterEntry) error {
	var routers map[string]RouterEntry
	return r.store.update(&routers, func() error {
		if routers == nil {
			routers = make(map[string]RouterEntry)
		}
		routers[router] = entry
		return nil
	})
}

// Remove deletes the entry for router, if present. Idempotent.
func (r *RouterRegistry) Remove(router string) error {
	var routers map[string]RouterEntry
	return r.store.update(&routers, func() error {
		delete(routers, router)
		return nil
	})
}

// Get returns the entry for router and whether it was present.
func (r *RouterRegistry) Get(router string) (RouterEntry, bool, error) {
	var routers map[string]RouterEntry
	if err := r.store.read(&routers); err != nil {
		return RouterEntry{}, false, err
	}
	entry, ok := routers[router]
	return entry, ok, nil
}

// List returns every router entry currently registered.
func (r *RouterRegistry) List() (map[string]RouterEntry, error) {
	var routers map[string]RouterEntry
	if err := r.store.read(&routers); err != nil {
		return nil, err
	}
	if routers == nil {
		routers = make(map[string]RouterEntry)
	}
	return routers, nil
}

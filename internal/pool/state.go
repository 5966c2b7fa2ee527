package pool

import (
	"sort"
	"sync"
	"time"
)

// hostEntry is one host's in-memory bookkeeping: who is using it and
// whether it is counting down to removal. Guarded by poolState.mu — the
// only lock the Host Pool holds, and only around this bookkeeping (§5
// "Locking discipline").
type hostEntry struct {
	refs   map[string]bool // job IDs currently holding this host
	paused bool            // paused for a running detailed job
	expiry *time.Time      // nil unless counting down
	timer  *time.Timer
}

// poolState is the Pool's refcount and timer table.
type poolState struct {
	mu    sync.Mutex
	hosts map[string]*hostEntry
}

func newPoolState() *poolState {
	return &poolState{hosts: make(map[string]*hostEntry)}
}

// register adds each job's host requirements to those hosts' refcount
// sets and clears any pending cleanup, since a host a new batch needs was
// either just created or is being reused (§4.3 phase 4).
func (s *poolState) register(jobHostNames map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for jobID, names := range jobHostNames {
		for _, name := range names {
			e, ok := s.hosts[name]
			if !ok {
				e = &hostEntry{refs: make(map[string]bool)}
				s.hosts[name] = e
			}
			e.refs[jobID] = true
			if e.timer != nil {
				e.timer.Stop()
				e.timer = nil
			}
			e.paused = false
			e.expiry = nil
		}
	}
}

// release drops jobID's hold on each of hostNames, returning the subset
// that reached a zero refcount and so need scheduleCleanup called on them
// outside this lock (subprocess-free, but timer creation still shouldn't
// happen while holding the map lock indefinitely).
func (s *poolState) release(jobID string, hostNames []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var drained []string
	for _, name := range hostNames {
		e, ok := s.hosts[name]
		if !ok {
			continue
		}
		delete(e.refs, jobID)
		if len(e.refs) == 0 {
			drained = append(drained, name)
		}
	}
	return drained
}

func (s *poolState) inUse(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.hosts[name]
	return ok && len(e.refs) > 0
}

func (s *poolState) forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hosts, name)
}

func (s *poolState) status() PoolStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	var status PoolStatus
	for name, e := range s.hosts {
		switch {
		case e.paused:
			status.Paused = append(status.Paused, name)
		case e.expiry != nil:
			status.PendingCleanup = append(status.PendingCleanup, PendingCleanup{Host: name, Expiry: *e.expiry})
		default:
			status.ActiveHosts = append(status.ActiveHosts, name)
		}
	}

	sort.Strings(status.ActiveHosts)
	sort.Strings(status.Paused)
	sort.Slice(status.PendingCleanup, func(i, j int) bool {
		return status.PendingCleanup[i].Host < status.PendingCleanup[j].Host
	})
	return status
}

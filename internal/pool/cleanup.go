package pool

import (
	"context"
	"time"
)

// scheduleCleanup implements the §4.3 cleanup rules for a host whose
// refcount just reached zero: pause if a detailed job is running (no
// expiry, 10 s recheck), else set an expiry grace_period out and recheck
// every 10 s until it either revives or expires.
func (p *Pool) scheduleCleanup(name string) {
	p.state.mu.Lock()
	e, ok := p.state.hosts[name]
	if !ok || len(e.refs) > 0 {
		p.state.mu.Unlock()
		return
	}

	if p.IsDetailedJobRunning() {
		e.paused = true
		e.expiry = nil
	} else {
		e.paused = false
		expiry := time.Now().Add(p.gracePeriod)
		e.expiry = &expiry
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(p.recheckInterval, func() { p.recheckHost(name) })
	p.state.mu.Unlock()
}

// recheckHost re-evaluates one host on its recheck tick: revived (refcount
// positive) cancels cleanup; a detailed job appearing re-pauses it; grace
// not yet expired reschedules; expiry reached physically removes and
// unregisters the host.
func (p *Pool) recheckHost(name string) {
	p.state.mu.Lock()
	e, ok := p.state.hosts[name]
	if !ok {
		p.state.mu.Unlock()
		return
	}

	if len(e.refs) > 0 {
		e.paused = false
		e.expiry = nil
		e.timer = nil
		p.state.mu.Unlock()
		return
	}

	if p.IsDetailedJobRunning() {
		e.paused = true
		e.expiry = nil
		e.timer = time.AfterFunc(p.recheckInterval, func() { p.recheckHost(name) })
		p.state.mu.Unlock()
		return
	}

	if e.expiry == nil {
		expiry := time.Now().Add(p.gracePeriod)
		e.expiry = &expiry
		e.paused = false
		e.timer = time.AfterFunc(p.recheckInterval, func() { p.recheckHost(name) })
		p.state.mu.Unlock()
		return
	}

	if time.Now().Before(*e.expiry) {
		e.timer = time.AfterFunc(p.recheckInterval, func() { p.recheckHost(name) })
		p.state.mu.Unlock()
		return
	}

	delete(p.state.hosts, name)
	p.state.mu.Unlock()

	if err := p.destroyHost(context.Background(), name); err != nil {
		p.logger.Warn("cleanup: failed to destroy host", "host", name, "error", err)
		return
	}
	if err := p.hosts.Remove(name); err != nil {
		p.logger.Warn("cleanup: failed to unregister host", "host", name, "error", err)
	}
}

// cancelCleanup stops any pending timer for host and clears its cleanup
// state, used by RemoveManual before taking over its lifecycle directly.
func (p *Pool) cancelCleanup(name string) {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()

	e, ok := p.state.hosts[name]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.paused = false
	e.expiry = nil
}

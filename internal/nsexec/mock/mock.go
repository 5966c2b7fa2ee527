// Package mock is a scripted nsexec.Runner for tests, grounded on
// testutil/mock/iptables's Expect/Assert recorder shape from the teacher.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/shoenig/test/must"

	"github.com/ksparavec/reachsim/internal/nsexec"
)

// Call is one expected invocation.
type Call struct {
	NS     string
	Argv   []string
	Result *nsexec.Result
	Err    error
}

// Runner is a scripted nsexec.Runner: callers queue expected Calls with
// Expect, and every Run consumes the next queued Call in order.
type Runner struct {
	t        must.T
	mu       sync.Mutex
	expected []Call
}

// New returns an empty mock Runner.
func New(t must.T) *Runner {
	return &Runner{t: t}
}

// Expect queues one or more expected calls, in order.
func (m *Runner) Expect(calls ...Call) *Runner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expected = append(m.expected, calls...)
	return m
}

func (m *Runner) Run(_ context.Context, ns string, argv []string, _ []byte) (*nsexec.Result, error) {
	m.t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	must.SliceNotEmpty(m.t, m.expected,
		must.Sprintf("unexpected call to Run(ns=%q, argv=%v)", ns, argv))

	call := m.expected[0]
	m.expected = m.expected[1:]

	must.Eq(m.t, call.NS, ns, must.Sprint("Run received unexpected namespace"))
	must.Eq(m.t, call.Argv, argv, must.Sprint("Run received unexpected argv"))

	if call.Result == nil {
		return &nsexec.Result{}, call.Err
	}
	return call.Result, call.Err
}

// AssertExpectations verifies every queued Call was consumed.
func (m *Runner) AssertExpectations() {
	m.t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	must.SliceEmpty(m.t, m.expected,
		must.Sprintf("Run expecting %d more invocations: %s", len(m.expected), fmt.Sprint(m.expected)))
}

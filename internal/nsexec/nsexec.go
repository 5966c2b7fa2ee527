// Package nsexec is the narrow boundary between reachsim and the host
// tools it never reimplements: ip, iptables-restore, ipset, tc (§6
// "Required host tools"; Design Notes "externalize invocations… behind a
// narrow namespace exec interface so they can be mocked in tests and
// budgeted by the I/O pool"). Grounded on providers/providers.go's
// dispense-interface shape and libvirt/conn_mock.go's mockability.
package nsexec

import (
	"context"
	"time"
)

// Result is the outcome of one subprocess invocation.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes host tools, optionally inside a named network namespace
// (via "ip netns exec <ns>"), with a bounded timeout. Implementations must
// not retry or reinterpret failures — that is the caller's job.
type Runner interface {
	// Run executes argv[0] with argv[1:] as arguments. If ns is non-empty
	// the command runs inside that network namespace. stdin, if non-nil,
	// is piped to the process (used for iptables-restore/ipset restore
	// payloads).
	Run(ctx context.Context, ns string, argv []string, stdin []byte) (*Result, error)
}

// Timeout wraps a context with the default subprocess timeout from §5/§6
// ("each subprocess invocation has a timeout, default 60s").
func Timeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}

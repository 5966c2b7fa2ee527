package analyzer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ksparavec/reachsim/internal/model"
	"github.com/ksparavec/reachsim/internal/nsexec"
)

// Capture runs "iptables-save -c" inside router's namespace and parses the
// result into a CounterSnapshot (§4.5 P4 step 1/3, "acquire snapshot on
// every on-path router").
func Capture(ctx context.Context, run nsexec.Runner, router string) (model.CounterSnapshot, error) {
	res, err := run.Run(ctx, router, []string{"iptables-save", "-c"}, nil)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return model.CounterSnapshot{}, fmt.Errorf("%w: router %q: %v", model.ErrSnapshotTimeout, router, err)
		}
		return model.CounterSnapshot{}, fmt.Errorf("analyzer: capture snapshot on %q: %w", router, err)
	}
	return ParseSave(router, string(res.Stdout))
}

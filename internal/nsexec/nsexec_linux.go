//go:build linux

package nsexec

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/hashicorp/go-hclog"
)

// execRunner is the real Runner, invoking host tools via os/exec. It is
// deliberately the only place in reachsim that shells out.
type execRunner struct {
	logger hclog.Logger
}

// New returns the production Runner.
func New(logger hclog.Logger) Runner {
	return &execRunner{logger: logger.Named("nsexec")}
}

func (r *execRunner) Run(ctx context.Context, ns string, argv []string, stdin []byte) (*Result, error) {
	if len(argv) == 0 {
		return nil, ErrEmptyArgv
	}

	full := argv
	if ns != "" {
		full = append([]string{"ip", "netns", "exec", ns}, argv...)
	}

	cmd := exec.CommandContext(ctx, full[0], full[1:]...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("exec", "ns", ns, "argv", full)

	err := cmd.Run()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	}

	if err != nil {
		r.logger.Warn("exec failed", "ns", ns, "argv", full, "error", err, "stderr", stderr.String())
		return res, err
	}

	return res, nil
}

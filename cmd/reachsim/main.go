// Command reachsim is the reachability entrypoint (§6 "Exit codes"): it
// loads RouterFacts, builds the namespace fabric, submits one job to the
// Hybrid Scheduler, waits for its result, and exits 0/1/2.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/ksparavec/reachsim/internal/config"
	"github.com/ksparavec/reachsim/internal/fabric"
	"github.com/ksparavec/reachsim/internal/facts"
	"github.com/ksparavec/reachsim/internal/model"
	"github.com/ksparavec/reachsim/internal/netctl"
	"github.com/ksparavec/reachsim/internal/nsexec"
	"github.com/ksparavec/reachsim/internal/pool"
	"github.com/ksparavec/reachsim/internal/registry"
	"github.com/ksparavec/reachsim/internal/scheduler"
	"github.com/ksparavec/reachsim/internal/tester"
	"github.com/ksparavec/reachsim/internal/tsimsh"
)

// Version is set via -ldflags at build time, following the teacher's
// plugin-version convention even though reachsim has no plugin registry.
var Version = "dev"

func main() {
	os.Exit(run())
}

// run builds the root command and maps its outcome to §6's exit codes.
// Argument, configuration and raw-facts errors return 2; a failure from the
// fabric build onward (fabric setup, job submission, or the job itself)
// returns 1; success returns 0.
func run() int {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "reachsim",
		Level: hclog.Info,
	})

	cmd := newRootCmd(logger)
	if err := cmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Error())
			return exitErr.code
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 2
	}
	return 0
}

// exitError carries the exit code a failure should produce, so RunE can
// return a normal error and still let run() pick 1 vs 2.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func jobFailure(err error) error { return &exitError{code: 1, err: err} }
func argFailure(err error) error { return &exitError{code: 2, err: err} }

type serviceFlags []string

// parseServices turns repeated "--service 80/tcp" flags into ServiceSpecs
// (§3 JobSpec.Services).
func parseServices(raw []string) ([]model.ServiceSpec, error) {
	services := make([]model.ServiceSpec, 0, len(raw))
	for _, s := range raw {
		port, proto, ok := strings.Cut(s, "/")
		if !ok {
			return nil, fmt.Errorf("invalid --service %q: expected PORT/PROTOCOL", s)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid --service %q: %w", s, err)
		}
		services = append(services, model.ServiceSpec{Port: p, Protocol: proto})
	}
	return services, nil
}

func newRootCmd(logger hclog.Logger) *cobra.Command {
	var (
		sourceIP   string
		destIP     string
		sourcePort int
		services   serviceFlags
		mode       string
		runID      string
		traceOnly  []string
	)

	cmd := &cobra.Command{
		Use:     "reachsim",
		Short:   "Simulate and report network reachability across a firewalled topology",
		Version: Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, err := parseServices(services)
			if err != nil {
				return argFailure(err)
			}
			jobMode := model.JobDetailed
			switch mode {
			case "detailed", "":
				jobMode = model.JobDetailed
			case "quick":
				jobMode = model.JobQuick
			default:
				return argFailure(fmt.Errorf("invalid --mode %q: expected quick or detailed", mode))
			}
			if sourceIP == "" || destIP == "" || len(svcs) == 0 {
				return argFailure(fmt.Errorf("--source-ip, --dest-ip and at least one --service are required"))
			}

			spec := model.JobSpec{
				RunID:      runID,
				Mode:       jobMode,
				SourceIP:   sourceIP,
				SourcePort: sourcePort,
				DestIP:     destIP,
				Services:   svcs,
				CreatorTag: "reachsim-cli",
			}
			if len(traceOnly) > 0 {
				spec.UserSuppliedTrace = &model.TraceResult{Routers: traceOnly, UserTraced: true}
			}

			return runJob(cmd.Context(), logger, spec)
		},
	}

	cmd.Flags().StringVar(&sourceIP, "source-ip", "", "source IP address")
	cmd.Flags().StringVar(&destIP, "dest-ip", "", "destination IP address")
	cmd.Flags().IntVar(&sourcePort, "source-port", 0, "requested source port (0 = ephemeral)")
	cmd.Flags().StringArrayVar((*[]string)(&services), "service", nil, "PORT/PROTOCOL to test, repeatable (e.g. 443/tcp)")
	cmd.Flags().StringVar(&mode, "mode", "detailed", "job mode: quick or detailed")
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier (generated if omitted)")
	cmd.Flags().StringArrayVar(&traceOnly, "router", nil, "pre-resolved router path, in order (skips path discovery)")

	return cmd
}

// runJob wires every component (§2 "System overview") and drives one job
// through the scheduler to completion.
func runJob(ctx context.Context, logger hclog.Logger, spec model.JobSpec) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		return argFailure(fmt.Errorf("configuration: %w", err))
	}

	allFacts, err := facts.New(logger).LoadDirectory(cfg.RawFactsDir)
	if err != nil {
		return argFailure(fmt.Errorf("loading raw facts: %w", err))
	}

	netMgr := netctl.New(logger)
	runner := nsexec.New(logger)

	hostRegistry := registry.NewHostRegistry(filepath.Join(cfg.RunDir, "hosts.json"))
	bridgeRegistry := registry.NewBridgeRegistry(filepath.Join(cfg.RunDir, "bridges.json"))
	routerRegistry := registry.NewRouterRegistry(filepath.Join(cfg.RunDir, "routers.json"))

	fab, err := fabric.New(logger, netMgr, runner,
		fabric.WithBridgeRegistry(bridgeRegistry),
		fabric.WithRouterRegistry(routerRegistry)).Setup(ctx, allFacts, cfg.EnablePolicyRouting)
	if err != nil {
		return jobFailure(fmt.Errorf("building fabric: %w", err))
	}

	client := tsimsh.New(logger, runner, cfg.SubprocessTimeout)

	hostPool := pool.New(logger, netMgr, runner, hostRegistry, fab, allFacts, client,
		pool.WithGracePeriod(cfg.QuickJobHostCleanupGracePeriod))

	capturer := tester.RunnerCapturer{Run: runner}
	theTester := tester.New(logger, client, hostPool, client, capturer, tester.FileSink{})
	quickRunner := scheduler.NewQuickRunner(logger, client, capturer)

	sched := scheduler.New(logger, theTester, hostPool, quickRunner,
		scheduler.WithIOPoolWorkers(cfg.IOPoolWorkers),
		scheduler.WithCPUPoolWorkers(cfg.CPUPoolWorkers),
		scheduler.WithQueueCapacity(cfg.QueueCapacity))
	sched.Start(ctx)
	defer sched.Close()

	if spec.RunID == "" {
		spec.RunID = uuid.New().String()
	}
	runDir := filepath.Join(cfg.RunDir, spec.RunID)

	job, err := sched.Submit(ctx, spec, runDir)
	if err != nil {
		return jobFailure(fmt.Errorf("submitting job: %w", err))
	}

	waitCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
	}

	result, err := job.Wait(waitCtx)
	if err != nil {
		return jobFailure(fmt.Errorf("run %s: %w", spec.RunID, err))
	}

	if result.Summary != nil {
		fmt.Printf("run %s complete: %d result file(s) written to %s\n", spec.RunID, len(result.Summary.Files), runDir)
	} else {
		fmt.Printf("run %s complete: %d packet test result(s)\n", spec.RunID, len(result.Packets))
	}
	return nil
}

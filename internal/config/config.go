// Package config loads reachsim's runtime configuration (§6 "Runtime
// configuration"). reachsim is a standalone binary rather than a Nomad
// plugin, so configuration is sourced from the environment rather than an
// HCL plugin schema — see DESIGN.md for why hclspec (the teacher's config
// mechanism) has no host here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Config holds every knob listed in spec.md §6 "Runtime configuration".
type Config struct {
	RunDir     string
	RawFactsDir string

	QuickJobHostCleanupGracePeriod time.Duration
	EnablePolicyRouting            bool

	IOPoolWorkers  int
	CPUPoolWorkers int

	SubprocessTimeout  time.Duration
	ServiceProbeTimeout time.Duration

	QueueCapacity int
}

// Defaults mirror the spec.md §6 defaults exactly.
const (
	defaultGracePeriod        = 30 * time.Second
	defaultIOPoolWorkers      = 4
	defaultCPUPoolWorkers     = 2
	defaultSubprocessTimeout  = 60 * time.Second
	defaultServiceProbeTimeout = 1 * time.Second
	defaultQueueCapacity      = 256
)

// FromEnv loads configuration from the process environment, applying the
// spec.md §6 defaults for anything unset.
func FromEnv() (*Config, error) {
	cfg := &Config{
		RunDir:                         envOr("REACHSIM_RUN_DIR", "/var/run/reachsim"),
		RawFactsDir:                    envOr("REACHSIM_RAW_FACTS_DIR", ""),
		QuickJobHostCleanupGracePeriod: defaultGracePeriod,
		EnablePolicyRouting:            envBool("REACHSIM_ENABLE_POLICY_ROUTING", false),
		IOPoolWorkers:                  defaultIOPoolWorkers,
		CPUPoolWorkers:                 defaultCPUPoolWorkers,
		SubprocessTimeout:              defaultSubprocessTimeout,
		ServiceProbeTimeout:            defaultServiceProbeTimeout,
		QueueCapacity:                  defaultQueueCapacity,
	}

	if v, ok := os.LookupEnv("REACHSIM_GRACE_PERIOD_SECONDS"); ok {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("REACHSIM_GRACE_PERIOD_SECONDS: %w", err)
		}
		cfg.QuickJobHostCleanupGracePeriod = time.Duration(secs) * time.Second
	}

	if v, ok := os.LookupEnv("REACHSIM_IO_POOL_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("REACHSIM_IO_POOL_WORKERS: %w", err)
		}
		cfg.IOPoolWorkers = n
	}

	if v, ok := os.LookupEnv("REACHSIM_CPU_POOL_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("REACHSIM_CPU_POOL_WORKERS: %w", err)
		}
		cfg.CPUPoolWorkers = n
	}

	if v, ok := os.LookupEnv("REACHSIM_SUBPROCESS_TIMEOUT_SECONDS"); ok {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("REACHSIM_SUBPROCESS_TIMEOUT_SECONDS: %w", err)
		}
		cfg.SubprocessTimeout = time.Duration(secs) * time.Second
	}

	if v, ok := os.LookupEnv("REACHSIM_QUEUE_CAPACITY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("REACHSIM_QUEUE_CAPACITY: %w", err)
		}
		cfg.QueueCapacity = n
	}

	// service_probe_timeout is fixed at 1s "for correctness" per §6/§5; it
	// is intentionally not read from the environment.

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration is internally consistent. Fields that
// are correctness properties rather than tunables (ServiceProbeTimeout) are
// checked too, to catch accidental future exposure as an env var.
func (c *Config) Validate() error {
	var mErr *multierror.Error

	if c.RawFactsDir == "" {
		mErr = multierror.Append(mErr, fmt.Errorf("raw_facts_dir must be set (REACHSIM_RAW_FACTS_DIR)"))
	}
	if c.RunDir == "" {
		mErr = multierror.Append(mErr, fmt.Errorf("run_dir must not be empty"))
	}
	if c.IOPoolWorkers < 1 {
		mErr = multierror.Append(mErr, fmt.Errorf("io_pool_workers must be >= 1"))
	}
	if c.CPUPoolWorkers < 1 {
		mErr = multierror.Append(mErr, fmt.Errorf("cpu_pool_workers must be >= 1"))
	}
	if c.QueueCapacity < 1 {
		mErr = multierror.Append(mErr, fmt.Errorf("queue_capacity must be >= 1"))
	}
	if c.ServiceProbeTimeout != defaultServiceProbeTimeout {
		mErr = multierror.Append(mErr, fmt.Errorf("service_probe_timeout is fixed at %s for counter-attribution correctness", defaultServiceProbeTimeout))
	}

	return mErr.ErrorOrNil()
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

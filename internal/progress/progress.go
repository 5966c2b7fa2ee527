// Package progress implements the Progress/Timing component (C7): an
// append-only per-run progress log plus a timing summary written on
// completion, per §4.7/§6 "Progress log". Grounded on internal/registry's
// flock-guarded file access, generalized from read-modify-write to
// append-only writes.
package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Stable phase identifiers external observers key on (§6 "Progress log").
const (
	PhaseStart               = "START"
	PhasePhase1Start         = "MULTI_REACHABILITY_PHASE1_start"
	PhasePhase1Complete      = "MULTI_REACHABILITY_PHASE1_complete"
	PhasePhase2Start         = "MULTI_REACHABILITY_PHASE2_start"
	PhasePhase2KSMSStart     = "MULTI_REACHABILITY_PHASE2_ksms_start"
	PhasePhase4Complete      = "MULTI_REACHABILITY_PHASE4_complete"
	PhasePDFGeneration       = "PDF_GENERATION"
	PhasePDFComplete         = "PDF_COMPLETE"
	PhaseComplete            = "COMPLETE"
	PhaseError               = "ERROR"
)

// ServiceTestPhase names a per-service test checkpoint, e.g.
// "service_test_443_tcp_start".
func ServiceTestPhase(port int, protocol, stage string) string {
	return fmt.Sprintf("service_test_%d_%s_%s", port, protocol, stage)
}

// SnapshotPhase names a per-service iptables snapshot checkpoint, e.g.
// "iptables_before_443_tcp_start". which is "before" or "after".
func SnapshotPhase(which string, port int, protocol, stage string) string {
	return fmt.Sprintf("iptables_%s_%d_%s_%s", which, port, protocol, stage)
}

// entry is one line of progress.json (§6: "{timestamp, phase, message}").
type entry struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
}

// checkpoint is one named instant recorded for the timing summary.
type checkpoint struct {
	phase string
	at    time.Time
}

// Logger is one run's progress log plus its timing checkpoints. Not safe
// for concurrent use by itself; callers serialize their own phase
// transitions, matching §5 "services are tested strictly in submission
// order" for the Tester that owns it.
type Logger struct {
	path        string
	lock        *flock.Flock
	start       time.Time
	checkpoints []checkpoint
}

// New returns a Logger writing "progress.json"/"timing.json" into runDir.
func New(runDir string) (*Logger, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("progress: create run directory %q: %w", runDir, err)
	}
	path := filepath.Join(runDir, "progress.json")
	return &Logger{
		path:  path,
		lock:  flock.New(path + ".lock"),
		start: time.Now(),
	}, nil
}

// Log appends one progress line and records a timing checkpoint for phase.
func (l *Logger) Log(phase, message string) error {
	now := time.Now()
	l.checkpoints = append(l.checkpoints, checkpoint{phase: phase, at: now})

	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("progress: lock %q: %w", l.path, err)
	}
	defer l.lock.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("progress: open %q: %w", l.path, err)
	}
	defer f.Close()

	data, err := json.Marshal(entry{Timestamp: now, Phase: phase, Message: message})
	if err != nil {
		return fmt.Errorf("progress: encode entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("progress: write %q: %w", l.path, err)
	}
	return nil
}

// CheckpointTiming is one recorded checkpoint's elapsed/delta times.
type CheckpointTiming struct {
	Phase          string  `json:"phase"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	DeltaSeconds   float64 `json:"delta_seconds"`
}

// TimingSummary is timing.json's shape (§4.7: "total elapsed and
// inter-checkpoint deltas").
type TimingSummary struct {
	TotalElapsedSeconds float64            `json:"total_elapsed_seconds"`
	Checkpoints         []CheckpointTiming `json:"checkpoints"`
}

// WriteTimingSummary computes the elapsed/delta times for every checkpoint
// logged so far and writes "timing.json" into runDir.
func (l *Logger) WriteTimingSummary(runDir string) error {
	summary := TimingSummary{}
	prev := l.start
	for _, cp := range l.checkpoints {
		elapsed := cp.at.Sub(l.start).Seconds()
		delta := cp.at.Sub(prev).Seconds()
		summary.Checkpoints = append(summary.Checkpoints, CheckpointTiming{
			Phase:          cp.phase,
			ElapsedSeconds: elapsed,
			DeltaSeconds:   delta,
		})
		prev = cp.at
	}
	summary.TotalElapsedSeconds = time.Since(l.start).Seconds()

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("progress: encode timing summary: %w", err)
	}
	return os.WriteFile(filepath.Join(runDir, "timing.json"), data, 0o644)
}

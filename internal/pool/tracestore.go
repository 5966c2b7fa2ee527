package pool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ksparavec/reachsim/internal/model"
)

// FileTraceSink persists each run's resolved trace as
// "<dir>/<runID>/trace.json", the simplest faithful reading of §4.3's
// "persist the trace per run" with no further schema specified.
type FileTraceSink struct {
	dir string
}

// NewFileTraceSink returns a TraceSink rooted at dir.
func NewFileTraceSink(dir string) *FileTraceSink {
	return &FileTraceSink{dir: dir}
}

func (s *FileTraceSink) SaveTrace(runID string, trace model.TraceResult) error {
	runDir := filepath.Join(s.dir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("pool: create trace directory for run %q: %w", runID, err)
	}

	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return fmt.Errorf("pool: encode trace for run %q: %w", runID, err)
	}

	return os.WriteFile(filepath.Join(runDir, "trace.json"), data, 0o644)
}

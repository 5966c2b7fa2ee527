package tester

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ksparavec/reachsim/internal/model"
)

// FileSink is the production model.ReportSink: one JSON file per service
// plus "summary.json", written into the run directory (§6 "Service result
// document"/"Progress log"). Grounded on internal/pool's FileTraceSink,
// the same MkdirAll-then-WriteFile shape applied to a different payload.
type FileSink struct{}

func (FileSink) WriteServiceResult(runDir, fileName string, doc model.ServiceResultDocument) error {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("tester: create run directory %q: %w", runDir, err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("tester: encode service result %q: %w", fileName, err)
	}
	return os.WriteFile(filepath.Join(runDir, fileName), data, 0o644)
}

func (FileSink) WriteSummary(runDir string, summary model.RunSummary) error {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("tester: create run directory %q: %w", runDir, err)
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("tester: encode run summary: %w", err)
	}
	return os.WriteFile(filepath.Join(runDir, "summary.json"), data, 0o644)
}

// Package render is the leader-side adapter that turns a completed job's
// accumulated step results into the downloadable artifact. The actual PDF
// rendering engine is an external collaborator; this package is the thin
// local adapter the scheduler's completion path calls into. Rendering
// failures are logged and do not reopen the job.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jobcluster/coordinator/internal/job"
)

// Structured mirrors the structure step's result shape.
type Structured struct {
	Abstract    string `json:"abstract"`
	Objectives  string `json:"objectives"`
	Methodology string `json:"methodology"`
	Outcome     string `json:"outcome"`
}

// Renderer produces the final artifact for a completed job.
type Renderer interface {
	Render(j *job.Job) (path string, err error)
}

// FileRenderer writes a plain-text summary artifact to outputs/. Each
// node's FileRenderer only ever renders jobs produced by that node's own
// scheduler, so there's no cross-node coordination to worry about.
type FileRenderer struct {
	OutputDir string
}

// NewFileRenderer builds a FileRenderer rooted at dir ("outputs" when dir
// is empty). The directory is created by Render, not here.
func NewFileRenderer(dir string) *FileRenderer {
	if dir == "" {
		dir = "outputs"
	}
	return &FileRenderer{OutputDir: dir}
}

// Render collects the summarize and structure results and writes them to
// outputs/<job_id>_summary.txt.
func (r *FileRenderer) Render(j *job.Job) (string, error) {
	if err := os.MkdirAll(r.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("render: create output dir: %w", err)
	}

	var summary string
	if _, err := j.StepResult(job.StepSummarize, &summary); err != nil {
		return "", fmt.Errorf("render: decode summary: %w", err)
	}

	var structured Structured
	if _, err := j.StepResult(job.StepStructure, &structured); err != nil {
		return "", fmt.Errorf("render: decode structure: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Project Summary Report\n")
	fmt.Fprintf(&b, "Job: %s\n\n", j.ID)
	fmt.Fprintf(&b, "Summary:\n%s\n\n", summary)
	fmt.Fprintf(&b, "Abstract:\n%s\n\n", structured.Abstract)
	fmt.Fprintf(&b, "Objectives:\n%s\n\n", structured.Objectives)
	fmt.Fprintf(&b, "Methodology:\n%s\n\n", structured.Methodology)
	fmt.Fprintf(&b, "Outcome:\n%s\n", structured.Outcome)

	path := ArtifactPath(r.OutputDir, j.ID)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("render: write artifact: %w", err)
	}
	return path, nil
}

// ArtifactPath returns the filesystem path a job's rendered artifact
// lives (or would live) at, matching the layout in the external
// interfaces section: outputs/<job_id>_summary.<ext>.
func ArtifactPath(dir, jobID string) string {
	return filepath.Join(dir, jobID+"_summary.txt")
}

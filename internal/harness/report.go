package harness

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/wgctest/internal/artifact"
	"github.com/breeze-rmm/wgctest/internal/logging"
)

// Result is the outcome of one scenario.
type Result struct {
	Name        string             `yaml:"name"`
	Status      Status             `yaml:"status"`
	Message     string             `yaml:"message,omitempty"`
	DurationMs  int64              `yaml:"duration_ms"`
	Artifact    *artifact.Artifact `yaml:"artifact,omitempty"`
	Logs        []logging.Entry    `yaml:"logs,omitempty"`
	DroppedLogs int64              `yaml:"dropped_logs,omitempty"`
}

// Line is the console form of the result.
func (r Result) Line() string {
	if r.Status == StatusPassed {
		return r.Name + ": " + string(StatusPassed)
	}
	return fmt.Sprintf("%s: %s - %s", r.Name, r.Status, strings.TrimRight(r.Message, "\n"))
}

type Summary struct {
	Total   int `yaml:"total"`
	Passed  int `yaml:"passed"`
	Failed  int `yaml:"failed"`
	Skipped int `yaml:"skipped"`
}

// Report covers a whole run.
type Report struct {
	StartedAt  time.Time `yaml:"started_at"`
	FinishedAt time.Time `yaml:"finished_at"`
	Backend    string    `yaml:"backend"`
	Host       *Host     `yaml:"host,omitempty"`
	LogFiles   []string  `yaml:"log_files,omitempty"`
	Results    []Result  `yaml:"results"`
	Summary    Summary   `yaml:"summary"`
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	r.Summary.Total++
	switch res.Status {
	case StatusPassed:
		r.Summary.Passed++
	case StatusFailed:
		r.Summary.Failed++
	case StatusSkipped:
		r.Summary.Skipped++
	}
}

// Failed reports whether any scenario failed.
func (r *Report) Failed() bool { return r.Summary.Failed > 0 }

// Encode writes the report as YAML.
func (r *Report) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// WriteFile writes the report to path, creating parent directories.
func (r *Report) WriteFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

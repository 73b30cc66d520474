// Package inspect renders reports about recorded command runs.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/commandxml/internal/journal"
)

// Source reads recorded runs.
type Source interface {
	Get(ctx context.Context, id string) (*journal.Run, error)
	ByDigest(ctx context.Context, digest string) ([]journal.Run, error)
}

// Report describes one run and the batch of runs dispatched from the same
// channel document version.
type Report struct {
	RunID      string    `json:"run_id"`
	Command    string    `json:"command"`
	Mode       string    `json:"mode"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DocDigest  string    `json:"doc_digest,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Batch      []Step    `json:"batch"`
}

// Step is one run in the batch, in dispatch order.
type Step struct {
	Index      int    `json:"index"`
	RunID      string `json:"run_id"`
	Command    string `json:"command"`
	Mode       string `json:"mode"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	Current    bool   `json:"current,omitempty"`
}

// BuildReport renders a terminal-friendly report for a run.
func BuildReport(ctx context.Context, src Source, runID string) (string, error) {
	report, err := gatherReportData(ctx, src, runID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Run Report\n")
	fmt.Fprintf(&out, "Run ID      : %s\n", report.RunID)
	fmt.Fprintf(&out, "Command     : %s\n", report.Command)
	fmt.Fprintf(&out, "Mode        : %s\n", report.Mode)
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Started     : %s\n", report.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&out, "Duration    : %s\n", time.Duration(report.DurationMS)*time.Millisecond)
	fmt.Fprintf(&out, "Document    : %s\n", renderUnset(shortDigest(report.DocDigest), "<none>"))
	if report.Error != "" {
		fmt.Fprintf(&out, "Error       :\n")
		for _, line := range strings.Split(strings.TrimSpace(report.Error), "\n") {
			fmt.Fprintf(&out, "  %s\n", line)
		}
	}

	if len(report.Batch) > 0 {
		fmt.Fprintf(&out, "\nSame document (%d run(s)):\n", len(report.Batch))
		for _, step := range report.Batch {
			marker := " "
			if step.Current {
				marker = ">"
			}
			fmt.Fprintf(&out, "%s [%d] %-16s %-10s %-9s %s\n",
				marker, step.Index, step.Command, step.Mode, step.Status,
				time.Duration(step.DurationMS)*time.Millisecond)
			if step.Error != "" && !step.Current {
				fmt.Fprintf(&out, "      %s\n", firstLine(step.Error))
			}
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, src Source, runID string) (string, error) {
	report, err := gatherReportData(ctx, src, runID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, src Source, runID string) (*Report, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run id is required")
	}

	run, err := src.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:      run.ID,
		Command:    run.Command,
		Mode:       string(run.Mode),
		Status:     string(run.Status),
		Error:      run.Error,
		DocDigest:  run.DocDigest,
		StartedAt:  run.StartedAt,
		DurationMS: run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
		Batch:      make([]Step, 0),
	}
	// Cleanup runs and rejected slots may have no document.
	if run.DocDigest == "" {
		return report, nil
	}

	batch, err := src.ByDigest(ctx, run.DocDigest)
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}
	report.Batch = make([]Step, 0, len(batch))
	for i, r := range batch {
		report.Batch = append(report.Batch, Step{
			Index:      i + 1,
			RunID:      r.ID,
			Command:    r.Command,
			Mode:       string(r.Mode),
			Status:     string(r.Status),
			DurationMS: r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
			Error:      r.Error,
			Current:    r.ID == run.ID,
		})
	}
	return report, nil
}

func shortDigest(d string) string {
	if len(d) > 16 {
		return d[:16]
	}
	return d
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

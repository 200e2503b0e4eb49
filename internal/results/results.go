// Package results persists the outcome of a run as two artifacts: a plain
// list of working links and a detailed JSON report.
package results

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkcheck/internal/checker"
)

const (
	fileStamp   = "20060102_150405"
	headerStamp = "2006-01-02 15:04:05"
)

// Run is everything the report needs to know about a finished run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Stopped    bool
	Reason     string
	Stats      checker.Stats
	Results    []checker.TaskResult
}

// Metadata heads the detailed report.
type Metadata struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Stopped    bool          `json:"stopped"`
	Reason     string        `json:"reason,omitempty"`
	Stats      checker.Stats `json:"stats"`
}

// Report is the detailed JSON document.
type Report struct {
	Metadata Metadata             `json:"metadata"`
	Results  []checker.TaskResult `json:"results"`
}

// Artifacts lists the URIs written for a run. WorkingLinks is empty when no
// link worked.
type Artifacts struct {
	WorkingLinks string `json:"working_links,omitempty"`
	Detailed     string `json:"detailed"`
}

// Writer renders reports into a BlobStore.
type Writer struct {
	store  checker.BlobStore
	logger *zap.Logger
}

// NewWriter returns a Writer backed by store.
func NewWriter(store checker.BlobStore, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{store: store, logger: logger.Named("results")}
}

// Write stores both artifacts. File names carry the run start time.
func (w *Writer) Write(ctx context.Context, run Run) (Artifacts, error) {
	var out Artifacts
	stamp := run.StartedAt.UTC().Format(fileStamp)

	working := WorkingLinks(run.Results)
	if len(working) > 0 {
		uri, err := w.store.PutObject(ctx, "working_links_"+stamp+".txt", "text/plain; charset=utf-8",
			bytes.NewReader(RenderWorkingLinks(working, run.FinishedAt)))
		if err != nil {
			return out, fmt.Errorf("write working links: %w", err)
		}
		out.WorkingLinks = uri
		w.logger.Info("saved working links", zap.Int("count", len(working)), zap.String("uri", uri))
	}

	payload, err := RenderReport(run)
	if err != nil {
		return out, err
	}
	uri, err := w.store.PutObject(ctx, "detailed_results_"+stamp+".json", "application/json", bytes.NewReader(payload))
	if err != nil {
		return out, fmt.Errorf("write detailed results: %w", err)
	}
	out.Detailed = uri
	w.logger.Info("saved detailed results", zap.Int("count", len(run.Results)), zap.String("uri", uri))
	return out, nil
}

// WorkingLinks filters results down to WORKING ones, keeping order.
func WorkingLinks(all []checker.TaskResult) []checker.TaskResult {
	out := make([]checker.TaskResult, 0, len(all))
	for _, r := range all {
		if r.Outcome == checker.OutcomeWorking {
			out = append(out, r)
		}
	}
	return out
}

// RenderWorkingLinks produces the human-readable working links file.
func RenderWorkingLinks(working []checker.TaskResult, generated time.Time) []byte {
	var buf bytes.Buffer
	buf.WriteString("# Working links\n")
	fmt.Fprintf(&buf, "# Generated: %s\n", generated.Format(headerStamp))
	fmt.Fprintf(&buf, "# Total: %d\n\n", len(working))
	for _, r := range working {
		fmt.Fprintf(&buf, "%s | %s | %s\n", r.URL, r.Detail, confidenceLabel(r.Confidence))
	}
	return buf.Bytes()
}

// RenderReport marshals the detailed report.
func RenderReport(run Run) ([]byte, error) {
	results := run.Results
	if results == nil {
		results = []checker.TaskResult{}
	}
	doc := Report{
		Metadata: Metadata{
			RunID:      run.ID,
			StartedAt:  run.StartedAt.UTC(),
			FinishedAt: run.FinishedAt.UTC(),
			Stopped:    run.Stopped,
			Reason:     run.Reason,
			Stats:      run.Stats,
		},
		Results: results,
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return append(payload, '\n'), nil
}

func confidenceLabel(c checker.Confidence) string {
	if c == checker.ConfidenceNone {
		return "-"
	}
	return string(c)
}

// Package analysis holds the steps that turn an uploaded analysis report into the
// persisted analysis of a subject.
package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/osvaldoandrade/reportq/pkg/domain"
)

// Entries of a report archive. Only metadata.json is required.
const (
	MetadataFile = "metadata.json"
	MeasuresFile = "measures.json"
	IssuesFile   = "issues.json"
)

// ReportHolder is the per-task working area of an analysis: the extracted archive on
// disk plus everything the steps read from it or compute. Steps run sequentially, so
// fields are not guarded.
type ReportHolder struct {
	dir string

	Metadata         *domain.ReportMetadata
	Subject          *domain.Subject
	Measures         []domain.Measure
	Issues           []domain.Issue
	QualityGate      domain.QualityGateStatus
	FailedConditions []string
	Previous         *domain.Analysis
	Analysis         *domain.Analysis
}

// NewReportHolder creates an empty working directory. Close removes it.
func NewReportHolder() (*ReportHolder, error) {
	dir, err := os.MkdirTemp("", "reportq-report-*")
	if err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	return &ReportHolder{dir: dir}, nil
}

func (h *ReportHolder) Dir() string { return h.dir }

func (h *ReportHolder) extractedDir() string { return filepath.Join(h.dir, "report") }

// Path returns the location of an extracted archive entry.
func (h *ReportHolder) Path(name string) string {
	return filepath.Join(h.extractedDir(), filepath.FromSlash(name))
}

// Measure returns the value of metric, if present.
func (h *ReportHolder) Measure(metric string) (float64, bool) {
	for _, m := range h.Measures {
		if m.Metric == metric {
			return m.Value, true
		}
	}
	return 0, false
}

// SetMeasure adds m or replaces the measure of the same metric.
func (h *ReportHolder) SetMeasure(m domain.Measure) {
	for i := range h.Measures {
		if h.Measures[i].Metric == m.Metric {
			h.Measures[i].Value = m.Value
			return
		}
	}
	h.Measures = append(h.Measures, m)
}

// readJSON decodes an extracted entry into v. A missing optional entry leaves v
// untouched and reports false.
func (h *ReportHolder) readJSON(name string, v any, required bool) (bool, error) {
	data, err := os.ReadFile(h.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		if required {
			return false, fmt.Errorf("report has no %s", name)
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

func (h *ReportHolder) Close() error {
	return os.RemoveAll(h.dir)
}

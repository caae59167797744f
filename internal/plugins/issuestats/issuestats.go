// Package issuestats contributes issue statistics to analysis tasks. Importing it
// registers the extension.
package issuestats

import (
	"math"
	"strings"

	"github.com/osvaldoandrade/reportq/internal/steps/analysis"
	"github.com/osvaldoandrade/reportq/pkg/container"
	"github.com/osvaldoandrade/reportq/pkg/domain"
	"github.com/osvaldoandrade/reportq/pkg/extension"
)

const Name = "issuestats"

func init() {
	extension.Register(extension.ProviderFunc{ID: Name, Fn: Components})
}

// Components returns a ready severity counter and a deferred density computer.
func Components() []container.Component {
	return []container.Component{
		container.Ready(SeverityCounter{}),
		container.Deferred(NewDensityComputer),
	}
}

var severities = []domain.Severity{
	domain.SeverityBlocker,
	domain.SeverityCritical,
	domain.SeverityMajor,
	domain.SeverityMinor,
	domain.SeverityInfo,
}

// SeverityCounter emits <severity>_violations for every severity, zeros included.
type SeverityCounter struct{}

func (SeverityCounter) Compute(report *analysis.ReportHolder) ([]domain.Measure, error) {
	counts := make(map[domain.Severity]int, len(severities))
	for _, is := range report.Issues {
		counts[is.Severity]++
	}
	out := make([]domain.Measure, 0, len(severities))
	for _, s := range severities {
		out = append(out, domain.Measure{
			Metric: strings.ToLower(string(s)) + "_violations",
			Value:  float64(counts[s]),
		})
	}
	return out, nil
}

// DensityComputer emits issue_density, the number of issues per thousand lines of
// code, when the report carries ncloc.
type DensityComputer struct {
	perLines float64
}

func NewDensityComputer() *DensityComputer {
	return &DensityComputer{perLines: 1000}
}

func (d *DensityComputer) Compute(report *analysis.ReportHolder) ([]domain.Measure, error) {
	ncloc, ok := report.Measure("ncloc")
	if !ok || ncloc <= 0 {
		return nil, nil
	}
	density := float64(len(report.Issues)) * d.perLines / ncloc
	return []domain.Measure{{Metric: "issue_density", Value: math.Round(density*100) / 100}}, nil
}

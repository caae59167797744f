package analysis

import (
	"fmt"

	"github.com/osvaldoandrade/reportq/pkg/domain"
	"github.com/osvaldoandrade/reportq/pkg/step"
)

// MeasureComputer derives measures from a loaded report. Extensions contribute
// computers by registering components that implement it.
type MeasureComputer interface {
	Compute(report *ReportHolder) ([]domain.Measure, error)
}

// ComputeMeasuresStep adds the built-in derived measures, then those of every
// contributed MeasureComputer, in registration order.
type ComputeMeasuresStep struct {
	report    *ReportHolder
	computers []MeasureComputer
}

func NewComputeMeasuresStep(report *ReportHolder, computers []MeasureComputer) *ComputeMeasuresStep {
	return &ComputeMeasuresStep{report: report, computers: computers}
}

func (s *ComputeMeasuresStep) Description() string { return "Compute measures" }

func (s *ComputeMeasuresStep) Execute(ctx step.Context) error {
	s.report.SetMeasure(domain.Measure{Metric: "issues", Value: float64(len(s.report.Issues))})
	for _, c := range s.computers {
		if err := ctx.Err(); err != nil {
			return err
		}
		ms, err := c.Compute(s.report)
		if err != nil {
			return fmt.Errorf("%T: %w", c, err)
		}
		for _, m := range ms {
			s.report.SetMeasure(m)
		}
	}
	return nil
}

package analysis

import (
	"fmt"

	"github.com/osvaldoandrade/reportq/internal/settings"
	"github.com/osvaldoandrade/reportq/pkg/domain"
	"github.com/osvaldoandrade/reportq/pkg/step"
)

// QualityGateStep evaluates the report against the thresholds in settings. A failed
// gate is a result, not a step failure.
type QualityGateStep struct {
	report *ReportHolder
	loader *settings.Loader
}

func NewQualityGateStep(report *ReportHolder, loader *settings.Loader) *QualityGateStep {
	return &QualityGateStep{report: report, loader: loader}
}

func (s *QualityGateStep) Description() string { return "Evaluate quality gate" }

func (s *QualityGateStep) Execute(ctx step.Context) error {
	cfg, err := s.loader.Load(ctx)
	if err != nil {
		return err
	}
	maxBlocker, err := cfg.Int(settings.KeyMaxBlockerIssues, 0)
	if err != nil {
		return err
	}
	maxCritical, err := cfg.Int(settings.KeyMaxCriticalIssues, -1)
	if err != nil {
		return err
	}
	minCoverage, err := cfg.Float(settings.KeyMinCoverage, 0)
	if err != nil {
		return err
	}

	counts := map[domain.Severity]int{}
	for _, is := range s.report.Issues {
		counts[is.Severity]++
	}

	var failed []string
	// Negative thresholds disable the condition.
	if maxBlocker >= 0 && counts[domain.SeverityBlocker] > maxBlocker {
		failed = append(failed, fmt.Sprintf("blocker issues %d > %d", counts[domain.SeverityBlocker], maxBlocker))
	}
	if maxCritical >= 0 && counts[domain.SeverityCritical] > maxCritical {
		failed = append(failed, fmt.Sprintf("critical issues %d > %d", counts[domain.SeverityCritical], maxCritical))
	}
	if cov, ok := s.report.Measure("coverage"); ok && minCoverage > 0 && cov < minCoverage {
		failed = append(failed, fmt.Sprintf("coverage %.1f < %.1f", cov, minCoverage))
	}

	s.report.FailedConditions = failed
	s.report.QualityGate = domain.QualityGateOK
	if len(failed) > 0 {
		s.report.QualityGate = domain.QualityGateError
	}
	ctx.AddDiagnostic("qualityGate", string(s.report.QualityGate))
	return nil
}

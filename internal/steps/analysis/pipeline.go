package analysis

import (
	"github.com/osvaldoandrade/reportq/pkg/domain"
	"github.com/osvaldoandrade/reportq/pkg/step"
)

// Pipeline is the ordered step list of ANALYSIS_REPORT tasks.
var Pipeline = step.NewRegistry(domain.KindAnalysisReport,
	NewExtractReportStep,
	NewLoadReportMetadataStep,
	NewValidateSubjectStep,
	NewLoadMeasuresStep,
	NewLoadIssuesStep,
	NewComputeMeasuresStep,
	NewQualityGateStep,
	NewPersistAnalysisStep,
	NewPersistMeasuresStep,
	NewPersistIssuesStep,
	NewPersistEventsStep,
)

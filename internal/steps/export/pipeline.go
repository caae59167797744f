package export

import (
	"github.com/osvaldoandrade/reportq/pkg/domain"
	"github.com/osvaldoandrade/reportq/pkg/step"
)

// Pipeline is the ordered step list of EXPORT tasks.
var Pipeline = step.NewRegistry(domain.KindExport,
	NewExportMetadataStep,
	NewExportSubjectStep,
	NewExportBranchesStep,
	NewExportSettingsStep,
	NewExportAccessRulesStep,
	NewExportAnalysesStep,
	NewExportMeasuresStep,
	NewExportIssuesStep,
	NewExportEventsStep,
	NewPublishDumpStep,
)

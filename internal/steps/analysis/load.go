package analysis

import (
	"fmt"
	"strconv"

	"github.com/osvaldoandrade/reportq/internal/repository"
	"github.com/osvaldoandrade/reportq/pkg/domain"
	"github.com/osvaldoandrade/reportq/pkg/reportstore"
	"github.com/osvaldoandrade/reportq/pkg/step"

	"github.com/google/uuid"
)

// ExtractReportStep unpacks the staged payload of the task into the report holder.
type ExtractReportStep struct {
	task   *domain.Task
	store  reportstore.Store
	report *ReportHolder
}

func NewExtractReportStep(task *domain.Task, store reportstore.Store, report *ReportHolder) *ExtractReportStep {
	return &ExtractReportStep{task: task, store: store, report: report}
}

func (s *ExtractReportStep) Description() string { return "Extract report" }

func (s *ExtractReportStep) Execute(ctx step.Context) error {
	h := s.store.Fetch(s.task.ID)
	rc, err := h.Open(ctx)
	if err != nil {
		return fmt.Errorf("open payload %s: %w", h.Location(), err)
	}
	defer rc.Close()

	n, err := s.report.extract(ctx, rc)
	if err != nil {
		return err
	}
	ctx.AddDiagnostic("files", strconv.Itoa(n))
	return nil
}

// LoadReportMetadataStep reads metadata.json.
type LoadReportMetadataStep struct {
	task   *domain.Task
	report *ReportHolder
}

func NewLoadReportMetadataStep(task *domain.Task, report *ReportHolder) *LoadReportMetadataStep {
	return &LoadReportMetadataStep{task: task, report: report}
}

func (s *LoadReportMetadataStep) Description() string { return "Load report metadata" }

func (s *LoadReportMetadataStep) Execute(ctx step.Context) error {
	var md domain.ReportMetadata
	if _, err := s.report.readJSON(MetadataFile, &md, true); err != nil {
		return err
	}
	if md.ProjectKey == "" {
		return fmt.Errorf("%s: projectKey is required", MetadataFile)
	}
	if md.AnalysisDate.IsZero() {
		md.AnalysisDate = s.task.CreatedAt
	}
	s.report.Metadata = &md
	ctx.AddDiagnostic("projectKey", md.ProjectKey)
	return nil
}

// ValidateSubjectStep checks that the report was produced for the subject the task
// was submitted against.
type ValidateSubjectStep struct {
	task     *domain.Task
	subjects repository.SubjectRepository
	report   *ReportHolder
}

func NewValidateSubjectStep(task *domain.Task, subjects repository.SubjectRepository, report *ReportHolder) *ValidateSubjectStep {
	return &ValidateSubjectStep{task: task, subjects: subjects, report: report}
}

func (s *ValidateSubjectStep) Description() string { return "Validate subject" }

func (s *ValidateSubjectStep) Execute(ctx step.Context) error {
	subject, err := s.subjects.Get(ctx, s.task.SubjectID)
	if err != nil {
		return fmt.Errorf("subject %s: %w", s.task.SubjectID, err)
	}
	md := s.report.Metadata
	if md == nil {
		return fmt.Errorf("report metadata not loaded")
	}
	if md.ProjectKey != subject.Key {
		return fmt.Errorf("report is for project %q, task targets %q", md.ProjectKey, subject.Key)
	}
	if md.Branch != "" && md.Branch != subject.Branch {
		return fmt.Errorf("report is for branch %q, task targets %q", md.Branch, subject.Branch)
	}
	s.report.Subject = subject
	return nil
}

// LoadMeasuresStep reads the raw measures of the report.
type LoadMeasuresStep struct {
	report *ReportHolder
}

func NewLoadMeasuresStep(report *ReportHolder) *LoadMeasuresStep {
	return &LoadMeasuresStep{report: report}
}

func (s *LoadMeasuresStep) Description() string { return "Load measures" }

func (s *LoadMeasuresStep) Execute(ctx step.Context) error {
	var measures []domain.Measure
	if _, err := s.report.readJSON(MeasuresFile, &measures, false); err != nil {
		return err
	}
	seen := make(map[string]bool, len(measures))
	for _, m := range measures {
		if m.Metric == "" {
			return fmt.Errorf("%s: measure without metric", MeasuresFile)
		}
		if seen[m.Metric] {
			return fmt.Errorf("%s: duplicate metric %q", MeasuresFile, m.Metric)
		}
		seen[m.Metric] = true
	}
	s.report.Measures = measures
	ctx.AddDiagnostic("measures", strconv.Itoa(len(measures)))
	return nil
}

// LoadIssuesStep reads the issues of the report. Issues without a key get one.
type LoadIssuesStep struct {
	report *ReportHolder
}

func NewLoadIssuesStep(report *ReportHolder) *LoadIssuesStep {
	return &LoadIssuesStep{report: report}
}

func (s *LoadIssuesStep) Description() string { return "Load issues" }

func (s *LoadIssuesStep) Execute(ctx step.Context) error {
	var issues []domain.Issue
	if _, err := s.report.readJSON(IssuesFile, &issues, false); err != nil {
		return err
	}
	for i := range issues {
		is := &issues[i]
		if is.Rule == "" {
			return fmt.Errorf("%s: issue %d has no rule", IssuesFile, i)
		}
		if !is.Severity.Valid() {
			return fmt.Errorf("%s: issue %d has invalid severity %q", IssuesFile, i, is.Severity)
		}
		if is.Key == "" {
			is.Key = uuid.NewString()
		}
	}
	s.report.Issues = issues
	ctx.AddDiagnostic("issues", strconv.Itoa(len(issues)))
	return nil
}

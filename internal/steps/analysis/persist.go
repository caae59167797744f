package analysis

import (
	"errors"
	"strconv"
	"time"

	"github.com/osvaldoandrade/reportq/internal/repository"
	"github.com/osvaldoandrade/reportq/pkg/domain"
	"github.com/osvaldoandrade/reportq/pkg/step"

	"github.com/google/uuid"
)

var errNoAnalysis = errors.New("analysis not persisted")

// PersistAnalysisStep records the analysis of the subject.
type PersistAnalysisStep struct {
	task     *domain.Task
	analyses repository.AnalysisRepository
	report   *ReportHolder
}

func NewPersistAnalysisStep(task *domain.Task, analyses repository.AnalysisRepository, report *ReportHolder) *PersistAnalysisStep {
	return &PersistAnalysisStep{task: task, analyses: analyses, report: report}
}

func (s *PersistAnalysisStep) Description() string { return "Persist analysis" }

func (s *PersistAnalysisStep) Execute(ctx step.Context) error {
	if s.report.Subject == nil || s.report.Metadata == nil {
		return errors.New("subject not validated")
	}
	prev, err := s.analyses.LastAnalysis(ctx, s.report.Subject.ID)
	if err != nil {
		return err
	}
	a := &domain.Analysis{
		ID:               uuid.NewString(),
		TaskID:           s.task.ID,
		SubjectID:        s.report.Subject.ID,
		Date:             s.report.Metadata.AnalysisDate,
		ScannerVersion:   s.report.Metadata.ScannerVersion,
		QualityGate:      s.report.QualityGate,
		FailedConditions: s.report.FailedConditions,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.analyses.SaveAnalysis(ctx, a); err != nil {
		return err
	}
	s.report.Previous = prev
	s.report.Analysis = a
	ctx.AddDiagnostic("analysisId", a.ID)
	return nil
}

type PersistMeasuresStep struct {
	analyses repository.AnalysisRepository
	report   *ReportHolder
}

func NewPersistMeasuresStep(analyses repository.AnalysisRepository, report *ReportHolder) *PersistMeasuresStep {
	return &PersistMeasuresStep{analyses: analyses, report: report}
}

func (s *PersistMeasuresStep) Description() string { return "Persist measures" }

func (s *PersistMeasuresStep) Execute(ctx step.Context) error {
	if s.report.Analysis == nil {
		return errNoAnalysis
	}
	return s.analyses.SaveMeasures(ctx, s.report.Analysis.ID, s.report.Measures)
}

// PersistIssuesStep replaces the open issues of the subject with those of the report.
type PersistIssuesStep struct {
	analyses repository.AnalysisRepository
	report   *ReportHolder
}

func NewPersistIssuesStep(analyses repository.AnalysisRepository, report *ReportHolder) *PersistIssuesStep {
	return &PersistIssuesStep{analyses: analyses, report: report}
}

func (s *PersistIssuesStep) Description() string { return "Persist issues" }

func (s *PersistIssuesStep) Execute(ctx step.Context) error {
	if s.report.Analysis == nil {
		return errNoAnalysis
	}
	return s.analyses.ReplaceIssues(ctx, s.report.Analysis.SubjectID, s.report.Issues)
}

// PersistEventsStep records what changed since the previous analysis.
type PersistEventsStep struct {
	analyses repository.AnalysisRepository
	report   *ReportHolder
}

func NewPersistEventsStep(analyses repository.AnalysisRepository, report *ReportHolder) *PersistEventsStep {
	return &PersistEventsStep{analyses: analyses, report: report}
}

func (s *PersistEventsStep) Description() string { return "Persist events" }

func (s *PersistEventsStep) Execute(ctx step.Context) error {
	cur := s.report.Analysis
	if cur == nil {
		return errNoAnalysis
	}
	events := analysisEvents(s.report.Previous, cur)
	ctx.AddDiagnostic("events", strconv.Itoa(len(events)))
	return s.analyses.AddEvents(ctx, cur.SubjectID, events)
}

func analysisEvents(prev, cur *domain.Analysis) []domain.Event {
	var out []domain.Event
	gateChanged := prev == nil && cur.QualityGate == domain.QualityGateError ||
		prev != nil && prev.QualityGate != cur.QualityGate
	if gateChanged {
		name := "Green"
		if cur.QualityGate == domain.QualityGateError {
			name = "Red"
		}
		out = append(out, domain.Event{AnalysisID: cur.ID, Category: "QUALITY_GATE", Name: name, Date: cur.Date})
	}
	if prev != nil && cur.ScannerVersion != "" && prev.ScannerVersion != cur.ScannerVersion {
		out = append(out, domain.Event{AnalysisID: cur.ID, Category: "SCANNER", Name: cur.ScannerVersion, Date: cur.Date})
	}
	return out
}

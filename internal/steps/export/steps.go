package export

import (
	"strconv"
	"time"

	"github.com/osvaldoandrade/reportq/internal/repository"
	"github.com/osvaldoandrade/reportq/internal/settings"
	"github.com/osvaldoandrade/reportq/pkg/domain"
	"github.com/osvaldoandrade/reportq/pkg/step"
)

type dumpMetadata struct {
	FormatVersion int       `json:"formatVersion"`
	TaskID        string    `json:"taskId"`
	SubmitterID   string    `json:"submitterId,omitempty"`
	ExportedAt    time.Time `json:"exportedAt"`
}

type ExportMetadataStep struct {
	task *domain.Task
	dump *DumpWriter
}

func NewExportMetadataStep(task *domain.Task, dump *DumpWriter) *ExportMetadataStep {
	return &ExportMetadataStep{task: task, dump: dump}
}

func (s *ExportMetadataStep) Description() string { return "Export metadata" }

func (s *ExportMetadataStep) Execute(ctx step.Context) error {
	return s.dump.WriteJSON("metadata.json", dumpMetadata{
		FormatVersion: DumpFormatVersion,
		TaskID:        s.task.ID,
		SubmitterID:   s.task.SubmitterID,
		ExportedAt:    time.Now().UTC(),
	})
}

type ExportSubjectStep struct {
	task     *domain.Task
	subjects repository.SubjectRepository
	dump     *DumpWriter
}

func NewExportSubjectStep(task *domain.Task, subjects repository.SubjectRepository, dump *DumpWriter) *ExportSubjectStep {
	return &ExportSubjectStep{task: task, subjects: subjects, dump: dump}
}

func (s *ExportSubjectStep) Description() string { return "Export subject" }

func (s *ExportSubjectStep) Execute(ctx step.Context) error {
	subject, err := s.subjects.Get(ctx, s.task.SubjectID)
	if err != nil {
		return err
	}
	s.dump.Subject = subject
	return s.dump.WriteJSON("subject.json", subject)
}

// ExportBranchesStep lists every branch sharing the subject key.
type ExportBranchesStep struct {
	subjects repository.SubjectRepository
	dump     *DumpWriter
}

func NewExportBranchesStep(subjects repository.SubjectRepository, dump *DumpWriter) *ExportBranchesStep {
	return &ExportBranchesStep{subjects: subjects, dump: dump}
}

func (s *ExportBranchesStep) Description() string { return "Export branches" }

func (s *ExportBranchesStep) Execute(ctx step.Context) error {
	if s.dump.Subject == nil {
		return errNoSubject
	}
	branches, err := s.subjects.ListBranches(ctx, s.dump.Subject.Key)
	if err != nil {
		return err
	}
	return s.dump.WriteJSON("branches.json", branches)
}

// ExportSettingsStep writes the effective settings of the subject.
type ExportSettingsStep struct {
	loader *settings.Loader
	dump   *DumpWriter
}

func NewExportSettingsStep(loader *settings.Loader, dump *DumpWriter) *ExportSettingsStep {
	return &ExportSettingsStep{loader: loader, dump: dump}
}

func (s *ExportSettingsStep) Description() string { return "Export settings" }

func (s *ExportSettingsStep) Execute(ctx step.Context) error {
	cfg, err := s.loader.Load(ctx)
	if err != nil {
		return err
	}
	return s.dump.WriteJSON("settings.json", cfg)
}

type ExportAccessRulesStep struct {
	permissions repository.PermissionRepository
	dump        *DumpWriter
}

func NewExportAccessRulesStep(permissions repository.PermissionRepository, dump *DumpWriter) *ExportAccessRulesStep {
	return &ExportAccessRulesStep{permissions: permissions, dump: dump}
}

func (s *ExportAccessRulesStep) Description() string { return "Export access rules" }

func (s *ExportAccessRulesStep) Execute(ctx step.Context) error {
	if s.dump.Subject == nil {
		return errNoSubject
	}
	grants, err := s.permissions.ListGrants(ctx, s.dump.Subject.ID)
	if err != nil {
		return err
	}
	if grants == nil {
		grants = []domain.Grant{}
	}
	return s.dump.WriteJSON("access_rules.json", grants)
}

type ExportAnalysesStep struct {
	analyses repository.AnalysisRepository
	dump     *DumpWriter
}

func NewExportAnalysesStep(analyses repository.AnalysisRepository, dump *DumpWriter) *ExportAnalysesStep {
	return &ExportAnalysesStep{analyses: analyses, dump: dump}
}

func (s *ExportAnalysesStep) Description() string { return "Export analyses" }

func (s *ExportAnalysesStep) Execute(ctx step.Context) error {
	if s.dump.Subject == nil {
		return errNoSubject
	}
	all, err := s.analyses.ListAnalyses(ctx, s.dump.Subject.ID)
	if err != nil {
		return err
	}
	if len(all) > 0 {
		s.dump.LastAnalysis = &all[0]
	}
	ctx.AddDiagnostic("analyses", strconv.Itoa(len(all)))
	return s.dump.WriteJSON("analyses.json", all)
}

// ExportMeasuresStep writes the measures of the most recent analysis.
type ExportMeasuresStep struct {
	analyses repository.AnalysisRepository
	dump     *DumpWriter
}

func NewExportMeasuresStep(analyses repository.AnalysisRepository, dump *DumpWriter) *ExportMeasuresStep {
	return &ExportMeasuresStep{analyses: analyses, dump: dump}
}

func (s *ExportMeasuresStep) Description() string { return "Export measures" }

func (s *ExportMeasuresStep) Execute(ctx step.Context) error {
	measures := []domain.Measure{}
	if a := s.dump.LastAnalysis; a != nil {
		var err error
		if measures, err = s.analyses.Measures(ctx, a.ID); err != nil {
			return err
		}
	}
	return s.dump.WriteJSON("measures.json", measures)
}

type ExportIssuesStep struct {
	analyses repository.AnalysisRepository
	dump     *DumpWriter
}

func NewExportIssuesStep(analyses repository.AnalysisRepository, dump *DumpWriter) *ExportIssuesStep {
	return &ExportIssuesStep{analyses: analyses, dump: dump}
}

func (s *ExportIssuesStep) Description() string { return "Export issues" }

func (s *ExportIssuesStep) Execute(ctx step.Context) error {
	if s.dump.Subject == nil {
		return errNoSubject
	}
	issues, err := s.analyses.Issues(ctx, s.dump.Subject.ID)
	if err != nil {
		return err
	}
	ctx.AddDiagnostic("issues", strconv.Itoa(len(issues)))
	return s.dump.WriteJSON("issues.json", issues)
}

type ExportEventsStep struct {
	analyses repository.AnalysisRepository
	dump     *DumpWriter
}

func NewExportEventsStep(analyses repository.AnalysisRepository, dump *DumpWriter) *ExportEventsStep {
	return &ExportEventsStep{analyses: analyses, dump: dump}
}

func (s *ExportEventsStep) Description() string { return "Export events" }

func (s *ExportEventsStep) Execute(ctx step.Context) error {
	if s.dump.Subject == nil {
		return errNoSubject
	}
	events, err := s.analyses.Events(ctx, s.dump.Subject.ID)
	if err != nil {
		return err
	}
	return s.dump.WriteJSON("events.json", events)
}

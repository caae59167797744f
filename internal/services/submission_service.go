package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"time"

	"github.com/osvaldoandrade/reportq/internal/metrics"
	"github.com/osvaldoandrade/reportq/internal/repository"
	"github.com/osvaldoandrade/reportq/internal/tracing"
	"github.com/osvaldoandrade/reportq/pkg/domain"
	"github.com/osvaldoandrade/reportq/pkg/reportstore"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxSubjectKeyLen = 400
	maxBranchLen     = 255
)

var (
	subjectKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)
	branchPattern     = regexp.MustCompile(`^[^\x00-\x1f\x7f]*$`)
)

type SubmitRequest struct {
	SubjectKey string
	Branch     string
	// Name is used when the subject is created by this submission.
	Name    string
	Payload io.ReadCloser
}

type SubmissionService interface {
	// Submit admits an analysis report: the payload is staged before the task becomes
	// visible to workers. The payload is always closed.
	Submit(ctx context.Context, req SubmitRequest, submitter Submitter) (*domain.Task, error)
	// SubmitExport queues an export of an existing subject.
	SubmitExport(ctx context.Context, subjectKey, branch string, submitter Submitter) (*domain.Task, error)
}

type submissionService struct {
	tasks       repository.TaskRepository
	subjects    repository.SubjectRepository
	permissions repository.PermissionRepository
	store       reportstore.Store
	logger      *slog.Logger
	now         func() time.Time
}

func NewSubmissionService(tasks repository.TaskRepository, subjects repository.SubjectRepository, permissions repository.PermissionRepository, store reportstore.Store, logger *slog.Logger, now func() time.Time) SubmissionService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &submissionService{tasks: tasks, subjects: subjects, permissions: permissions, store: store, logger: logger, now: now}
}

// ValidateSubjectKey checks the key and branch of a submission.
func ValidateSubjectKey(key, branch string) error {
	reason := ""
	switch {
	case key == "":
		reason = "key is empty"
	case len(key) > maxSubjectKeyLen:
		reason = fmt.Sprintf("key longer than %d characters", maxSubjectKeyLen)
	case !subjectKeyPattern.MatchString(key):
		reason = "key may only contain letters, digits and _ . : -"
	case len(branch) > maxBranchLen:
		reason = fmt.Sprintf("branch longer than %d characters", maxBranchLen)
	case !branchPattern.MatchString(branch):
		reason = "branch contains control characters"
	}
	if reason != "" {
		return &AdmissionError{Kind: ErrInvalidSubjectKey, SubjectKey: key, Reason: reason}
	}
	return nil
}

func (s *submissionService) Submit(ctx context.Context, req SubmitRequest, submitter Submitter) (task *domain.Task, err error) {
	staged := false
	defer func() {
		if !staged && req.Payload != nil {
			_ = req.Payload.Close()
		}
	}()

	ctx, span := otel.Tracer("reportq/submission").Start(ctx, "reportq.task.submit",
		trace.WithAttributes(
			attribute.String("reportq.kind", string(domain.KindAnalysisReport)),
			attribute.String("reportq.subject_key", req.SubjectKey),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if req.Payload == nil {
		return nil, errors.New("payload is required")
	}
	if err := ValidateSubjectKey(req.SubjectKey, req.Branch); err != nil {
		s.rejected(domain.KindAnalysisReport, "invalid_key")
		return nil, err
	}

	subject, err := s.admitSubject(ctx, req, submitter)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("reportq.subject_id", subject.ID))

	id := uuid.NewString()
	staged = true
	if err := s.store.Save(ctx, id, req.Payload); err != nil {
		s.rejected(domain.KindAnalysisReport, "staging")
		return nil, err
	}

	var chars domain.Characteristics
	if req.Branch != "" {
		chars = append(chars, domain.Characteristic{Key: domain.CharacteristicBranch, Value: req.Branch})
	}
	if req.Name != "" {
		chars = append(chars, domain.Characteristic{Key: domain.CharacteristicName, Value: req.Name})
	}
	task = s.newTask(ctx, id, domain.KindAnalysisReport, subject.ID, submitter, chars)
	span.SetAttributes(attribute.String("reportq.task_id", id))

	if err := s.tasks.Enqueue(ctx, task); err != nil {
		if derr := s.store.Delete(context.WithoutCancel(ctx), id); derr != nil {
			s.logger.Warn("remove staged payload after enqueue failure", "task_id", id, "err", derr)
		}
		return nil, fmt.Errorf("enqueue task: %w", err)
	}
	s.logger.Info("task submitted", "task_id", id, "kind", task.Kind, "subject_id", subject.ID, "submitter", submitter.ID)
	return task, nil
}

// admitSubject returns the target subject, creating and provisioning it on first
// submission. Nothing is written unless the submitter is allowed to proceed.
func (s *submissionService) admitSubject(ctx context.Context, req SubmitRequest, submitter Submitter) (*domain.Subject, error) {
	principals := submitter.Principals()
	subject, err := s.subjects.FindByKey(ctx, req.SubjectKey, req.Branch)
	if err == nil {
		if err := s.requireScan(ctx, subject, principals); err != nil {
			return nil, err
		}
		return subject, nil
	}
	if !errors.Is(err, repository.ErrSubjectNotFound) {
		return nil, err
	}

	ok, err := s.permissions.HasGlobal(ctx, domain.PermissionProvisioning, principals)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.rejected(domain.KindAnalysisReport, "permission")
		return nil, &AdmissionError{Kind: ErrPermissionDenied, SubjectKey: req.SubjectKey, Permission: domain.PermissionProvisioning}
	}

	name := req.Name
	if name == "" {
		name = req.SubjectKey
	}
	subject, err = s.subjects.Create(ctx, &domain.Subject{Key: req.SubjectKey, Branch: req.Branch, Name: name, CreatedBy: submitter.ID})
	if errors.Is(err, repository.ErrSubjectExists) {
		// Created concurrently by another submission.
		if subject, err = s.subjects.FindByKey(ctx, req.SubjectKey, req.Branch); err != nil {
			return nil, &SubjectCreationError{SubjectKey: req.SubjectKey, Branch: req.Branch, Err: err}
		}
		if err := s.requireScan(ctx, subject, principals); err != nil {
			return nil, err
		}
		return subject, nil
	}
	if err != nil {
		return nil, &SubjectCreationError{SubjectKey: req.SubjectKey, Branch: req.Branch, Err: err}
	}
	if err := s.permissions.Grant(ctx, subject.ID, DefaultAccessTemplate(submitter)); err != nil {
		// A subject without grants would lock its creator out of retries.
		if derr := s.subjects.Delete(context.WithoutCancel(ctx), subject.ID); derr != nil {
			s.logger.Warn("remove subject after grant failure", "subject_id", subject.ID, "err", derr)
		}
		return nil, &SubjectCreationError{SubjectKey: req.SubjectKey, Branch: req.Branch, Err: fmt.Errorf("apply default access: %w", err)}
	}
	s.logger.Info("subject created", "subject_id", subject.ID, "key", subject.Key, "branch", subject.Branch, "creator", submitter.ID)
	return subject, nil
}

func (s *submissionService) requireScan(ctx context.Context, subject *domain.Subject, principals []string) error {
	return s.require(ctx, subject, domain.PermissionScan, principals, domain.KindAnalysisReport)
}

// require checks permission on the subject, falling back to the global grant.
func (s *submissionService) require(ctx context.Context, subject *domain.Subject, permission string, principals []string, kind domain.Kind) error {
	ok, err := s.permissions.HasSubject(ctx, subject.ID, permission, principals)
	if err != nil {
		return err
	}
	if !ok {
		if ok, err = s.permissions.HasGlobal(ctx, permission, principals); err != nil {
			return err
		}
	}
	if !ok {
		s.rejected(kind, "permission")
		return &AdmissionError{Kind: ErrPermissionDenied, SubjectKey: subject.Key, Permission: permission}
	}
	return nil
}

func (s *submissionService) SubmitExport(ctx context.Context, subjectKey, branch string, submitter Submitter) (*domain.Task, error) {
	if err := ValidateSubjectKey(subjectKey, branch); err != nil {
		s.rejected(domain.KindExport, "invalid_key")
		return nil, err
	}
	principals := submitter.Principals()
	global, err := s.permissions.HasGlobal(ctx, domain.PermissionAdmin, principals)
	if err != nil {
		return nil, err
	}
	denied := &AdmissionError{Kind: ErrPermissionDenied, SubjectKey: subjectKey, Permission: domain.PermissionAdmin}
	subject, err := s.subjects.FindByKey(ctx, subjectKey, branch)
	if errors.Is(err, repository.ErrSubjectNotFound) && !global {
		// Only global admins learn whether a subject exists.
		s.rejected(domain.KindExport, "permission")
		return nil, denied
	}
	if err != nil {
		return nil, err
	}
	if !global {
		ok, err := s.permissions.HasSubject(ctx, subject.ID, domain.PermissionAdmin, principals)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.rejected(domain.KindExport, "permission")
			return nil, denied
		}
	}

	var chars domain.Characteristics
	if branch != "" {
		chars = append(chars, domain.Characteristic{Key: domain.CharacteristicBranch, Value: branch})
	}
	task := s.newTask(ctx, uuid.NewString(), domain.KindExport, subject.ID, submitter, chars)
	if err := s.tasks.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}
	s.logger.Info("task submitted", "task_id", task.ID, "kind", task.Kind, "subject_id", subject.ID, "submitter", submitter.ID)
	return task, nil
}

func (s *submissionService) newTask(ctx context.Context, id string, kind domain.Kind, subjectID string, submitter Submitter, chars domain.Characteristics) *domain.Task {
	traceParent, traceState := tracing.TraceContextStrings(ctx)
	return &domain.Task{
		ID:              id,
		Kind:            kind,
		SubjectID:       subjectID,
		SubmitterID:     submitter.ID,
		Characteristics: chars,
		TraceParent:     traceParent,
		TraceState:      traceState,
		CreatedAt:       s.now(),
	}
}

func (s *submissionService) rejected(kind domain.Kind, reason string) {
	metrics.SubmissionRejectedTotal.WithLabelValues(string(kind), reason).Inc()
}

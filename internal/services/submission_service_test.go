package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/osvaldoandrade/reportq/internal/repository"
	"github.com/osvaldoandrade/reportq/pkg/domain"
	"github.com/osvaldoandrade/reportq/pkg/reportstore"
	"github.com/osvaldoandrade/reportq/pkg/reportstore/memory"
	"github.com/osvaldoandrade/reportq/pkg/reportstore/storetest"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

type env struct {
	ctx         context.Context
	rdb         *redis.Client
	tasks       repository.TaskRepository
	subjects    repository.SubjectRepository
	permissions repository.PermissionRepository
	store       *memory.Store
}

func setupEnv(t *testing.T) *env {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return &env{
		ctx:         context.Background(),
		rdb:         rdb,
		tasks:       repository.NewTaskRepository(rdb, time.UTC),
		subjects:    repository.NewSubjectRepository(rdb, time.UTC),
		permissions: repository.NewPermissionRepository(rdb),
		store:       memory.New(),
	}
}

func (e *env) service(store reportstore.Store) SubmissionService {
	if store == nil {
		store = e.store
	}
	return NewSubmissionService(e.tasks, e.subjects, e.permissions, store, nil, nil)
}

func (e *env) pending(t *testing.T, kind domain.Kind) int64 {
	t.Helper()
	n, err := e.tasks.PendingLength(e.ctx, kind)
	if err != nil {
		t.Fatalf("pending length: %v", err)
	}
	return n
}

func payload(s string) *storetest.TrackingReader {
	return &storetest.TrackingReader{Reader: strings.NewReader(s)}
}

var alice = Submitter{ID: "alice", Groups: []string{"devs"}}

func TestSubmitCreatesSubjectWithDefaultAccess(t *testing.T) {
	e := setupEnv(t)
	_ = e.permissions.GrantGlobal(e.ctx, domain.PermissionProvisioning, domain.GroupPrincipal("devs"))

	in := payload("report")
	task, err := e.service(nil).Submit(e.ctx, SubmitRequest{SubjectKey: "acme:api", Branch: "develop", Name: "API", Payload: in}, alice)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !in.Closed {
		t.Fatal("payload must be closed")
	}

	subject, err := e.subjects.FindByKey(e.ctx, "acme:api", "develop")
	if err != nil {
		t.Fatalf("expected subject to be created: %v", err)
	}
	if task.SubjectID != subject.ID || subject.CreatedBy != "alice" || subject.Name != "API" {
		t.Fatalf("task/subject mismatch task=%+v subject=%+v", task, subject)
	}
	if task.Kind != domain.KindAnalysisReport || task.SubmitterID != "alice" {
		t.Fatalf("unexpected task %+v", task)
	}
	if len(task.Characteristics) != 2 ||
		task.Characteristics[0] != (domain.Characteristic{Key: domain.CharacteristicBranch, Value: "develop"}) ||
		task.Characteristics[1] != (domain.Characteristic{Key: domain.CharacteristicName, Value: "API"}) {
		t.Fatalf("unexpected characteristics %+v", task.Characteristics)
	}

	grants, _ := e.permissions.ListGrants(e.ctx, subject.ID)
	want := map[domain.Grant]bool{
		{Permission: domain.PermissionAdmin, Principal: "user:alice"}:   true,
		{Permission: domain.PermissionScan, Principal: "user:alice"}:    true,
		{Permission: domain.PermissionBrowse, Principal: "user:alice"}:  true,
		{Permission: domain.PermissionBrowse, Principal: "group:users"}: true,
	}
	if len(grants) != len(want) {
		t.Fatalf("unexpected grants %+v", grants)
	}
	for _, g := range grants {
		if !want[g] {
			t.Fatalf("unexpected grant %+v", g)
		}
	}

	if ok, _ := e.store.Fetch(task.ID).Exists(e.ctx); !ok {
		t.Fatal("payload must be staged")
	}
	state, err := e.tasks.GetState(e.ctx, task.ID)
	if err != nil || state.Status != domain.StatusPending {
		t.Fatalf("expected pending task, got %+v err=%v", state, err)
	}
}

func TestSubmitWithoutProvisioningHasNoSideEffects(t *testing.T) {
	e := setupEnv(t)
	in := payload("report")
	_, err := e.service(nil).Submit(e.ctx, SubmitRequest{SubjectKey: "acme:api", Payload: in}, alice)

	var admission *AdmissionError
	if !errors.As(err, &admission) || !errors.Is(err, ErrPermissionDenied) || admission.Permission != domain.PermissionProvisioning {
		t.Fatalf("expected provisioning denial, got %v", err)
	}
	if !in.Closed {
		t.Fatal("payload must be closed on rejection")
	}
	if _, err := e.subjects.FindByKey(e.ctx, "acme:api", ""); !errors.Is(err, repository.ErrSubjectNotFound) {
		t.Fatalf("subject must not be created, got %v", err)
	}
	if ids, _ := e.store.ListIDs(e.ctx); len(ids) != 0 {
		t.Fatalf("no payload must be staged, got %v", ids)
	}
	if n := e.pending(t, domain.KindAnalysisReport); n != 0 {
		t.Fatalf("no task must be enqueued, got %d", n)
	}
}

func TestSubmitToExistingSubjectRequiresScan(t *testing.T) {
	e := setupEnv(t)
	subject, _ := e.subjects.Create(e.ctx, &domain.Subject{Key: "acme:api"})
	bob := Submitter{ID: "bob"}
	svc := e.service(nil)

	_, err := svc.Submit(e.ctx, SubmitRequest{SubjectKey: "acme:api", Payload: payload("r")}, bob)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected denial without scan, got %v", err)
	}

	_ = e.permissions.Grant(e.ctx, subject.ID, []domain.Grant{{Permission: domain.PermissionScan, Principal: "user:bob"}})
	task, err := svc.Submit(e.ctx, SubmitRequest{SubjectKey: "acme:api", Payload: payload("r")}, bob)
	if err != nil {
		t.Fatalf("submit with subject scan: %v", err)
	}
	if task.SubjectID != subject.ID || len(task.Characteristics) != 0 {
		t.Fatalf("unexpected task %+v", task)
	}

	carol := Submitter{ID: "carol", Groups: []string{"ci"}}
	_ = e.permissions.GrantGlobal(e.ctx, domain.PermissionScan, "group:ci")
	if _, err := svc.Submit(e.ctx, SubmitRequest{SubjectKey: "acme:api", Payload: payload("r")}, carol); err != nil {
		t.Fatalf("submit with global scan: %v", err)
	}
}

func TestSubmitRejectsInvalidKeys(t *testing.T) {
	e := setupEnv(t)
	tests := []struct {
		name   string
		key    string
		branch string
	}{
		{"empty", "", ""},
		{"space", "acme api", ""},
		{"slash", "acme/api", ""},
		{"too long", strings.Repeat("k", 401), ""},
		{"control char branch", "acme", "feat\x00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.service(nil).Submit(e.ctx, SubmitRequest{SubjectKey: tt.key, Branch: tt.branch, Payload: payload("r")}, alice)
			if !errors.Is(err, ErrInvalidSubjectKey) {
				t.Fatalf("expected ErrInvalidSubjectKey, got %v", err)
			}
		})
	}
}

type failingStore struct{ *memory.Store }

func (failingStore) Save(ctx context.Context, taskID string, r io.ReadCloser) error {
	r.Close()
	return &reportstore.StagingError{Destination: "broken://" + taskID, Err: errors.New("disk full")}
}

func TestStagingFailureEnqueuesNothing(t *testing.T) {
	e := setupEnv(t)
	_ = e.permissions.GrantGlobal(e.ctx, domain.PermissionProvisioning, "user:alice")

	_, err := e.service(failingStore{memory.New()}).Submit(e.ctx, SubmitRequest{SubjectKey: "acme:api", Payload: payload("r")}, alice)
	var staging *reportstore.StagingError
	if !errors.As(err, &staging) {
		t.Fatalf("expected StagingError, got %v", err)
	}
	if n := e.pending(t, domain.KindAnalysisReport); n != 0 {
		t.Fatalf("expected zero tasks enqueued, got %d", n)
	}
}

type failingSubjects struct{ repository.SubjectRepository }

func (failingSubjects) Create(context.Context, *domain.Subject) (*domain.Subject, error) {
	return nil, errors.New("redis down")
}

func TestSubjectCreationFailureWritesNoPayload(t *testing.T) {
	e := setupEnv(t)
	_ = e.permissions.GrantGlobal(e.ctx, domain.PermissionProvisioning, "user:alice")
	svc := NewSubmissionService(e.tasks, failingSubjects{e.subjects}, e.permissions, e.store, nil, nil)

	_, err := svc.Submit(e.ctx, SubmitRequest{SubjectKey: "acme:api", Payload: payload("r")}, alice)
	var creation *SubjectCreationError
	if !errors.As(err, &creation) || creation.SubjectKey != "acme:api" {
		t.Fatalf("expected SubjectCreationError, got %v", err)
	}
	if ids, _ := e.store.ListIDs(e.ctx); len(ids) != 0 {
		t.Fatalf("no payload must be staged, got %v", ids)
	}
}

type flakyGrants struct {
	repository.PermissionRepository
	failures int
}

func (p *flakyGrants) Grant(ctx context.Context, subjectID string, grants []domain.Grant) error {
	if p.failures > 0 {
		p.failures--
		return errors.New("redis hiccup")
	}
	return p.PermissionRepository.Grant(ctx, subjectID, grants)
}

func TestGrantFailureRemovesCreatedSubject(t *testing.T) {
	e := setupEnv(t)
	_ = e.permissions.GrantGlobal(e.ctx, domain.PermissionProvisioning, "user:alice")
	svc := NewSubmissionService(e.tasks, e.subjects, &flakyGrants{PermissionRepository: e.permissions, failures: 1}, e.store, nil, nil)

	_, err := svc.Submit(e.ctx, SubmitRequest{SubjectKey: "acme:api", Payload: payload("r")}, alice)
	var creation *SubjectCreationError
	if !errors.As(err, &creation) {
		t.Fatalf("expected SubjectCreationError, got %v", err)
	}
	if _, err := e.subjects.FindByKey(e.ctx, "acme:api", ""); !errors.Is(err, repository.ErrSubjectNotFound) {
		t.Fatalf("subject without grants must be removed, got %v", err)
	}
	if ids, _ := e.store.ListIDs(e.ctx); len(ids) != 0 {
		t.Fatalf("no payload must be staged, got %v", ids)
	}

	task, err := svc.Submit(e.ctx, SubmitRequest{SubjectKey: "acme:api", Payload: payload("r")}, alice)
	if err != nil {
		t.Fatalf("retry by the creator: %v", err)
	}
	if ok, _ := e.permissions.HasSubject(e.ctx, task.SubjectID, domain.PermissionScan, alice.Principals()); !ok {
		t.Fatal("creator must hold scan after retry")
	}
}

type failingTasks struct{ repository.TaskRepository }

func (failingTasks) Enqueue(context.Context, *domain.Task) error { return errors.New("queue down") }

func TestEnqueueFailureRemovesStagedPayload(t *testing.T) {
	e := setupEnv(t)
	_ = e.permissions.GrantGlobal(e.ctx, domain.PermissionProvisioning, "user:alice")
	svc := NewSubmissionService(failingTasks{e.tasks}, e.subjects, e.permissions, e.store, nil, nil)

	if _, err := svc.Submit(e.ctx, SubmitRequest{SubjectKey: "acme:api", Payload: payload("r")}, alice); err == nil {
		t.Fatal("expected enqueue error")
	}
	if ids, _ := e.store.ListIDs(e.ctx); len(ids) != 0 {
		t.Fatalf("staged payload must be removed, got %v", ids)
	}
}

func TestSubmitExportRequiresAdmin(t *testing.T) {
	e := setupEnv(t)
	_ = e.permissions.GrantGlobal(e.ctx, domain.PermissionProvisioning, "user:alice")
	svc := e.service(nil)
	if _, err := svc.Submit(e.ctx, SubmitRequest{SubjectKey: "acme:api", Payload: payload("r")}, alice); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := svc.SubmitExport(e.ctx, "acme:api", "", Submitter{ID: "mallory"}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected denial for non-admin, got %v", err)
	}
	if _, err := svc.SubmitExport(e.ctx, "missing", "", alice); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("missing subject must look like a denial without global admin, got %v", err)
	}
	root := Submitter{ID: "root"}
	_ = e.permissions.GrantGlobal(e.ctx, domain.PermissionAdmin, "user:root")
	if _, err := svc.SubmitExport(e.ctx, "missing", "", root); !errors.Is(err, repository.ErrSubjectNotFound) {
		t.Fatalf("expected ErrSubjectNotFound for global admin, got %v", err)
	}
	if _, err := svc.SubmitExport(e.ctx, "acme:api", "", root); err != nil {
		t.Fatalf("export by global admin: %v", err)
	}
	task, err := svc.SubmitExport(e.ctx, "acme:api", "", alice)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if task.Kind != domain.KindExport {
		t.Fatalf("unexpected kind %s", task.Kind)
	}
	if n := e.pending(t, domain.KindExport); n != 2 {
		t.Fatalf("expected two export tasks, got %d", n)
	}
}

func TestSubmitterPrincipals(t *testing.T) {
	got := Submitter{ID: "u", Groups: []string{"users", "ops", ""}}.Principals()
	want := []string{"user:u", "group:users", "group:ops"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if (Submitter{}).Principals() != nil {
		t.Fatal("anonymous submitter has no principals")
	}
}

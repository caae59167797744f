package export

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/osvaldoandrade/reportq/internal/providers"
	"github.com/osvaldoandrade/reportq/internal/repository"
	"github.com/osvaldoandrade/reportq/internal/settings"
	"github.com/osvaldoandrade/reportq/pkg/container"
	"github.com/osvaldoandrade/reportq/pkg/domain"
	"github.com/osvaldoandrade/reportq/pkg/step"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

type fixture struct {
	ctx         context.Context
	subjects    repository.SubjectRepository
	analyses    repository.AnalysisRepository
	permissions repository.PermissionRepository
	settings    repository.SettingsRepository
	uploadDir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return &fixture{
		ctx:         context.Background(),
		subjects:    repository.NewSubjectRepository(rdb, time.UTC),
		analyses:    repository.NewAnalysisRepository(rdb),
		permissions: repository.NewPermissionRepository(rdb),
		settings:    repository.NewSettingsRepository(rdb),
		uploadDir:   t.TempDir(),
	}
}

type failingUploader struct{}

func (failingUploader) Upload(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}

func (f *fixture) run(t *testing.T, subjectID string, uploader providers.Uploader) (*step.Report, *DumpWriter, error) {
	t.Helper()
	root := container.New(nil)
	err := root.Register(
		container.Ready(f.subjects),
		container.Ready(f.analyses),
		container.Ready(f.permissions),
		container.Ready(f.settings),
		container.Ready(uploader),
		container.Ready(settings.Defaults{settings.KeyMaxBlockerIssues: "0"}),
	)
	if err != nil {
		t.Fatalf("register root: %v", err)
	}
	task := &domain.Task{ID: "export-1", Kind: domain.KindExport, SubjectID: subjectID, SubmitterID: "u1"}
	c := container.New(root)
	comps := append([]container.Component{
		container.Ready(task),
		container.Deferred(settings.NewLoader),
		container.Deferred(NewDumpWriter),
	}, Pipeline.Components()...)
	if err := c.RegisterMany(comps); err != nil {
		t.Fatalf("register: %v", err)
	}
	dump, err := container.Resolve[*DumpWriter](c)
	if err != nil {
		t.Fatalf("resolve dump: %v", err)
	}
	rep, err := step.NewExecutor(nil).Execute(step.NewContext(f.ctx, task), nil, Pipeline.Instances(c))
	if cerr := c.Close(); cerr != nil {
		t.Fatalf("close: %v", cerr)
	}
	if _, statErr := os.Stat(dump.Path()); !os.IsNotExist(statErr) {
		t.Fatalf("expected dump temp file removed, stat err=%v", statErr)
	}
	return rep, dump, err
}

func TestExportPipelinePublishesDump(t *testing.T) {
	f := newFixture(t)
	subject, err := f.subjects.Create(f.ctx, &domain.Subject{Key: "acme:api", Branch: "main"})
	if err != nil {
		t.Fatalf("create subject: %v", err)
	}
	_ = f.permissions.Grant(f.ctx, subject.ID, []domain.Grant{{Permission: domain.PermissionAdmin, Principal: domain.UserPrincipal("u1")}})
	_ = f.settings.Set(f.ctx, subject.ID, settings.KeyMinCoverage, "70")
	_ = f.analyses.SaveAnalysis(f.ctx, &domain.Analysis{ID: "a1", SubjectID: subject.ID, QualityGate: domain.QualityGateOK})
	_ = f.analyses.SaveMeasures(f.ctx, "a1", []domain.Measure{{Metric: "ncloc", Value: 10}})
	_ = f.analyses.ReplaceIssues(f.ctx, subject.ID, []domain.Issue{{Key: "i1", Rule: "r", Severity: domain.SeverityMajor}})

	rep, dump, err := f.run(t, subject.ID, providers.NewLocalUploader(f.uploadDir))
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	wantEntries := []string{
		"metadata.json", "subject.json", "branches.json", "settings.json", "access_rules.json",
		"analyses.json", "measures.json", "issues.json", "events.json",
	}
	if got := dump.Entries(); strings.Join(got, ",") != strings.Join(wantEntries, ",") {
		t.Fatalf("unexpected entries %v", got)
	}

	var location string
	for _, d := range rep.Diagnostics {
		if d.Key == "location" {
			location = d.Value
		}
	}
	if !strings.HasPrefix(location, "file://") {
		t.Fatalf("expected published location diagnostic, got %+v", rep.Diagnostics)
	}

	published := filepath.Join(f.uploadDir, filepath.FromSlash(DumpObjectPath(subject, "export-1")))
	zr, err := zip.OpenReader(published)
	if err != nil {
		t.Fatalf("open published dump: %v", err)
	}
	defer zr.Close()
	for _, zf := range zr.File {
		if zf.Name != "settings.json" {
			continue
		}
		rc, _ := zf.Open()
		var got map[string]string
		if err := json.NewDecoder(rc).Decode(&got); err != nil {
			t.Fatalf("decode settings: %v", err)
		}
		rc.Close()
		if got[settings.KeyMinCoverage] != "70" || got[settings.KeyMaxBlockerIssues] != "0" {
			t.Fatalf("unexpected exported settings %v", got)
		}
	}
}

func TestExportPipelineFailures(t *testing.T) {
	f := newFixture(t)
	subject, _ := f.subjects.Create(f.ctx, &domain.Subject{Key: "acme:web"})

	tests := []struct {
		name      string
		subjectID string
		uploader  providers.Uploader
		wantStep  string
	}{
		{"unknown subject", "missing", providers.NewLocalUploader(f.uploadDir), "Export subject"},
		{"upload failure", subject.ID, failingUploader{}, "Publish dump"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, _, err := f.run(t, tt.subjectID, tt.uploader)
			var execErr *step.ExecutionError
			if !errors.As(err, &execErr) || execErr.Step != tt.wantStep {
				t.Fatalf("expected failure in %q, got %v", tt.wantStep, err)
			}
			if rep.FailedStep != tt.wantStep {
				t.Fatalf("report failed step %q", rep.FailedStep)
			}
		})
	}
}

func TestDumpObjectPath(t *testing.T) {
	got := DumpObjectPath(&domain.Subject{Key: "acme:api", Branch: "feature/x"}, "t1")
	if got != "dumps/acme_api@feature_x/t1.zip" {
		t.Fatalf("unexpected path %q", got)
	}
}

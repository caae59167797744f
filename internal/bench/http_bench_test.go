package bench

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/reportq/internal/repository"
	"github.com/osvaldoandrade/reportq/internal/services"
	"github.com/osvaldoandrade/reportq/internal/steps/analysis"
	"github.com/osvaldoandrade/reportq/internal/worker"
	"github.com/osvaldoandrade/reportq/pkg/app"
	_ "github.com/osvaldoandrade/reportq/pkg/auth/static" // Register static auth provider.
	"github.com/osvaldoandrade/reportq/pkg/config"
	"github.com/osvaldoandrade/reportq/pkg/domain"
	_ "github.com/osvaldoandrade/reportq/pkg/reportstore/memory" // Register in-memory report store.
)

const (
	benchProducerToken = "bench-producer-token"
	benchProducerSub   = "bench-producer"
	benchSubjectKey    = "bench:project"
)

func newBenchApp(b *testing.B) *app.Application {
	b.Helper()
	gin.SetMode(gin.ReleaseMode)

	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis start: %v", err)
	}
	b.Cleanup(mr.Close)

	cfg := &config.Config{
		Env:               "dev",
		Timezone:          "UTC",
		LogLevel:          "error",
		LogFormat:         "json",
		RedisAddr:         mr.Addr(),
		ReportStoreType:   "memory",
		DumpDir:           b.TempDir(),
		WorkerConcurrency: 1,

		ProducerAuthProvider: "static",
		ProducerAuthConfig: map[string]any{
			"token":   benchProducerToken,
			"subject": benchProducerSub,
			"email":   "bench@reportq.local",
		},
		// Benchmarks keep rate limiting disabled.
	}

	a, err := app.NewApplication(cfg)
	if err != nil {
		b.Fatalf("app init: %v", err)
	}
	app.SetupMappings(a)
	b.Cleanup(func() { _ = a.Close(context.Background()) })

	perms := repository.NewPermissionRepository(a.Redis)
	if err := perms.GrantGlobal(context.Background(), domain.PermissionProvisioning, domain.UserPrincipal(benchProducerSub)); err != nil {
		b.Fatalf("grant provisioning: %v", err)
	}
	return a
}

func reportArchive(b *testing.B) []byte {
	b.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string]string{
		analysis.MetadataFile: `{"projectKey":"` + benchSubjectKey + `","analysisDate":"2026-03-01T10:00:00Z","scannerVersion":"5.0"}`,
		analysis.MeasuresFile: `[{"metric":"ncloc","value":25000},{"metric":"coverage","value":71.2}]`,
		analysis.IssuesFile:   `[{"rule":"go:S1","severity":"MAJOR","component":"a.go","message":"m"},{"rule":"go:S2","severity":"MINOR","component":"b.go","message":"m"}]`,
	}
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			b.Fatalf("zip create: %v", err)
		}
		_, _ = io.WriteString(w, body)
	}
	if err := zw.Close(); err != nil {
		b.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func multipartBody(b *testing.B, report []byte) (*bytes.Buffer, string) {
	b.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("subjectKey", benchSubjectKey)
	fw, err := mw.CreateFormFile("report", "report.zip")
	if err != nil {
		b.Fatalf("form file: %v", err)
	}
	_, _ = fw.Write(report)
	_ = mw.Close()
	return &body, mw.FormDataContentType()
}

func BenchmarkHTTP_SubmitReport(b *testing.B) {
	a := newBenchApp(b)
	report := reportArchive(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		body, contentType := multipartBody(b, report)
		req := httptest.NewRequest(http.MethodPost, "/v1/reportq/reports", body)
		req.Header.Set("Authorization", "Bearer "+benchProducerToken)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		a.Engine.ServeHTTP(w, req)
		if w.Code != http.StatusAccepted {
			b.Fatalf("submit status %d body=%s", w.Code, w.Body.String())
		}
		var out struct {
			TaskID string `json:"taskId"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || out.TaskID == "" {
			b.Fatalf("submit parse failed: err=%v body=%s", err, w.Body.String())
		}
	}
}

func BenchmarkWorker_SubmitClaimProcess(b *testing.B) {
	a := newBenchApp(b)
	ctx := context.Background()
	report := reportArchive(b)
	submitter := services.Submitter{ID: benchProducerSub}
	proc := worker.NewProcessor(a.Root, a.Tasks, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), "bench-worker")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := a.Submissions.Submit(ctx, services.SubmitRequest{
			SubjectKey: benchSubjectKey,
			Payload:    io.NopCloser(bytes.NewReader(report)),
		}, submitter)
		if err != nil {
			b.Fatalf("Submit: %v", err)
		}
		task, ok, err := a.Tasks.Claim(ctx, proc.WorkerID(), []domain.Kind{domain.KindAnalysisReport})
		if err != nil || !ok {
			b.Fatalf("Claim: ok=%v err=%v", ok, err)
		}
		state, err := proc.Process(ctx, task)
		if err != nil || state.Status != domain.StatusSuccess {
			b.Fatalf("Process: state=%+v err=%v", state, err)
		}
	}
}

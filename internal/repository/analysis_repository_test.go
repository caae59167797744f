package repository

import (
	"testing"
	"time"

	"github.com/osvaldoandrade/reportq/pkg/domain"
)

func TestAnalysisHistory(t *testing.T) {
	ctx, _, rdb := setupRedis(t)
	repo := NewAnalysisRepository(rdb)

	last, err := repo.LastAnalysis(ctx, "s1")
	if err != nil || last != nil {
		t.Fatalf("expected no analysis, got %+v err=%v", last, err)
	}
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a1", "a2"} {
		err := repo.SaveAnalysis(ctx, &domain.Analysis{ID: id, SubjectID: "s1", Date: day.AddDate(0, 0, i), QualityGate: domain.QualityGateOK})
		if err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	last, err = repo.LastAnalysis(ctx, "s1")
	if err != nil || last.ID != "a2" {
		t.Fatalf("expected a2 as last, got %+v err=%v", last, err)
	}
	all, err := repo.ListAnalyses(ctx, "s1")
	if err != nil || len(all) != 2 || all[0].ID != "a2" {
		t.Fatalf("expected newest first, got %+v err=%v", all, err)
	}
	if err := repo.SaveAnalysis(ctx, &domain.Analysis{ID: "x"}); err == nil {
		t.Fatal("expected error without subject")
	}
}

func TestMeasuresIssuesEvents(t *testing.T) {
	ctx, _, rdb := setupRedis(t)
	repo := NewAnalysisRepository(rdb)

	err := repo.SaveMeasures(ctx, "a1", []domain.Measure{{Metric: "ncloc", Value: 1200}, {Metric: "coverage", Value: 81.5}})
	if err != nil {
		t.Fatalf("save measures: %v", err)
	}
	ms, err := repo.Measures(ctx, "a1")
	if err != nil || len(ms) != 2 || ms[0].Metric != "coverage" || ms[0].Value != 81.5 {
		t.Fatalf("unexpected measures %+v err=%v", ms, err)
	}

	_ = repo.ReplaceIssues(ctx, "s1", []domain.Issue{{Key: "i1", Rule: "go:S100", Severity: domain.SeverityMajor}})
	err = repo.ReplaceIssues(ctx, "s1", []domain.Issue{
		{Key: "i3", Rule: "go:S101", Severity: domain.SeverityMinor},
		{Key: "i2", Rule: "go:S102", Severity: domain.SeverityBlocker},
	})
	if err != nil {
		t.Fatalf("replace issues: %v", err)
	}
	issues, err := repo.Issues(ctx, "s1")
	if err != nil || len(issues) != 2 || issues[0].Key != "i2" {
		t.Fatalf("expected replaced issues sorted by key, got %+v err=%v", issues, err)
	}

	_ = repo.AddEvents(ctx, "s1", []domain.Event{{AnalysisID: "a1", Category: "QUALITY_GATE", Name: "Red"}})
	_ = repo.AddEvents(ctx, "s1", []domain.Event{{AnalysisID: "a2", Category: "VERSION", Name: "1.1"}})
	events, err := repo.Events(ctx, "s1")
	if err != nil || len(events) != 2 || events[0].Name != "Red" {
		t.Fatalf("expected events oldest first, got %+v err=%v", events, err)
	}
}

func TestSettingsScopes(t *testing.T) {
	ctx, _, rdb := setupRedis(t)
	repo := NewSettingsRepository(rdb)

	vals, err := repo.Get(ctx, GlobalScope)
	if err != nil || len(vals) != 0 {
		t.Fatalf("expected empty settings, got %v err=%v", vals, err)
	}
	_ = repo.Set(ctx, GlobalScope, "qualitygate.maxBlockerIssues", "0")
	_ = repo.Set(ctx, "s1", "qualitygate.maxBlockerIssues", "3")
	g, _ := repo.Get(ctx, GlobalScope)
	s, _ := repo.Get(ctx, "s1")
	if g["qualitygate.maxBlockerIssues"] != "0" || s["qualitygate.maxBlockerIssues"] != "3" {
		t.Fatalf("unexpected scopes global=%v subject=%v", g, s)
	}
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/osvaldoandrade/reportq/pkg/domain"

	"github.com/go-redis/redis/v8"
)

// AnalysisRepository stores what analysis tasks compute for a subject and what export
// tasks read back.
type AnalysisRepository interface {
	SaveAnalysis(ctx context.Context, a *domain.Analysis) error
	// LastAnalysis returns the most recent analysis of the subject, or nil when there is none.
	LastAnalysis(ctx context.Context, subjectID string) (*domain.Analysis, error)
	// ListAnalyses returns the analyses of the subject, most recent first.
	ListAnalyses(ctx context.Context, subjectID string) ([]domain.Analysis, error)
	SaveMeasures(ctx context.Context, analysisID string, measures []domain.Measure) error
	Measures(ctx context.Context, analysisID string) ([]domain.Measure, error)
	// ReplaceIssues replaces the open issues of the subject.
	ReplaceIssues(ctx context.Context, subjectID string, issues []domain.Issue) error
	Issues(ctx context.Context, subjectID string) ([]domain.Issue, error)
	AddEvents(ctx context.Context, subjectID string, events []domain.Event) error
	Events(ctx context.Context, subjectID string) ([]domain.Event, error)
}

type analysisRedisRepo struct {
	rdb *redis.Client
}

func NewAnalysisRepository(rdb *redis.Client) AnalysisRepository {
	return &analysisRedisRepo{rdb: rdb}
}

func (r *analysisRedisRepo) keyAnalyses(subjectID string) string {
	return fmt.Sprintf("reportq:analyses:%s", subjectID) // LIST, newest first
}

func (r *analysisRedisRepo) keyMeasures(analysisID string) string {
	return fmt.Sprintf("reportq:measures:%s", analysisID) // HASH metric -> value
}

func (r *analysisRedisRepo) keyIssues(subjectID string) string {
	return fmt.Sprintf("reportq:issues:%s", subjectID) // HASH issue key -> JSON
}

func (r *analysisRedisRepo) keyEvents(subjectID string) string {
	return fmt.Sprintf("reportq:events:%s", subjectID) // LIST, oldest first
}

func (r *analysisRedisRepo) SaveAnalysis(ctx context.Context, a *domain.Analysis) error {
	if a == nil || a.ID == "" || a.SubjectID == "" {
		return fmt.Errorf("save analysis: id and subject are required")
	}
	return r.rdb.LPush(ctx, r.keyAnalyses(a.SubjectID), marshal(a)).Err()
}

func (r *analysisRedisRepo) LastAnalysis(ctx context.Context, subjectID string) (*domain.Analysis, error) {
	js, err := r.rdb.LIndex(ctx, r.keyAnalyses(subjectID), 0).Result()
	if err == redis.Nil || js == "" {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var a domain.Analysis
	if err := json.Unmarshal([]byte(js), &a); err != nil {
		return nil, fmt.Errorf("unmarshal analysis: %w", err)
	}
	return &a, nil
}

func (r *analysisRedisRepo) ListAnalyses(ctx context.Context, subjectID string) ([]domain.Analysis, error) {
	vals, err := r.rdb.LRange(ctx, r.keyAnalyses(subjectID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]domain.Analysis, 0, len(vals))
	for _, js := range vals {
		var a domain.Analysis
		if err := json.Unmarshal([]byte(js), &a); err != nil {
			return nil, fmt.Errorf("unmarshal analysis: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *analysisRedisRepo) SaveMeasures(ctx context.Context, analysisID string, measures []domain.Measure) error {
	if len(measures) == 0 {
		return nil
	}
	values := make(map[string]any, len(measures))
	for _, m := range measures {
		values[m.Metric] = strconv.FormatFloat(m.Value, 'f', -1, 64)
	}
	return r.rdb.HSet(ctx, r.keyMeasures(analysisID), values).Err()
}

func (r *analysisRedisRepo) Measures(ctx context.Context, analysisID string) ([]domain.Measure, error) {
	vals, err := r.rdb.HGetAll(ctx, r.keyMeasures(analysisID)).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]domain.Measure, 0, len(vals))
	for metric, v := range vals {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("measure %s: %w", metric, err)
		}
		out = append(out, domain.Measure{Metric: metric, Value: f})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out, nil
}

func (r *analysisRedisRepo) ReplaceIssues(ctx context.Context, subjectID string, issues []domain.Issue) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, r.keyIssues(subjectID))
	if len(issues) > 0 {
		values := make(map[string]any, len(issues))
		for _, is := range issues {
			values[is.Key] = marshal(is)
		}
		pipe.HSet(ctx, r.keyIssues(subjectID), values)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *analysisRedisRepo) Issues(ctx context.Context, subjectID string) ([]domain.Issue, error) {
	vals, err := r.rdb.HGetAll(ctx, r.keyIssues(subjectID)).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]domain.Issue, 0, len(vals))
	for _, js := range vals {
		var is domain.Issue
		if err := json.Unmarshal([]byte(js), &is); err != nil {
			return nil, fmt.Errorf("unmarshal issue: %w", err)
		}
		out = append(out, is)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *analysisRedisRepo) AddEvents(ctx context.Context, subjectID string, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	vals := make([]any, 0, len(events))
	for _, e := range events {
		vals = append(vals, marshal(e))
	}
	return r.rdb.RPush(ctx, r.keyEvents(subjectID), vals...).Err()
}

func (r *analysisRedisRepo) Events(ctx context.Context, subjectID string) ([]domain.Event, error) {
	vals, err := r.rdb.LRange(ctx, r.keyEvents(subjectID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(vals))
	for _, js := range vals {
		var e domain.Event
		if err := json.Unmarshal([]byte(js), &e); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/osvaldoandrade/reportq/pkg/domain"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var (
	ErrSubjectNotFound = errors.New("subject not found")
	ErrSubjectExists   = errors.New("subject already exists")
)

type SubjectRepository interface {
	// FindByKey returns the subject for key and branch ("" is the main branch).
	FindByKey(ctx context.Context, key, branch string) (*domain.Subject, error)
	// Create assigns an id and stores s. A subject with the same key and branch must not exist.
	Create(ctx context.Context, s *domain.Subject) (*domain.Subject, error)
	Get(ctx context.Context, id string) (*domain.Subject, error)
	// Delete removes the subject and its key mapping. Missing subjects are ignored.
	Delete(ctx context.Context, id string) error
	ListBranches(ctx context.Context, key string) ([]domain.Subject, error)
}

type subjectRedisRepo struct {
	rdb *redis.Client
	tz  *time.Location
}

func NewSubjectRepository(rdb *redis.Client, tz *time.Location) SubjectRepository {
	if tz == nil {
		tz = time.UTC
	}
	return &subjectRedisRepo{rdb: rdb, tz: tz}
}

func (r *subjectRedisRepo) keySubjects() string { return "reportq:subjects" }     // HASH: id -> JSON
func (r *subjectRedisRepo) keyByKey() string    { return "reportq:subjects:key" } // HASH: key|branch -> id
func (r *subjectRedisRepo) keyBranches(key string) string {
	return fmt.Sprintf("reportq:subjects:branches:%s", key)
}

func subjectField(key, branch string) string { return key + "|" + branch }

func (r *subjectRedisRepo) FindByKey(ctx context.Context, key, branch string) (*domain.Subject, error) {
	id, err := r.rdb.HGet(ctx, r.keyByKey(), subjectField(key, branch)).Result()
	if err == redis.Nil || id == "" {
		return nil, ErrSubjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("HGET subject key: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *subjectRedisRepo) Create(ctx context.Context, s *domain.Subject) (*domain.Subject, error) {
	if s == nil || s.Key == "" {
		return nil, fmt.Errorf("create subject: key is required")
	}
	out := *s
	out.ID = uuid.NewString()
	if out.Name == "" {
		out.Name = out.Key
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().In(r.tz)
	}

	field := subjectField(out.Key, out.Branch)
	ok, err := r.rdb.HSetNX(ctx, r.keyByKey(), field, out.ID).Result()
	if err != nil {
		return nil, fmt.Errorf("HSETNX subject key: %w", err)
	}
	if !ok {
		return nil, ErrSubjectExists
	}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.keySubjects(), out.ID, marshal(out))
	pipe.SAdd(ctx, r.keyBranches(out.Key), out.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		_ = r.rdb.HDel(context.WithoutCancel(ctx), r.keyByKey(), field).Err()
		return nil, fmt.Errorf("store subject: %w", err)
	}
	return &out, nil
}

func (r *subjectRedisRepo) Get(ctx context.Context, id string) (*domain.Subject, error) {
	js, err := r.rdb.HGet(ctx, r.keySubjects(), id).Result()
	if err == redis.Nil || js == "" {
		return nil, ErrSubjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("HGET subject: %w", err)
	}
	var s domain.Subject
	if err := json.Unmarshal([]byte(js), &s); err != nil {
		return nil, fmt.Errorf("unmarshal subject: %w", err)
	}
	return &s, nil
}

func (r *subjectRedisRepo) Delete(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if errors.Is(err, ErrSubjectNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.HDel(ctx, r.keyByKey(), subjectField(s.Key, s.Branch))
	pipe.HDel(ctx, r.keySubjects(), id)
	pipe.SRem(ctx, r.keyBranches(s.Key), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete subject: %w", err)
	}
	return nil
}

// ListBranches returns every subject sharing key, main branch first, then by branch name.
func (r *subjectRedisRepo) ListBranches(ctx context.Context, key string) ([]domain.Subject, error) {
	ids, err := r.rdb.SMembers(ctx, r.keyBranches(key)).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.Subject{}, nil
	}
	vals, err := r.rdb.HMGet(ctx, r.keySubjects(), ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Subject, 0, len(vals))
	for _, v := range vals {
		js, ok := v.(string)
		if !ok || js == "" {
			continue
		}
		var s domain.Subject
		if err := json.Unmarshal([]byte(js), &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Branch < out[j].Branch })
	return out, nil
}

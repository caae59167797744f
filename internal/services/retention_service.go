package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/osvaldoandrade/reportq/internal/metrics"
	"github.com/osvaldoandrade/reportq/internal/repository"
	"github.com/osvaldoandrade/reportq/pkg/reportstore"
)

// RetentionResult lists the finished tasks removed by one cleanup pass.
type RetentionResult struct {
	Deleted []string `json:"deleted"`
	// PayloadErrors counts staged payloads that could not be removed.
	PayloadErrors int `json:"payloadErrors"`
}

type RetentionService interface {
	// Cleanup removes up to limit tasks finished before the given time, together with
	// their staged payloads.
	Cleanup(ctx context.Context, limit int, before time.Time) (*RetentionResult, error)
	// FailLost finishes claimed tasks whose worker stopped renewing the lease as
	// FAILED. Their payloads stay until Cleanup removes the task.
	FailLost(ctx context.Context, limit int) ([]string, error)
	// Start runs Cleanup and FailLost periodically until ctx is done. Lost tasks are
	// checked once per lease.
	Start(ctx context.Context)
}

type retentionService struct {
	repo      repository.TaskRepository
	store     reportstore.Store
	logger    *slog.Logger
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

func NewRetentionService(repo repository.TaskRepository, store reportstore.Store, logger *slog.Logger, retentionHours int, intervalSeconds int) RetentionService {
	if logger == nil {
		logger = slog.Default()
	}
	if retentionHours <= 0 {
		retentionHours = 72
	}
	if intervalSeconds <= 0 {
		intervalSeconds = 600
	}
	return &retentionService{
		repo:      repo,
		store:     store,
		logger:    logger,
		retention: time.Duration(retentionHours) * time.Hour,
		interval:  time.Duration(intervalSeconds) * time.Second,
		now:       time.Now,
	}
}

func (s *retentionService) Cleanup(ctx context.Context, limit int, before time.Time) (*RetentionResult, error) {
	if before.IsZero() {
		before = s.now().Add(-s.retention)
	}
	ids, err := s.repo.CleanupExpired(ctx, limit, before)
	if err != nil {
		return nil, err
	}
	res := &RetentionResult{Deleted: ids}
	for _, id := range ids {
		if err := s.store.Delete(ctx, id); err != nil {
			res.PayloadErrors++
			s.logger.Warn("retention: delete payload failed", "task_id", id, "err", err)
		}
	}
	metrics.RetentionDeletedTotal.Add(float64(len(ids)))
	return res, nil
}

func (s *retentionService) FailLost(ctx context.Context, limit int) ([]string, error) {
	ids, err := s.repo.FailExpiredLeases(ctx, limit)
	for _, id := range ids {
		s.logger.Warn("task failed: worker lease expired", "task_id", id)
	}
	return ids, err
}

func (s *retentionService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	leases := time.NewTicker(s.repo.Lease())
	defer leases.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-leases.C:
			if _, err := s.FailLost(ctx, 200); err != nil {
				s.logger.Warn("lost task sweep failed", "err", err)
			}
		case <-ticker.C:
			res, err := s.Cleanup(ctx, 1000, time.Time{})
			if err != nil {
				s.logger.Warn("retention cleanup failed", "err", err)
				continue
			}
			if len(res.Deleted) > 0 {
				s.logger.Info("retention cleanup removed", "count", len(res.Deleted))
			}
		}
	}
}

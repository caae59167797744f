package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/osvaldoandrade/reportq/internal/backoff"
	"github.com/osvaldoandrade/reportq/internal/repository"
	"github.com/osvaldoandrade/reportq/pkg/container"
	"github.com/osvaldoandrade/reportq/pkg/domain"
	"github.com/osvaldoandrade/reportq/pkg/extension"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	// Concurrency is the number of claim loops. Defaults to 1.
	Concurrency int
	// Kinds restricts which queues are polled. Empty means every kind.
	Kinds []domain.Kind
	// IdleBackoff controls the wait after a poll finds nothing.
	IdleBackoff backoff.Policy
	// WorkerID prefixes the id of each loop. Defaults to "worker".
	WorkerID string
}

// Pool runs Concurrency claim loops, each processing one task at a time.
type Pool struct {
	root      *container.Container
	tasks     repository.TaskRepository
	providers func() []extension.Provider
	logger    *slog.Logger
	cfg       Config
}

func NewPool(root *container.Container, tasks repository.TaskRepository, providers func() []extension.Provider, logger *slog.Logger, cfg Config) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker"
	}
	return &Pool{root: root, tasks: tasks, providers: providers, logger: logger, cfg: cfg}
}

// Run blocks until ctx is cancelled. Tasks in flight finish before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		proc := NewProcessor(p.root, p.tasks, p.providers, p.logger, fmt.Sprintf("%s-%d", p.cfg.WorkerID, i))
		rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))
		g.Go(func() error {
			p.loop(gctx, proc, rng)
			return nil
		})
	}
	p.logger.Info("worker pool started", "concurrency", p.cfg.Concurrency, "idle_policy", p.cfg.IdleBackoff.Name)
	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, proc *Processor, rng *rand.Rand) {
	idle := 0
	for ctx.Err() == nil {
		task, ok, err := p.tasks.Claim(ctx, proc.WorkerID(), p.cfg.Kinds)
		if err != nil && ctx.Err() == nil {
			p.logger.Warn("claim failed", "worker_id", proc.WorkerID(), "err", err)
		}
		if err != nil || !ok {
			if !sleep(ctx, p.cfg.IdleBackoff.Delay(idle, rng)) {
				return
			}
			idle++
			continue
		}
		idle = 0
		// Errors are recorded on the task and logged by the processor.
		_, _ = proc.Process(ctx, task)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

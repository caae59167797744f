package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/osvaldoandrade/reportq/internal/metrics"
	"github.com/osvaldoandrade/reportq/internal/populator"
	"github.com/osvaldoandrade/reportq/internal/repository"
	"github.com/osvaldoandrade/reportq/internal/tracing"
	"github.com/osvaldoandrade/reportq/pkg/container"
	"github.com/osvaldoandrade/reportq/pkg/domain"
	"github.com/osvaldoandrade/reportq/pkg/extension"
	"github.com/osvaldoandrade/reportq/pkg/step"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Processor runs claimed tasks for one worker id. Each task gets its own child of root.
type Processor struct {
	root      *container.Container
	tasks     repository.TaskRepository
	providers func() []extension.Provider
	executor  *step.Executor
	logger    *slog.Logger
	tracer    trace.Tracer
	workerID  string
}

func NewProcessor(root *container.Container, tasks repository.TaskRepository, providers func() []extension.Provider, logger *slog.Logger, workerID string) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if providers == nil {
		providers = extension.Providers
	}
	return &Processor{
		root:      root,
		tasks:     tasks,
		providers: providers,
		executor:  step.NewExecutor(logger),
		logger:    logger,
		tracer:    otel.Tracer("reportq/worker"),
		workerID:  workerID,
	}
}

func (p *Processor) WorkerID() string { return p.workerID }

// Process executes task and records its outcome. The pipeline error, if any, is
// returned alongside the recorded state; a failure to record the outcome is joined in.
func (p *Processor) Process(ctx context.Context, task *domain.Task) (*domain.TaskState, error) {
	kind := string(task.Kind)
	ctx = tracing.ContextWithRemoteParent(ctx, task.TraceParent, task.TraceState)
	ctx, span := p.tracer.Start(ctx, "reportq.task.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("reportq.task_id", task.ID),
			attribute.String("reportq.kind", kind),
			attribute.String("reportq.worker_id", p.workerID),
		),
	)
	defer span.End()
	logger := p.logger.With("task_id", task.ID, "kind", kind, "worker_id", p.workerID)

	c := container.New(p.root, container.WithName("task-"+task.ID), container.WithLogger(logger))
	var once sync.Once
	closeContainer := func() {
		once.Do(func() {
			if err := c.Close(); err != nil {
				metrics.ContainerCleanupFailuresTotal.WithLabelValues(kind).Inc()
				logger.Warn("task container cleanup failed", "err", err)
			}
		})
	}
	lc := step.NewLifecycle(func(step.State) { closeContainer() })
	defer closeContainer()

	stopLease := p.keepLease(ctx, task.ID, logger)
	report, runErr := p.run(ctx, c, lc, task)
	stopLease()
	if runErr != nil {
		lc.Fail()
	}

	outcome := repository.Outcome{Status: domain.StatusSuccess}
	if report != nil {
		outcome.Steps = report.Steps
		outcome.FailedStep = report.FailedStep
	}
	if runErr != nil {
		outcome.Status = domain.StatusFailed
		outcome.Error = runErr.Error()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		logger.Error("task failed", "failed_step", outcome.FailedStep, "err", runErr)
	} else {
		logger.Info("task done", "steps", len(outcome.Steps), "elapsed_ms", report.Elapsed.Milliseconds())
	}

	state, err := p.tasks.Finish(context.WithoutCancel(ctx), task.ID, p.workerID, outcome)
	if err != nil {
		logger.Error("record task outcome failed", "status", outcome.Status, "err", err)
		return nil, errors.Join(runErr, fmt.Errorf("record outcome of task %s: %w", task.ID, err))
	}
	return state, runErr
}

// keepLease renews the claim on taskID until the returned stop is called. Renewal
// outlives ctx so a draining worker still owns the tasks it is finishing.
func (p *Processor) keepLease(ctx context.Context, taskID string, logger *slog.Logger) (stop func()) {
	interval := p.tasks.Lease() / 3
	if interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.tasks.Heartbeat(ctx, taskID, p.workerID); err != nil && ctx.Err() == nil {
					logger.Warn("task lease renewal failed", "err", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (p *Processor) run(ctx context.Context, c *container.Container, lc *step.Lifecycle, task *domain.Task) (report *step.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while preparing task: %v", r)
		}
	}()
	registry, err := populator.Registry(task.Kind)
	if err != nil {
		return nil, err
	}
	pop, err := populator.For(task.Kind, task, p.providers())
	if err != nil {
		return nil, err
	}
	if err := pop.Populate(c); err != nil {
		return nil, err
	}
	if err := c.Open(ctx); err != nil {
		return nil, err
	}
	if err := lc.Transition(step.StateContainerOpen); err != nil {
		return nil, err
	}
	return p.executor.Execute(step.NewContext(ctx, task), lc, registry.Instances(c))
}

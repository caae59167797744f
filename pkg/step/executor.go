package step

import (
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/osvaldoandrade/reportq/internal/metrics"
	"github.com/osvaldoandrade/reportq/pkg/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Report describes one pipeline run. On failure Steps includes the failing step.
type Report struct {
	Steps       []domain.StepTiming
	Diagnostics []Diagnostic
	FailedStep  string
	Elapsed     time.Duration
}

// Executor runs a resolved pipeline sequentially and stops at the first failure.
type Executor struct {
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger, tracer: otel.Tracer("reportq/step"), now: time.Now}
}

// Execute consumes steps in order. A resolution error yielded by the sequence, or the
// cancellation of ctx between steps, is returned unchanged. An error or panic raised
// by a step is returned as *ExecutionError carrying the step description. When lc is
// not nil it is moved through STEP_RUNNING for each step and ends COMPLETED or FAILED.
func (e *Executor) Execute(ctx Context, lc *Lifecycle, steps iter.Seq2[Step, error]) (*Report, error) {
	sc := asStepContext(ctx)
	var taskID, kind string
	if t := sc.task; t != nil {
		taskID, kind = t.ID, string(t.Kind)
	}
	logger := e.logger.With("task_id", taskID, "kind", kind)

	report := &Report{}
	start := e.now()
	finish := func(err error) (*Report, error) {
		report.Elapsed = e.now().Sub(start)
		report.Diagnostics = sc.Diagnostics()
		if lc != nil {
			if err != nil {
				lc.Fail()
			} else if terr := lc.Transition(StateCompleted); terr != nil {
				err = terr
			}
		}
		return report, err
	}

	for s, err := range steps {
		if err != nil {
			logger.Error("step resolution failed", "err", err)
			return finish(err)
		}
		if err := sc.Err(); err != nil {
			logger.Warn("pipeline cancelled", "steps_done", len(report.Steps), "err", err)
			return finish(err)
		}
		if lc != nil {
			if err := lc.Transition(StateStepRunning); err != nil {
				return finish(err)
			}
		}

		desc := s.Description()
		elapsed, err := e.run(sc, s, desc, taskID, kind)
		report.Steps = append(report.Steps, domain.StepTiming{Step: desc, ElapsedMillis: elapsed.Milliseconds()})
		if err != nil {
			report.FailedStep = desc
			logger.Error("step failed", "step", desc, "elapsed_ms", elapsed.Milliseconds(), "err", err)
			return finish(&ExecutionError{Step: desc, Err: err})
		}
		logger.Info("step done", "step", desc, "elapsed_ms", elapsed.Milliseconds())
	}
	return finish(nil)
}

func (e *Executor) run(sc *stepContext, s Step, desc, taskID, kind string) (elapsed time.Duration, err error) {
	spanCtx, span := e.tracer.Start(sc.Context, "reportq.step",
		trace.WithAttributes(
			attribute.String("reportq.task_id", taskID),
			attribute.String("reportq.step", desc),
		),
	)
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		elapsed = e.now().Sub(start)
		outcome := "success"
		if err != nil {
			outcome = "failure"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		metrics.StepDurationSeconds.WithLabelValues(kind, desc, outcome).Observe(elapsed.Seconds())
	}()
	return 0, s.Execute(sc.forStep(spanCtx, desc))
}

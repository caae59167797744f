package step

import (
	"context"
	"sync"

	"github.com/osvaldoandrade/reportq/pkg/domain"
)

// Step is one stage of a task pipeline.
type Step interface {
	Execute(ctx Context) error
	Description() string
}

// Context is handed to every step of a task. It carries the task's cancellation and
// exposes the descriptor together with a sink for step-local diagnostics.
type Context interface {
	context.Context
	Task() *domain.Task
	// Characteristic returns the task characteristic for key, or "" when absent.
	Characteristic(key string) string
	AddDiagnostic(key, value string)
	Diagnostics() []Diagnostic
}

// Diagnostic is a key/value note recorded by a step while it runs.
type Diagnostic struct {
	Step  string `json:"step,omitempty"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type diagnostics struct {
	mu    sync.Mutex
	items []Diagnostic
}

type stepContext struct {
	context.Context
	task *domain.Task
	step string
	diag *diagnostics
}

// NewContext returns a Context for task. Diagnostics added through it or any context
// derived by the executor are shared.
func NewContext(ctx context.Context, task *domain.Task) Context {
	return &stepContext{Context: ctx, task: task, diag: &diagnostics{}}
}

func (c *stepContext) Task() *domain.Task { return c.task }

func (c *stepContext) Characteristic(key string) string {
	v, _ := c.task.Characteristic(key)
	return v
}

func (c *stepContext) AddDiagnostic(key, value string) {
	c.diag.mu.Lock()
	defer c.diag.mu.Unlock()
	c.diag.items = append(c.diag.items, Diagnostic{Step: c.step, Key: key, Value: value})
}

func (c *stepContext) Diagnostics() []Diagnostic {
	c.diag.mu.Lock()
	defer c.diag.mu.Unlock()
	out := make([]Diagnostic, len(c.diag.items))
	copy(out, c.diag.items)
	return out
}

// forStep derives the context passed to one step: ctx replaces the parent (it carries
// the step span) and diagnostics are attributed to description.
func (c *stepContext) forStep(ctx context.Context, description string) *stepContext {
	return &stepContext{Context: ctx, task: c.task, step: description, diag: c.diag}
}

func asStepContext(ctx Context) *stepContext {
	if sc, ok := ctx.(*stepContext); ok {
		return sc
	}
	return &stepContext{Context: ctx, task: ctx.Task(), diag: &diagnostics{}}
}

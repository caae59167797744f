// Package populator fills a task container with everything one task needs: the task
// descriptor, the core components of its kind, its step declarations and whatever
// extensions contribute.
package populator

import (
	"fmt"

	"github.com/osvaldoandrade/reportq/internal/settings"
	"github.com/osvaldoandrade/reportq/internal/steps/analysis"
	"github.com/osvaldoandrade/reportq/internal/steps/export"
	"github.com/osvaldoandrade/reportq/pkg/container"
	"github.com/osvaldoandrade/reportq/pkg/domain"
	"github.com/osvaldoandrade/reportq/pkg/extension"
	"github.com/osvaldoandrade/reportq/pkg/step"
)

type Populator interface {
	Kind() domain.Kind
	// Populate registers components only. Unmet dependencies surface when steps are
	// resolved, not here.
	Populate(c *container.Container) error
}

// Registry returns the step pipeline of kind.
func Registry(kind domain.Kind) (*step.Registry, error) {
	switch kind {
	case domain.KindAnalysisReport:
		return analysis.Pipeline, nil
	case domain.KindExport:
		return export.Pipeline, nil
	default:
		return nil, fmt.Errorf("no pipeline for task kind %q", kind)
	}
}

// CoreComponents returns the baseline components every task of kind gets, ahead of
// its steps.
func CoreComponents(kind domain.Kind) ([]container.Component, error) {
	switch kind {
	case domain.KindAnalysisReport:
		return []container.Component{
			container.Deferred(settings.NewLoader),
			container.Deferred(analysis.NewReportHolder),
		}, nil
	case domain.KindExport:
		return []container.Component{
			container.Deferred(settings.NewLoader),
			container.Deferred(export.NewDumpWriter),
		}, nil
	default:
		return nil, fmt.Errorf("no core components for task kind %q", kind)
	}
}

// For returns the populator of kind for task. Providers contribute in the given order.
func For(kind domain.Kind, task *domain.Task, providers []extension.Provider) (Populator, error) {
	switch kind {
	case domain.KindAnalysisReport:
		return NewAnalysisPopulator(task, providers), nil
	case domain.KindExport:
		return NewExportPopulator(task, providers), nil
	default:
		return nil, fmt.Errorf("no populator for task kind %q", kind)
	}
}

type populator struct {
	kind      domain.Kind
	task      *domain.Task
	providers []extension.Provider
}

func (p *populator) Kind() domain.Kind { return p.kind }

func (p *populator) Populate(c *container.Container) error {
	if p.task == nil {
		return fmt.Errorf("populate %s: task is required", p.kind)
	}
	registry, err := Registry(p.kind)
	if err != nil {
		return err
	}
	core, err := CoreComponents(p.kind)
	if err != nil {
		return err
	}

	comps := make([]container.Component, 0, 1+len(core)+registry.Len())
	comps = append(comps, container.Ready(p.task))
	comps = append(comps, core...)
	comps = append(comps, registry.Components()...)
	if err := c.RegisterMany(comps); err != nil {
		return fmt.Errorf("populate %s: %w", p.kind, err)
	}

	for _, prov := range p.providers {
		if err := c.RegisterMany(prov.Components()); err != nil {
			return fmt.Errorf("populate %s: extension %s: %w", p.kind, prov.Name(), err)
		}
	}
	return nil
}

type AnalysisPopulator struct{ populator }

func NewAnalysisPopulator(task *domain.Task, providers []extension.Provider) *AnalysisPopulator {
	return &AnalysisPopulator{populator{kind: domain.KindAnalysisReport, task: task, providers: providers}}
}

type ExportPopulator struct{ populator }

func NewExportPopulator(task *domain.Task, providers []extension.Provider) *ExportPopulator {
	return &ExportPopulator{populator{kind: domain.KindExport, task: task, providers: providers}}
}

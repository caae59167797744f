package services

import (
	"github.com/osvaldoandrade/reportq/internal/populator"
	"github.com/osvaldoandrade/reportq/pkg/container"
	"github.com/osvaldoandrade/reportq/pkg/domain"
	"github.com/osvaldoandrade/reportq/pkg/extension"
)

// StepInfo describes one declared step.
type StepInfo struct {
	Index int    `json:"index"`
	Type  string `json:"type"`
}

// StepCatalog exposes the step pipelines for tooling.
type StepCatalog interface {
	Steps(kind domain.Kind) ([]StepInfo, error)
	// Verify resolves every step of kind against a scratch task container and reports
	// all resolution failures at once.
	Verify(kind domain.Kind) error
}

type stepCatalog struct {
	root      *container.Container
	providers func() []extension.Provider
}

// NewStepCatalog verifies against children of root. providers may be nil.
func NewStepCatalog(root *container.Container, providers func() []extension.Provider) StepCatalog {
	if providers == nil {
		providers = func() []extension.Provider { return nil }
	}
	return &stepCatalog{root: root, providers: providers}
}

func (s *stepCatalog) Steps(kind domain.Kind) ([]StepInfo, error) {
	registry, err := populator.Registry(kind)
	if err != nil {
		return nil, err
	}
	var out []StepInfo
	for i, d := range registry.Declarations() {
		out = append(out, StepInfo{Index: i, Type: d.String()})
	}
	return out, nil
}

func (s *stepCatalog) Verify(kind domain.Kind) (err error) {
	registry, err := populator.Registry(kind)
	if err != nil {
		return err
	}
	p, err := populator.For(kind, &domain.Task{ID: "verify", Kind: kind}, s.providers())
	if err != nil {
		return err
	}
	c := container.New(s.root, container.WithName("verify-"+string(kind)))
	defer func() {
		if cerr := c.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	if err := p.Populate(c); err != nil {
		return err
	}
	return registry.Verify(c)
}

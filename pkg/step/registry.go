package step

import (
	"errors"
	"fmt"
	"iter"
	"reflect"

	"github.com/osvaldoandrade/reportq/pkg/container"
	"github.com/osvaldoandrade/reportq/pkg/domain"
)

var stepType = reflect.TypeFor[Step]()

// Resolver looks up a component by type. *container.Container implements it.
type Resolver interface {
	Resolve(t reflect.Type) (any, error)
}

// Declaration identifies one step of a pipeline by the type its constructor returns.
type Declaration struct {
	Type reflect.Type
}

// String returns the canonical name of the step type.
func (d Declaration) String() string { return container.TypeName(d.Type) }

// Registry is the ordered step pipeline of one task kind.
type Registry struct {
	kind         domain.Kind
	constructors []any
	decls        []Declaration
}

// NewRegistry builds the pipeline of kind from step constructors, in execution order.
// Each constructor must be accepted by container.Deferred and return a Step; a
// constructor may appear only once. Violations panic since pipelines are declared
// at package initialization.
func NewRegistry(kind domain.Kind, constructors ...any) *Registry {
	r := &Registry{kind: kind}
	seen := make(map[reflect.Type]bool, len(constructors))
	for _, ctor := range constructors {
		comp := container.Deferred(ctor)
		if err := comp.Err(); err != nil {
			panic(fmt.Sprintf("step: %s pipeline: %v", kind, err))
		}
		t := comp.Type()
		if !t.Implements(stepType) {
			panic(fmt.Sprintf("step: %s pipeline: %s does not implement step.Step", kind, container.TypeName(t)))
		}
		if seen[t] {
			panic(fmt.Sprintf("step: %s pipeline: %s declared twice", kind, container.TypeName(t)))
		}
		seen[t] = true
		r.constructors = append(r.constructors, ctor)
		r.decls = append(r.decls, Declaration{Type: t})
	}
	return r
}

func (r *Registry) Kind() domain.Kind { return r.kind }

// Declarations returns the ordered step identities. It never touches a container.
func (r *Registry) Declarations() []Declaration {
	out := make([]Declaration, len(r.decls))
	copy(out, r.decls)
	return out
}

func (r *Registry) Len() int { return len(r.decls) }

// Components returns one deferred component per declaration, in order, for a
// populator to register.
func (r *Registry) Components() []container.Component {
	out := make([]container.Component, 0, len(r.constructors))
	for _, ctor := range r.constructors {
		out = append(out, container.Deferred(ctor))
	}
	return out
}

// Instances resolves the declarations lazily and in order. Nothing is resolved until
// the sequence is iterated; iteration stops after yielding the first resolution error,
// which is passed through untouched.
func (r *Registry) Instances(res Resolver) iter.Seq2[Step, error] {
	return func(yield func(Step, error) bool) {
		for _, d := range r.decls {
			s, err := resolveStep(res, d)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(s, nil) {
				return
			}
		}
	}
}

// Verify resolves every declaration and reports all failures at once, for tooling
// that wants the complete list rather than the first problem.
func (r *Registry) Verify(res Resolver) error {
	var errs []error
	for _, d := range r.decls {
		if _, err := resolveStep(res, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func resolveStep(res Resolver, d Declaration) (Step, error) {
	v, err := res.Resolve(d.Type)
	if err != nil {
		return nil, err
	}
	s, ok := v.(Step)
	if !ok {
		return nil, fmt.Errorf("step: %s resolved to %T, not a step", d, v)
	}
	return s, nil
}

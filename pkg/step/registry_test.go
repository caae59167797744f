package step

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/osvaldoandrade/reportq/pkg/container"
	"github.com/osvaldoandrade/reportq/pkg/domain"
)

type missingDep struct{}

type firstStep struct{}

func newFirstStep() *firstStep           { return &firstStep{} }
func (*firstStep) Execute(Context) error { return nil }
func (*firstStep) Description() string   { return "first" }

type secondStep struct{ dep *missingDep }

func newSecondStep(dep *missingDep) *secondStep { return &secondStep{dep: dep} }
func (*secondStep) Execute(Context) error       { return nil }
func (*secondStep) Description() string         { return "second" }

type thirdStep struct{}

var thirdBuilt int

func newThirdStep() *thirdStep           { thirdBuilt++; return &thirdStep{} }
func (*thirdStep) Execute(Context) error { return nil }
func (*thirdStep) Description() string   { return "third" }

type recordingResolver struct {
	inner     Resolver
	requested []reflect.Type
}

func (r *recordingResolver) Resolve(t reflect.Type) (any, error) {
	r.requested = append(r.requested, t)
	return r.inner.Resolve(t)
}

func newTestRegistry() *Registry {
	return NewRegistry(domain.KindAnalysisReport, newFirstStep, newSecondStep, newThirdStep)
}

func TestDeclarationsArePureAndOrdered(t *testing.T) {
	reg := newTestRegistry()
	decls := reg.Declarations()
	if len(decls) != 3 || reg.Len() != 3 {
		t.Fatalf("expected 3 declarations, got %d", len(decls))
	}
	want := []string{"firstStep", "secondStep", "thirdStep"}
	for i, d := range decls {
		if !strings.HasSuffix(d.String(), "pkg/step."+want[i]) {
			t.Fatalf("declaration %d: expected %s, got %s", i, want[i], d)
		}
	}
	decls[0] = Declaration{}
	if reg.Declarations()[0].Type == nil {
		t.Fatal("declarations must not be mutable through the returned slice")
	}
}

func TestInstancesIsLazyAndStopsAtFirstFailure(t *testing.T) {
	thirdBuilt = 0
	reg := newTestRegistry()
	c := container.New(nil)
	if err := c.Register(reg.Components()...); err != nil {
		t.Fatalf("register: %v", err)
	}
	res := &recordingResolver{inner: c}

	seq := reg.Instances(res)
	if len(res.requested) != 0 {
		t.Fatalf("expected no resolution before iteration, got %v", res.requested)
	}

	var got []string
	var iterErr error
	for s, err := range seq {
		if err != nil {
			iterErr = err
			break
		}
		got = append(got, s.Description())
	}
	if strings.Join(got, ",") != "first" {
		t.Fatalf("expected only first step before failure, got %v", got)
	}
	if iterErr == nil {
		t.Fatal("expected resolution error")
	}
	if !errors.Is(iterErr, container.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", iterErr)
	}
	if !strings.Contains(iterErr.Error(), "github.com/osvaldoandrade/reportq/pkg/step.missingDep") {
		t.Fatalf("expected missing component name in %q", iterErr.Error())
	}
	if thirdBuilt != 0 {
		t.Fatalf("third step must not be resolved, built %d times", thirdBuilt)
	}
	if len(res.requested) != 2 {
		t.Fatalf("expected 2 resolutions, got %d", len(res.requested))
	}

	direct := container.New(nil)
	_ = direct.Register(reg.Components()...)
	_, want := direct.Resolve(reflect.TypeOf(&secondStep{}))
	if iterErr.Error() != want.Error() {
		t.Fatalf("error was altered:\n got %q\nwant %q", iterErr, want)
	}
}

func TestInstancesResolvesAll(t *testing.T) {
	reg := newTestRegistry()
	c := container.New(nil)
	if err := c.Register(container.Ready(&missingDep{})); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.Register(reg.Components()...); err != nil {
		t.Fatalf("register: %v", err)
	}
	n := 0
	for _, err := range reg.Instances(c) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		n++
	}
	if n != 3 {
		t.Fatalf("expected 3 steps, got %d", n)
	}
}

func TestVerifyCollectsEveryFailure(t *testing.T) {
	reg := NewRegistry(domain.KindExport, newFirstStep, newSecondStep, newThirdStep)
	c := container.New(nil)
	if err := c.Register(container.Deferred(newFirstStep)); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := reg.Verify(c)
	if err == nil {
		t.Fatal("expected verify error")
	}
	for _, name := range []string{"secondStep", "thirdStep"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("expected %s in %q", name, err.Error())
		}
	}
}

func TestNewRegistryRejectsInvalidPipelines(t *testing.T) {
	tests := []struct {
		name  string
		ctors []any
	}{
		{"not a step", []any{func() *missingDep { return nil }}},
		{"duplicate", []any{newFirstStep, newFirstStep}},
		{"not a constructor", []any{"first"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()
			NewRegistry(domain.KindExport, tt.ctors...)
		})
	}
}

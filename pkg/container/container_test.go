package container

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

type greeter interface{ Greet() string }

type english struct{}

func (english) Greet() string { return "hello" }

type spanish struct{}

func (spanish) Greet() string { return "hola" }

type config struct{ name string }

type service struct {
	cfg *config
	g   greeter
}

func newService(cfg *config, g greeter) *service { return &service{cfg: cfg, g: g} }

type chorus struct{ voices []greeter }

func newChorus(voices []greeter) *chorus { return &chorus{voices: voices} }

type releaseLog struct{ order []string }

type closer struct {
	name string
	log  *releaseLog
	err  error
}

func (c *closer) Close() error {
	c.log.order = append(c.log.order, c.name)
	return c.err
}

type first struct{ *closer }
type second struct{ *closer }

func TestResolveReadyByInterface(t *testing.T) {
	c := New(nil)
	if err := c.Register(Ready(english{})); err != nil {
		t.Fatalf("register: %v", err)
	}
	g, err := Resolve[greeter](c)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if g.Greet() != "hello" {
		t.Fatalf("unexpected greeter %v", g.Greet())
	}
}

func TestResolveDeferredWiresDependencies(t *testing.T) {
	c := New(nil)
	calls := 0
	err := c.Register(
		Ready(&config{name: "cfg"}),
		Ready(english{}),
		Deferred(func(cfg *config, g greeter) *service {
			calls++
			return newService(cfg, g)
		}),
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	s1, err := Resolve[*service](c)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	s2, err := Resolve[*service](c)
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if s1 != s2 {
		t.Fatal("expected deferred component to be cached")
	}
	if calls != 1 {
		t.Fatalf("expected constructor to run once, ran %d times", calls)
	}
	if s1.cfg.name != "cfg" || s1.g.Greet() != "hello" {
		t.Fatalf("dependencies not wired: %+v", s1)
	}
}

func TestResolveNotFoundNamesType(t *testing.T) {
	c := New(nil)
	_, err := Resolve[*service](c)
	var rerr *ResolutionError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "github.com/osvaldoandrade/reportq/pkg/container.service") {
		t.Fatalf("expected canonical type name in %q", err.Error())
	}
}

func TestResolveMissingDependencyReportsPath(t *testing.T) {
	c := New(nil)
	if err := c.Register(Ready(english{}), Deferred(newService)); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := Resolve[*service](c)
	var rerr *ResolutionError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if rerr.Requested != reflect.TypeOf(&config{}) {
		t.Fatalf("expected missing *config, got %v", rerr.Requested)
	}
	if len(rerr.Path) != 1 || rerr.Path[0] != reflect.TypeOf(&service{}) {
		t.Fatalf("expected path [*service], got %v", rerr.Path)
	}
	if !strings.Contains(err.Error(), "required by *github.com/osvaldoandrade/reportq/pkg/container.service") {
		t.Fatalf("expected requiring type in %q", err.Error())
	}
}

func TestResolveAmbiguous(t *testing.T) {
	c := New(nil)
	if err := c.Register(Ready(english{}), Ready(spanish{})); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := Resolve[greeter](c)
	if !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("expected ErrAmbiguous, got %v", err)
	}
	var rerr *ResolutionError
	errors.As(err, &rerr)
	if len(rerr.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(rerr.Candidates))
	}
}

func TestResolveAllKeepsRegistrationOrder(t *testing.T) {
	parent := New(nil)
	if err := parent.Register(Ready(english{})); err != nil {
		t.Fatalf("register parent: %v", err)
	}
	child := New(parent)
	if err := child.Register(Ready(spanish{}), Deferred(func() greeter { return english{} })); err != nil {
		t.Fatalf("register child: %v", err)
	}
	all, err := ResolveAll[greeter](child)
	if err != nil {
		t.Fatalf("resolve all: %v", err)
	}
	got := make([]string, 0, len(all))
	for _, g := range all {
		got = append(got, g.Greet())
	}
	if strings.Join(got, ",") != "hola,hello,hello" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestResolveAllEmpty(t *testing.T) {
	all, err := ResolveAll[greeter](New(nil))
	if err != nil {
		t.Fatalf("resolve all: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no matches, got %d", len(all))
	}
}

func TestSliceParameterReceivesAllMatches(t *testing.T) {
	c := New(nil)
	if err := c.Register(Ready(english{}), Ready(spanish{}), Deferred(newChorus)); err != nil {
		t.Fatalf("register: %v", err)
	}
	ch, err := Resolve[*chorus](c)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(ch.voices) != 2 {
		t.Fatalf("expected 2 voices, got %d", len(ch.voices))
	}
}

func TestParentFallbackAndLocalPrecedence(t *testing.T) {
	parent := New(nil)
	if err := parent.Register(Ready(&config{name: "parent"}), Ready(english{})); err != nil {
		t.Fatalf("register parent: %v", err)
	}
	child := New(parent)
	if err := child.Register(Ready(spanish{}), Deferred(newService)); err != nil {
		t.Fatalf("register child: %v", err)
	}
	s, err := Resolve[*service](child)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if s.cfg.name != "parent" {
		t.Fatalf("expected config from parent, got %s", s.cfg.name)
	}
	if s.g.Greet() != "hola" {
		t.Fatalf("expected local greeter to shadow parent's, got %s", s.g.Greet())
	}
}

type nodeA struct{}
type nodeB struct{}

func TestCircularDependency(t *testing.T) {
	c := New(nil)
	err := c.Register(
		Deferred(func(*nodeB) *nodeA { return &nodeA{} }),
		Deferred(func(*nodeA) *nodeB { return &nodeB{} }),
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err = Resolve[*nodeA](c)
	if !errors.Is(err, ErrCircularDependency) {
		t.Fatalf("expected ErrCircularDependency, got %v", err)
	}
	if !strings.Contains(err.Error(), "nodeA -> ") || strings.Count(err.Error(), "nodeA") != 2 {
		t.Fatalf("expected cycle path in %q", err.Error())
	}
}

func TestConstructorErrorAndPanic(t *testing.T) {
	boom := errors.New("boom")
	c := New(nil)
	if err := c.Register(Deferred(func() (*config, error) { return nil, boom })); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := Resolve[*config](c)
	if !errors.Is(err, ErrConstructorFailed) || !errors.Is(err, boom) {
		t.Fatalf("expected constructor failure wrapping boom, got %v", err)
	}

	p := New(nil)
	if err := p.Register(Deferred(func() *config { panic("bad wiring") })); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err = Resolve[*config](p)
	if !errors.Is(err, ErrConstructorFailed) || !strings.Contains(err.Error(), "bad wiring") {
		t.Fatalf("expected recovered panic, got %v", err)
	}
}

func TestInvalidComponentsRejected(t *testing.T) {
	tests := []struct {
		name string
		comp Component
	}{
		{"nil ready", Ready(nil)},
		{"not a function", Deferred(42)},
		{"no result", Deferred(func() {})},
		{"error only", Deferred(func() error { return nil })},
		{"second result not error", Deferred(func() (int, int) { return 1, 2 })},
		{"variadic", Deferred(func(...int) int { return 0 })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(nil)
			if err := c.Register(Ready(english{}), tt.comp); err == nil {
				t.Fatal("expected registration error")
			}
			if c.Len() != 0 {
				t.Fatalf("expected nothing registered, got %d", c.Len())
			}
		})
	}
}

func TestCloseReleasesInReverseInstantiationOrder(t *testing.T) {
	log := &releaseLog{}
	c := New(nil)
	err := c.Register(
		Deferred(func() *first { return &first{&closer{name: "first", log: log}} }),
		Deferred(func(*first) *second { return &second{&closer{name: "second", log: log}} }),
		Ready(&closer{name: "ready", log: log}),
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := Resolve[*second](c); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if strings.Join(log.order, ",") != "second,first" {
		t.Fatalf("unexpected release order %v", log.order)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
	if len(log.order) != 2 {
		t.Fatalf("components released twice: %v", log.order)
	}
}

func TestCloseCollectsFailuresAndContinues(t *testing.T) {
	log := &releaseLog{}
	c := New(nil)
	err := c.Register(
		Deferred(func() *first { return &first{&closer{name: "first", log: log}} }),
		Deferred(func() *second { return &second{&closer{name: "second", log: log, err: errors.New("disk busy")}} }),
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	_, _ = Resolve[*first](c)
	_, _ = Resolve[*second](c)

	err = c.Close()
	var cerr *CleanupError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CleanupError, got %v", err)
	}
	if len(cerr.Errs) != 1 || !strings.Contains(cerr.Error(), "disk busy") {
		t.Fatalf("unexpected cleanup error %v", cerr)
	}
	if strings.Join(log.order, ",") != "second,first" {
		t.Fatalf("expected both released, got %v", log.order)
	}
}

func TestClosedContainerRejectsUse(t *testing.T) {
	c := New(nil)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Register(Ready(english{})); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on register, got %v", err)
	}
	if _, err := Resolve[greeter](c); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on resolve, got %v", err)
	}
	if err := c.Open(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on open, got %v", err)
	}
}

func TestChildCloseLeavesParentComponents(t *testing.T) {
	log := &releaseLog{}
	parent := New(nil)
	if err := parent.Register(Deferred(func() *first { return &first{&closer{name: "shared", log: log}} })); err != nil {
		t.Fatalf("register parent: %v", err)
	}
	child := New(parent)
	if err := child.Register(Deferred(func(*first) *second { return &second{&closer{name: "scoped", log: log}} })); err != nil {
		t.Fatalf("register child: %v", err)
	}
	if _, err := Resolve[*second](child); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_ = child.Close()
	if strings.Join(log.order, ",") != "scoped" {
		t.Fatalf("child close released %v", log.order)
	}
	_ = parent.Close()
	if strings.Join(log.order, ",") != "scoped,shared" {
		t.Fatalf("parent close released %v", log.order)
	}
}

type engine struct {
	started bool
	stopped bool
	fail    error
}

func (e *engine) Start(context.Context) error {
	e.started = true
	return e.fail
}

func (e *engine) Stop() error {
	e.stopped = true
	return nil
}

func TestOpenStartsStartersAndCloseStopsThem(t *testing.T) {
	ready := &engine{}
	var built *engine
	c := New(nil)
	err := c.Register(
		Ready(ready),
		Deferred(func() *engine { built = &engine{}; return built }),
		Ready(english{}),
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if !ready.started || built == nil || !built.started {
		t.Fatal("expected both engines started")
	}
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("second open: %v", err)
	}
	_ = c.Close()
	if !ready.stopped || !built.stopped {
		t.Fatal("expected started engines to be stopped")
	}
}

func TestOpenPropagatesStartFailure(t *testing.T) {
	boom := errors.New("no connection")
	c := New(nil)
	if err := c.Register(Ready(&engine{fail: boom})); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.Open(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected start failure, got %v", err)
	}
}

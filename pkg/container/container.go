package container

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"slices"
	"sync"
)

// Starter is implemented by components that must initialize before any step runs.
// Open starts them in registration order.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by components holding scoped resources. Close calls Stop,
// or Close for io.Closer values, in reverse instantiation order.
type Stopper interface {
	Stop() error
}

var starterType = reflect.TypeOf((*Starter)(nil)).Elem()

type Option func(*Container)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithName(name string) Option {
	return func(c *Container) { c.name = name }
}

type entry struct {
	component Component
	value     any
	built     bool
	building  bool
	owned     bool
}

// Container is a registry of components with an optional parent used as fallback scope.
// Registration is append-only until Close. Deferred components are built on first
// resolve and cached; the container owns what it builds or starts and releases those
// values on Close. Ready instances are owned by whoever registered them.
type Container struct {
	mu      sync.Mutex
	name    string
	parent  *Container
	logger  *slog.Logger
	entries []*entry
	owned   []*entry
	opened  bool
	closed  bool
}

func New(parent *Container, opts ...Option) *Container {
	c := &Container{parent: parent, logger: slog.Default(), name: "container"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Container) Name() string       { return c.name }
func (c *Container) Parent() *Container { return c.parent }

// Len returns the number of components registered locally.
func (c *Container) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Register adds components. Nothing is registered if any component is invalid.
func (c *Container) Register(components ...Component) error {
	for _, comp := range components {
		if comp.err != nil {
			return comp.err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	for _, comp := range components {
		c.entries = append(c.entries, &entry{component: comp, value: comp.instance, built: !comp.deferred})
	}
	return nil
}

func (c *Container) RegisterMany(components []Component) error {
	return c.Register(components...)
}

// Resolve returns the single component assignable to t, looking at the parent only when
// no local component matches. Resolution failures are *ResolutionError.
func (c *Container) Resolve(t reflect.Type) (any, error) {
	if t == nil {
		return nil, fmt.Errorf("container: resolve of nil type")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &ResolutionError{Kind: ErrClosed, Requested: t}
	}
	return c.resolve(t, nil)
}

// ResolveAll returns every component assignable to t in registration order, local ones
// first, then the parent's. No match is not an error.
func (c *Container) ResolveAll(t reflect.Type) ([]any, error) {
	if t == nil {
		return nil, fmt.Errorf("container: resolve of nil type")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &ResolutionError{Kind: ErrClosed, Requested: t}
	}
	return c.resolveAll(t, nil)
}

// Open builds and starts, in registration order, every local component implementing
// Starter. Start must not call back into the container. Calling Open twice is a no-op.
func (c *Container) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.opened {
		return nil
	}
	c.opened = true
	for _, e := range slices.Clone(c.entries) {
		if !e.component.typ.Implements(starterType) {
			continue
		}
		v, err := c.materialize(e, e.component.typ, nil)
		if err != nil {
			return err
		}
		c.own(e)
		if err := v.(Starter).Start(ctx); err != nil {
			return fmt.Errorf("container: start %s: %w", TypeName(e.component.typ), err)
		}
	}
	return nil
}

// Close releases owned components in reverse instantiation order. Release failures are
// logged and returned together as *CleanupError; they never stop the remaining releases.
// Closing an already closed container returns nil.
func (c *Container) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	owned := c.owned
	c.owned = nil
	c.mu.Unlock()

	var errs []error
	for i := len(owned) - 1; i >= 0; i-- {
		v := owned[i].value
		if err := release(v); err != nil {
			err = fmt.Errorf("%s: %w", TypeName(reflect.TypeOf(v)), err)
			c.logger.Warn("component release failed", "container", c.name, "err", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &CleanupError{Errs: errs}
	}
	return nil
}

func release(v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during release: %v", r)
		}
	}()
	switch x := v.(type) {
	case Stopper:
		return x.Stop()
	case io.Closer:
		return x.Close()
	}
	return nil
}

// ===== resolution (c.mu held) =====

func (c *Container) matches(t reflect.Type) []*entry {
	var out []*entry
	for _, e := range c.entries {
		if e.component.typ.AssignableTo(t) {
			out = append(out, e)
		}
	}
	return out
}

func (c *Container) resolve(t reflect.Type, stack []reflect.Type) (any, error) {
	found := c.matches(t)
	switch len(found) {
	case 1:
		return c.materialize(found[0], t, stack)
	case 0:
		if c.parent != nil {
			return c.parent.resolveFromChild(t, stack)
		}
		return nil, &ResolutionError{Kind: ErrNotFound, Requested: t, Path: slices.Clone(stack)}
	default:
		candidates := make([]reflect.Type, 0, len(found))
		for _, e := range found {
			candidates = append(candidates, e.component.typ)
		}
		return nil, &ResolutionError{Kind: ErrAmbiguous, Requested: t, Path: slices.Clone(stack), Candidates: candidates}
	}
}

func (c *Container) resolveAll(t reflect.Type, stack []reflect.Type) ([]any, error) {
	var out []any
	for _, e := range c.matches(t) {
		v, err := c.materialize(e, t, stack)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if c.parent != nil {
		more, err := c.parent.resolveAllFromChild(t, stack)
		if err != nil {
			return nil, err
		}
		out = append(out, more...)
	}
	return out, nil
}

func (c *Container) resolveFromChild(t reflect.Type, stack []reflect.Type) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &ResolutionError{Kind: ErrClosed, Requested: t, Path: slices.Clone(stack)}
	}
	return c.resolve(t, stack)
}

func (c *Container) resolveAllFromChild(t reflect.Type, stack []reflect.Type) ([]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &ResolutionError{Kind: ErrClosed, Requested: t, Path: slices.Clone(stack)}
	}
	return c.resolveAll(t, stack)
}

func (c *Container) materialize(e *entry, requested reflect.Type, stack []reflect.Type) (any, error) {
	if e.built {
		return e.value, nil
	}
	if e.building {
		return nil, &ResolutionError{Kind: ErrCircularDependency, Requested: requested, Path: slices.Clone(stack)}
	}
	e.building = true
	defer func() { e.building = false }()

	path := append(slices.Clone(stack), requested)
	ft := e.component.ctor.Type()
	args := make([]reflect.Value, ft.NumIn())
	for i := range args {
		arg, err := c.resolveParam(ft.In(i), path)
		if err != nil {
			return nil, err
		}
		args[i] = arg
	}

	value, err := call(e.component.ctor, args)
	if err != nil {
		return nil, &ResolutionError{Kind: ErrConstructorFailed, Requested: requested, Path: slices.Clone(stack), Err: err}
	}
	e.value = value
	e.built = true
	c.own(e)
	return value, nil
}

func (c *Container) own(e *entry) {
	if e.owned {
		return
	}
	e.owned = true
	c.owned = append(c.owned, e)
}

func (c *Container) resolveParam(t reflect.Type, path []reflect.Type) (reflect.Value, error) {
	if t.Kind() == reflect.Slice {
		all, err := c.resolveAll(t.Elem(), path)
		if err != nil {
			return reflect.Value{}, err
		}
		s := reflect.MakeSlice(t, 0, len(all))
		for _, v := range all {
			s = reflect.Append(s, reflect.ValueOf(v))
		}
		return s, nil
	}
	v, err := c.resolve(t, path)
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(v), nil
}

func call(ctor reflect.Value, args []reflect.Value) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	out := ctor.Call(args)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	if isNil(out[0]) {
		return nil, fmt.Errorf("constructor returned nil")
	}
	return out[0].Interface(), nil
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	default:
		return false
	}
}

// Resolve is the typed form of (*Container).Resolve.
func Resolve[T any](c *Container) (T, error) {
	var zero T
	v, err := c.Resolve(reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// ResolveAll is the typed form of (*Container).ResolveAll.
func ResolveAll[T any](c *Container) ([]T, error) {
	all, err := c.ResolveAll(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(all))
	for _, v := range all {
		out = append(out, v.(T))
	}
	return out, nil
}

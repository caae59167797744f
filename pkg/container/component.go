package container

import (
	"fmt"
	"reflect"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Component is a registration: either a ready instance or a deferred constructor that the
// container calls on first resolve. Build one with Ready or Deferred.
type Component struct {
	instance any
	ctor     reflect.Value
	typ      reflect.Type
	deferred bool
	err      error
}

// Ready wraps an already built instance. Its concrete type is used for matching.
func Ready(instance any) Component {
	if instance == nil {
		return Component{err: fmt.Errorf("container: ready component is nil")}
	}
	return Component{instance: instance, typ: reflect.TypeOf(instance)}
}

// Deferred wraps a constructor of the form func(deps...) T or func(deps...) (T, error).
// Each parameter is resolved from the container when the component is first requested;
// a slice parameter []E receives every component assignable to E.
func Deferred(constructor any) Component {
	v := reflect.ValueOf(constructor)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return Component{err: fmt.Errorf("container: deferred component must be a function, got %T", constructor)}
	}
	t := v.Type()
	if t.IsVariadic() {
		return Component{err: fmt.Errorf("container: constructor %s must not be variadic", t)}
	}
	switch {
	case t.NumOut() == 1 && t.Out(0) != errorType:
	case t.NumOut() == 2 && t.Out(0) != errorType && t.Out(1) == errorType:
	default:
		return Component{err: fmt.Errorf("container: constructor %s must return T or (T, error)", t)}
	}
	return Component{ctor: v, typ: t.Out(0), deferred: true}
}

// IsDeferred reports whether the component is instantiated lazily.
func (c Component) IsDeferred() bool { return c.deferred }

// Type is the concrete type of a ready instance, or the declared result type of a constructor.
func (c Component) Type() reflect.Type { return c.typ }

// Instance returns the ready instance, or nil for deferred components.
func (c Component) Instance() any { return c.instance }

// Err reports why the component cannot be registered.
func (c Component) Err() error { return c.err }

func (c Component) String() string {
	if c.err != nil {
		return "invalid(" + c.err.Error() + ")"
	}
	if c.deferred {
		return "deferred(" + TypeName(c.typ) + ")"
	}
	return "ready(" + TypeName(c.typ) + ")"
}

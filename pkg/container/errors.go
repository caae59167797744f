package container

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	ErrNotFound           = errors.New("no component registered")
	ErrAmbiguous          = errors.New("ambiguous component")
	ErrCircularDependency = errors.New("circular dependency")
	ErrConstructorFailed  = errors.New("constructor failed")
	ErrClosed             = errors.New("container closed")
)

// ResolutionError reports a component that could not be produced. Requested is the type
// that failed (the innermost one when resolving nested dependencies) and Path the chain of
// types being built when it failed, outermost first.
type ResolutionError struct {
	Kind       error
	Requested  reflect.Type
	Path       []reflect.Type
	Candidates []reflect.Type
	Err        error
}

func (e *ResolutionError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("container: ")
	switch e.Kind {
	case ErrCircularDependency:
		chain := append(typeNames(e.Path), TypeName(e.Requested))
		fmt.Fprintf(&b, "%s: %s", e.Kind, strings.Join(chain, " -> "))
		return b.String()
	case ErrAmbiguous:
		fmt.Fprintf(&b, "%s %s: %d candidates (%s)", e.Kind, TypeName(e.Requested), len(e.Candidates), strings.Join(typeNames(e.Candidates), ", "))
	default:
		fmt.Fprintf(&b, "%s for %s", e.Kind, TypeName(e.Requested))
	}
	if len(e.Path) > 0 {
		fmt.Fprintf(&b, " (required by %s)", strings.Join(typeNames(e.Path), " -> "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// CleanupError collects the release failures of one Close call.
type CleanupError struct {
	Errs []error
}

func (e *CleanupError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("container: %d component(s) failed to release: %s", len(e.Errs), strings.Join(msgs, "; "))
}

func (e *CleanupError) Unwrap() []error { return e.Errs }

// TypeName returns the package-qualified name of t, e.g.
// "*github.com/acme/app/steps.LoadStep".
func TypeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	prefix := ""
	for t.Kind() == reflect.Pointer {
		prefix += "*"
		t = t.Elem()
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return prefix + t.PkgPath() + "." + t.Name()
	}
	return prefix + t.String()
}

func typeNames(types []reflect.Type) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, TypeName(t))
	}
	return out
}

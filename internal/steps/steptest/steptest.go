// Package steptest checks step pipelines against the step types their package defines.
package steptest

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/osvaldoandrade/reportq/pkg/step"
)

// DefinedSteps parses the non-test Go files in dir and returns the names of the
// struct types whose name ends in "Step", sorted.
func DefinedSteps(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.go"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	fset := token.NewFileSet()
	var out []string
	for _, name := range files {
		if strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, name, nil, parser.SkipObjectResolution)
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		for _, decl := range f.Decls {
			gd, ok := decl.(*ast.GenDecl)
			if !ok || gd.Tok != token.TYPE {
				continue
			}
			for _, spec := range gd.Specs {
				ts := spec.(*ast.TypeSpec)
				if _, ok := ts.Type.(*ast.StructType); ok && strings.HasSuffix(ts.Name.Name, "Step") {
					out = append(out, ts.Name.Name)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

// AssertCount fails unless r declares exactly want distinct steps.
func AssertCount(t *testing.T, r *step.Registry, want int) {
	t.Helper()
	decls := r.Declarations()
	if len(decls) != want {
		t.Fatalf("expected %d %s steps, got %d", want, r.Kind(), len(decls))
	}
	seen := map[string]bool{}
	for _, d := range decls {
		if seen[d.String()] {
			t.Fatalf("step %s declared twice", d)
		}
		seen[d.String()] = true
	}
}

// AssertCoverage fails unless the step types defined in dir and the declarations of
// r are the same set.
func AssertCoverage(t *testing.T, r *step.Registry, dir string) {
	t.Helper()
	defined := DefinedSteps(t, dir)
	var declared []string
	for _, d := range r.Declarations() {
		typ := d.Type
		if typ.Kind() == reflect.Pointer {
			typ = typ.Elem()
		}
		declared = append(declared, typ.Name())
	}
	sort.Strings(declared)
	if strings.Join(defined, ",") != strings.Join(declared, ",") {
		t.Fatalf("%s pipeline out of sync with its package\ndefined:  %v\ndeclared: %v", r.Kind(), defined, declared)
	}
}

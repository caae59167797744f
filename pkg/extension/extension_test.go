package extension

import (
	"testing"

	"github.com/osvaldoandrade/reportq/pkg/container"
)

func TestRegisterKeepsOrder(t *testing.T) {
	before := len(Providers())
	Register(ProviderFunc{ID: "test-a", Fn: func() []container.Component { return nil }})
	Register(ProviderFunc{ID: "test-b", Fn: func() []container.Component {
		return []container.Component{container.Ready("b")}
	}})

	all := Providers()
	if len(all) != before+2 {
		t.Fatalf("expected %d providers, got %d", before+2, len(all))
	}
	if all[before].Name() != "test-a" || all[before+1].Name() != "test-b" {
		t.Fatalf("unexpected order %v", Names())
	}
	if got := all[before+1].Components(); len(got) != 1 || got[0].Instance() != "b" {
		t.Fatalf("unexpected components %v", got)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	Register(ProviderFunc{ID: "test-dup", Fn: func() []container.Component { return nil }})
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate name")
		}
	}()
	Register(ProviderFunc{ID: "test-dup", Fn: func() []container.Component { return nil }})
}

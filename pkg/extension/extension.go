// Package extension is the boundary through which plugins contribute components to
// every task container. Contributions are merged next to the core components but are
// never scheduled as pipeline steps.
package extension

import (
	"fmt"
	"sync"

	"github.com/osvaldoandrade/reportq/pkg/container"
)

// Provider contributes components to task containers. Components is called once per
// populated container.
type Provider interface {
	Name() string
	Components() []container.Component
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc struct {
	ID string
	Fn func() []container.Component
}

func (p ProviderFunc) Name() string                      { return p.ID }
func (p ProviderFunc) Components() []container.Component { return p.Fn() }

var (
	providers []Provider
	names     = make(map[string]bool)
	mu        sync.RWMutex
)

// Register adds a provider to the process-wide list. Plugins call it from init.
// Registering the same name twice panics.
func Register(p Provider) {
	mu.Lock()
	defer mu.Unlock()
	if names[p.Name()] {
		panic(fmt.Sprintf("extension: provider %q registered twice", p.Name()))
	}
	names[p.Name()] = true
	providers = append(providers, p)
}

// Providers returns the registered providers in registration order.
func Providers() []Provider {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Provider, len(providers))
	copy(out, providers)
	return out
}

// Names lists the registered provider names in registration order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(providers))
	for _, p := range providers {
		out = append(out, p.Name())
	}
	return out
}

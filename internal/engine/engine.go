// Package engine loads, validates, hot-swaps, and invokes pluggable decision
// strategies behind a fixed contract.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gridshift-io/gridshift/pkg/types"
)

// Engine is a pluggable decision strategy. Implementations must honor the
// DecisionInput/DecisionOutput contract for every call.
type Engine interface {
	Type() string
	Version() string
	Decide(ctx context.Context, input types.DecisionInput) (types.DecisionOutput, error)
}

// Constructor builds a fresh engine instance.
type Constructor func() (Engine, error)

// Registry maps engine names to constructors. Hot-swapping picks candidates
// from here by name; there is no dynamic loading.
type Registry struct {
	mu    sync.Mutex
	ctors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds a named constructor. Duplicate names are an error.
func (r *Registry) Register(name string, ctor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[name]; exists {
		return fmt.Errorf("engine %q already registered", name)
	}
	r.ctors[name] = ctor
	return nil
}

// New instantiates the named engine.
func (r *Registry) New(name string) (Engine, error) {
	r.mu.Lock()
	ctor, ok := r.ctors[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown engine %q", name)
	}
	return ctor()
}

// Names returns the registered engine names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuiltinRegistry returns a registry with the built-in engines.
func BuiltinRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(RulesEngineName, func() (Engine, error) { return NewRulesEngine(), nil })
	_ = r.Register(CostModelEngineName, func() (Engine, error) { return NewCostModelEngine(), nil })
	return r
}

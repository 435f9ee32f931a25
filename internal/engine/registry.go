// Package engine implements the rule engine: the function registry, the
// local/RPC/hybrid function providers, and the boolean-tree matcher.
package engine

import (
	"context"
	"fmt"

	"github.com/modsieve/modsieve/internal/model"
)

// Func is a registered rule function. It receives the content object under
// review plus the call's positional and keyword arguments.
type Func func(ctx context.Context, obj model.Content, args []any, kwargs map[string]any) (any, error)

// Registry maps function names to callables. It is populated during bootstrap
// and read-only afterwards, so lookups take no lock.
type Registry struct {
	funcs map[string]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds fn under name. Registering a taken name is an error.
func (r *Registry) Register(name string, fn Func) error {
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("function %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Get returns the function registered under name.
func (r *Registry) Get(name string) (Func, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

// Len returns the number of registered functions.
func (r *Registry) Len() int { return len(r.funcs) }

// Package funcs provides FHIRPath function implementations.
//
// where, select, all, any, repeat, aggregate, sort, iif, and the type-test
// functions (is, as, ofType) never reach this registry: their arguments must
// be handled as unevaluated AST, so the evaluator dispatches them directly
// (see eval.Evaluator.evalLambdaFunction and evalOfType). Registering a
// value-arguments stand-in here would just be unreachable dead code sitting
// next to the real implementation.
package funcs

import (
	"sync"

	"github.com/fhirpath-go/engine/pkg/fhirpath/eval"
)

// FuncDef is an alias for eval.FuncDef.
type FuncDef = eval.FuncDef

// Registry holds registered functions, split into a sync map and an async
// map. Dispatch is sync-first: Get only consults the sync map (funcs);
// GetAsync is a distinct, explicitly-named lookup so evaluator.go's
// fallback never touches the async map for an operation the sync map
// already serves. Both maps share one RWMutex since registration of either
// kind is exclusive but reads of either are unbounded-concurrent.
type Registry struct {
	funcs      map[string]eval.FuncDef
	asyncFuncs map[string]eval.FuncDef
	mu         sync.RWMutex
}

// globalRegistry is the default function registry.
var globalRegistry = NewRegistry()

// NewRegistry creates a new function registry.
func NewRegistry() *Registry {
	r := &Registry{
		funcs:      make(map[string]eval.FuncDef),
		asyncFuncs: make(map[string]eval.FuncDef),
	}
	return r
}

// Register adds a function to the sync registry.
func (r *Registry) Register(def eval.FuncDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[def.Name] = def
}

// RegisterAsync adds a function to the async registry: operations that may
// need to consult a remote terminology server or a network-backed
// ModelProvider. Consulted only on a sync-map miss.
func (r *Registry) RegisterAsync(def eval.FuncDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asyncFuncs[def.Name] = def
}

// Get retrieves a function by name from the sync map only.
func (r *Registry) Get(name string) (eval.FuncDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// GetAsync retrieves a function by name from the async map only. Satisfies
// eval.AsyncFuncRegistry.
func (r *Registry) GetAsync(name string) (eval.FuncDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.asyncFuncs[name]
	return fn, ok
}

// Has checks if a function exists in either map.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.funcs[name]; ok {
		return true
	}
	_, ok := r.asyncFuncs[name]
	return ok
}

// List returns all registered function names, sync and async combined.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs)+len(r.asyncFuncs))
	for name := range r.funcs {
		names = append(names, name)
	}
	for name := range r.asyncFuncs {
		names = append(names, name)
	}
	return names
}

// Global registry functions

// Register adds a function to the global registry's sync map.
func Register(def eval.FuncDef) {
	globalRegistry.Register(def)
}

// RegisterAsync adds a function to the global registry's async map.
func RegisterAsync(def eval.FuncDef) {
	globalRegistry.RegisterAsync(def)
}

// Get retrieves a function from the global registry's sync map.
func Get(name string) (eval.FuncDef, bool) {
	return globalRegistry.Get(name)
}

// GetAsync retrieves a function from the global registry's async map.
func GetAsync(name string) (eval.FuncDef, bool) {
	return globalRegistry.GetAsync(name)
}

// Has checks if a function exists in the global registry (either map).
func Has(name string) bool {
	return globalRegistry.Has(name)
}

// List returns all function names from the global registry.
func List() []string {
	return globalRegistry.List()
}

// GetRegistry returns the global registry.
func GetRegistry() *Registry {
	return globalRegistry
}

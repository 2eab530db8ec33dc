// Package registry implements the "dynamic user callables" re-architecture
// from spec.md §9 Design Notes: the original resolves callables by name from
// a user module imported at startup; here the user program registers
// (name -> function pointer) explicitly at bootstrap, and wire messages
// carry only the name.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Namespace prefixes every sentinel error raised by this package.
const Namespace = "registry"

var (
	// ErrUnknown is returned by Resolve when no callable is registered
	// under the requested name on this worker.
	ErrUnknown = errors.New(Namespace + ": callable not registered")

	// ErrAlreadyRegistered is returned by Register when the name is taken.
	ErrAlreadyRegistered = errors.New(Namespace + ": callable name already registered")
)

// Func is a user task body. It receives the args/kwargs a Future was created
// with and returns a result or an error; a returned error becomes the
// Future's exception (spec.md §7).
type Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Registry is the (name -> Func) table every worker process builds once at
// startup, before the scheduler's Startup. The same program text is expected to run on
// every worker, so each worker's Registry ends up with the same entries
// (spec.md §4.2 "Serialization").
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register binds name to fn. It panics on a duplicate name at startup time
// (mirroring the teacher's options.go panic-on-conflicting-option style),
// but TryRegister is offered for callers that want an error instead.
func (r *Registry) Register(name string, fn Func) {
	if err := r.TryRegister(name, fn); err != nil {
		panic(fmt.Errorf("%s: %w", Namespace, err))
	}
}

// TryRegister binds name to fn, returning ErrAlreadyRegistered instead of
// panicking if name is taken.
func (r *Registry) TryRegister(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("%s: empty callable name", Namespace)
	}
	if fn == nil {
		return fmt.Errorf("%s: nil callable for %q", Namespace, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, name)
	}
	r.funcs[name] = fn
	return nil
}

// Resolve looks up the Func registered under name.
func (r *Registry) Resolve(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return fn, nil
}

// Names returns every registered callable name, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		out = append(out, name)
	}
	return out
}

// Default is the process-wide registry used by the package-level Register
// and Resolve helpers. Keeping a default alongside the constructible
// Registry mirrors how most callable-name tables in the ecosystem work
// (init-time registration) while still letting tests build isolated
// registries via New().
var Default = New()

// Register binds name to fn on the default, process-wide registry.
func Register(name string, fn Func) { Default.Register(name, fn) }

// Resolve looks up name on the default, process-wide registry.
func Resolve(name string) (Func, error) { return Default.Resolve(name) }

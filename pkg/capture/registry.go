package capture

import "sync"

// ClaimFunc inspects an intercepted failure and returns true when it fully
// handled it. A claimed failure is neither reported nor passed on.
type ClaimFunc func(typ string, value any, trace Trace) bool

// Registry is an ordered, append-only list of claim handlers
type Registry struct {
	mu       sync.RWMutex
	handlers []ClaimFunc
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a handler. Handlers live for the lifetime of the registry.
func (r *Registry) Register(fn ClaimFunc) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, fn)
}

// TryHandle runs handlers in registration order and stops at the first claim
func (r *Registry) TryHandle(exc *Exception) bool {
	r.mu.RLock()
	handlers := r.handlers
	r.mu.RUnlock()

	for _, fn := range handlers {
		if fn(exc.Type, exc.Value, exc.Trace) {
			return true
		}
	}
	return false
}

// Len returns the number of registered handlers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds a handler to the process-wide registry
func Register(fn ClaimFunc) {
	defaultRegistry.Register(fn)
}

// TryHandle runs the process-wide registry
func TryHandle(exc *Exception) bool {
	return defaultRegistry.TryHandle(exc)
}

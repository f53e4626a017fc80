package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased activity handler over raw JSON. The typed
// Definition[T, R] is converted to a HandlerFunc at registration time by
// closing over JSON unmarshal + the typed handler + JSON marshal.
type HandlerFunc func(ctx context.Context, input []byte) ([]byte, error)

type registration struct {
	handler HandlerFunc
	policy  RetryPolicy
}

// Registry maps activity names to type-erased handlers and their retry
// policies. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// NewRegistry creates an empty activity registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]registration),
	}
}

// Register adds a raw handler under the given name.
func (r *Registry) Register(name string, handler HandlerFunc, policy RetryPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = registration{handler: handler, policy: policy}
}

// RegisterDefinition registers a typed activity definition.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T, R any](r *Registry, def *Definition[T, R]) {
	handler := func(ctx context.Context, input []byte) ([]byte, error) {
		var t T
		if len(input) > 0 {
			if err := json.Unmarshal(input, &t); err != nil {
				return nil, fmt.Errorf("unmarshal input for activity %q: %w", def.Name, err)
			}
		}
		result, err := def.Handler(ctx, t)
		if err != nil {
			return nil, err
		}
		out, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result for activity %q: %w", def.Name, err)
		}
		return out, nil
	}
	r.Register(def.Name, handler, def.Policy)
}

// Get returns the handler and retry policy for the given activity name.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (HandlerFunc, RetryPolicy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	return reg.handler, reg.policy, ok
}

// Names returns all registered activity names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

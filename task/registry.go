package task

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// HandlerFunc is the type-erased form handlers take inside the registry:
// raw JSON in, error out.
type HandlerFunc func(ctx context.Context, payload []byte) error

// bind closes a typed handler over its JSON decoding, producing the
// type-erased form. An empty payload skips decoding and hands the handler
// the zero value.
func bind[T any](name string, handler func(ctx context.Context, payload T) error) HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		var v T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &v); err != nil {
				return fmt.Errorf("unmarshal payload for task %q: %w", name, err)
			}
		}
		return handler(ctx, v)
	}
}

// Registry maps task names to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// RegisterDefinition registers a typed task definition under its name.
// Re-registering a name replaces the previous handler.
//
// Package-level because Go has no generic methods.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Name] = bind(def.Name, def.Handler)
}

// Get returns the handler registered under name, if any.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	return h, ok
}

// Names returns all registered task names, in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Collect(maps.Keys(r.handlers))
}

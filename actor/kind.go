package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// OpFunc is a type-erased actor operation. It receives the actor's current
// state (nil for a fresh actor) and the raw JSON input, and returns the new
// state to persist and the raw JSON output.
type OpFunc func(ctx context.Context, state, input []byte) (newState, output []byte, err error)

// Kind groups the operations available on one actor type.
// It is safe for concurrent use.
type Kind struct {
	// Name identifies the actor type, e.g. "mailbox-config".
	Name string

	mu  sync.RWMutex
	ops map[string]OpFunc
}

// NewKind creates an actor kind with no operations.
func NewKind(name string) *Kind {
	return &Kind{
		Name: name,
		ops:  make(map[string]OpFunc),
	}
}

// Register adds a raw operation under the given name.
func (k *Kind) Register(op string, fn OpFunc) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.ops[op] = fn
}

// Op returns the operation handler for the given name.
// Returns false if no operation is registered.
func (k *Kind) Op(name string) (OpFunc, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	fn, ok := k.ops[name]
	return fn, ok
}

// Ops returns all registered operation names.
func (k *Kind) Ops() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	names := make([]string, 0, len(k.ops))
	for name := range k.ops {
		names = append(names, name)
	}
	return names
}

// RegisterOp registers a typed operation on the kind. S is the actor state
// type, T the input type, R the result type. The handler receives a pointer
// to the decoded state; a fresh actor starts with the zero value of S.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterOp[S, T, R any](k *Kind, op string, fn func(ctx context.Context, state *S, input T) (R, error)) {
	k.Register(op, func(ctx context.Context, state, input []byte) ([]byte, []byte, error) {
		var s S
		if len(state) > 0 {
			if err := json.Unmarshal(state, &s); err != nil {
				return nil, nil, fmt.Errorf("unmarshal state for actor kind %q: %w", k.Name, err)
			}
		}
		var in T
		if len(input) > 0 {
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, nil, fmt.Errorf("unmarshal input for %s.%s: %w", k.Name, op, err)
			}
		}

		result, err := fn(ctx, &s, in)
		if err != nil {
			return nil, nil, err
		}

		newState, err := json.Marshal(s)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal state for actor kind %q: %w", k.Name, err)
		}
		output, err := json.Marshal(result)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal result for %s.%s: %w", k.Name, op, err)
		}
		return newState, output, nil
	})
}

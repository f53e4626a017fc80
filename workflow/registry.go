package workflow

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// RunnerFunc is a type-erased workflow runner that accepts raw JSON input.
// Typed definitions are converted to RunnerFuncs at registration time by
// closing over the JSON unmarshal and the typed handler.
type RunnerFunc func(wf *Workflow, input []byte) error

// Registry maps workflow names to versioned runner functions. New runs
// always start on the latest version of a name; in-flight runs resume on
// the version they were created with. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]map[int]RunnerFunc
	latest map[string]int
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]map[int]RunnerFunc),
		latest: make(map[string]int),
	}
}

// bindRunner closes a typed handler over its JSON decoding, producing the
// type-erased form. Empty input hands the handler the zero value.
func bindRunner[T any](name string, handler func(*Workflow, T) error) RunnerFunc {
	return func(wf *Workflow, input []byte) error {
		var v T
		if len(input) > 0 {
			if err := json.Unmarshal(input, &v); err != nil {
				return fmt.Errorf("unmarshal input for workflow %q: %w", name, err)
			}
		}
		return handler(wf, v)
	}
}

// RegisterDefinition registers a typed workflow definition. A Version of 0
// is treated as version 1, and registering an existing name+version
// replaces the previous runner.
//
// Package-level because Go has no generic methods.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	version := def.Version
	if version <= 0 {
		version = 1
	}
	runner := bindRunner(def.Name, def.Handler)

	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.byName[def.Name]
	if !ok {
		versions = make(map[int]RunnerFunc)
		r.byName[def.Name] = versions
	}
	versions[version] = runner
	if version > r.latest[def.Name] {
		r.latest[def.Name] = version
	}
}

// Get returns the latest-version runner for the given workflow name.
// Returns false if no runner is registered.
func (r *Registry) Get(name string) (RunnerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.byName[name][r.latest[name]]
	return runner, ok
}

// GetVersion returns the runner for a specific version of a workflow.
// A version <= 0 behaves like Get and returns the latest.
func (r *Registry) GetVersion(name string, version int) (RunnerFunc, bool) {
	if version <= 0 {
		return r.Get(name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.byName[name][version]
	return runner, ok
}

// LatestVersion returns the highest registered version number for a
// workflow, or 0 if the name is not registered.
func (r *Registry) LatestVersion(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest[name]
}

// Names returns all registered workflow names, in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Collect(maps.Keys(r.byName))
}

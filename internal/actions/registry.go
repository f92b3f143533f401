// Package actions holds the registry of named step actions. A step that
// declares `uses = "artifact_push"` dispatches through this registry instead
// of spawning a shell. Modules register their actions at startup; an unknown
// reference is caught at plan compile time.
package actions

import (
	"context"
	"fmt"
	"sort"
)

// Input carries the evaluated step parameters into an action.
type Input struct {
	// With holds the step's `with` parameter map after evaluation.
	With map[string]string
	// Env is the merged step environment (context, matrix, step env).
	Env map[string]string
	// Dir is the step's working directory, already resolved.
	Dir string
}

// Param returns a `with` parameter or an error naming the missing key.
func (in *Input) Param(name string) (string, error) {
	v, ok := in.With[name]
	if !ok || v == "" {
		return "", fmt.Errorf("missing required parameter %q", name)
	}
	return v, nil
}

// Func is the uniform signature of every registered action. The returned
// string becomes the step's captured output.
type Func func(ctx context.Context, in *Input) (string, error)

// Module is the interface each action module implements to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds the named actions for a single application instance.
type Registry struct {
	actions map[string]Func
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{actions: make(map[string]Func)}
}

// Register adds a named action. Registering the same name twice is a
// programmer error, so it panics like a duplicate flag registration would.
func (r *Registry) Register(name string, fn Func) {
	if _, exists := r.actions[name]; exists {
		panic(fmt.Sprintf("action %q already registered", name))
	}
	r.actions[name] = fn
}

// Lookup returns the action registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	fn, ok := r.actions[name]
	return fn, ok
}

// Has reports whether an action is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.actions[name]
	return ok
}

// Names returns the sorted registered action names, for diagnostics.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

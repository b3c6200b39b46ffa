// Package varsource defines the contract shared by configuration variable sources.
//
// A source is invoked by the resolution engine for every variable expression that
// names it, e.g. ${file(./config.yml):db.host}. The engine owns expression parsing,
// dependency ordering and cycle detection; a source only turns a Request into a
// Result.
package varsource

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Source resolves variable references of a single kind.
type Source interface {
	Resolve(ctx context.Context, req Request) (Result, error)
}

// Request describes one variable resolution handed to a Source.
type Request struct {
	// ServicePath is the absolute path of the service (project) root.
	ServicePath string

	// Params are the raw arguments of the variable expression, in order.
	// They come from the expression parser and are not guaranteed to be strings.
	Params []any

	// Address is the optional property path after the colon, e.g. "db.host".
	// nil means no address was given.
	Address any

	// Options are passed through untouched to dynamic resolvers.
	Options map[string]any

	// Properties looks up other, already resolved configuration properties.
	Properties PropertyResolver
}

// Result is the outcome of a successful resolution.
// A nil Value means the file or the addressed property does not exist.
type Result struct {
	Value any
}

// PropertyResolver looks up a configuration property by its path segments.
//
// Implementations return a *MissingDependencyError when the property exists but
// is not resolved yet.
type PropertyResolver interface {
	ResolveConfigurationProperty(ctx context.Context, path []string) (any, error)
}

// PropertyResolverFunc adapts a function to the PropertyResolver interface.
type PropertyResolverFunc func(ctx context.Context, path []string) (any, error)

// ResolveConfigurationProperty implements PropertyResolver.
func (f PropertyResolverFunc) ResolveConfigurationProperty(ctx context.Context, path []string) (any, error) {
	return f(ctx, path)
}

// Registry maps source names (as written in variable expressions) to sources.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds a source under name. Registering the same name twice is an error.
func (r *Registry) Register(name string, src Source) error {
	if name == "" {
		return fmt.Errorf("source name must not be empty")
	}
	if src == nil {
		return fmt.Errorf("source %q: nil source", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("source %q already registered", name)
	}
	r.sources[name] = src
	return nil
}

// Lookup returns the source registered under name.
func (r *Registry) Lookup(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[name]
	return src, ok
}

// Names returns the registered source names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve dispatches req to the source registered under name.
func (r *Registry) Resolve(ctx context.Context, name string, req Request) (Result, error) {
	src, ok := r.Lookup(name)
	if !ok {
		return Result{}, fmt.Errorf("unknown variable source %q", name)
	}
	return src.Resolve(ctx, req)
}

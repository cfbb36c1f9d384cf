// Package datasource defines the ingestion-plugin contract and an
// in-process registry standing in for the spec's dynamic-loading mechanism
// (genuine OS-level .so loading is an explicit non-goal).
package datasource

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bobmcallan/backtestd/internal/engine"
)

// Source extracts a set of attribute time series from a file, configured
// via a named option map.
type Source interface {
	Extract(path string, opts map[string]string) (map[string][]engine.TimedValue, error)
}

// Constructor builds a Source instance.
type Constructor func() Source

// Registry is a name -> constructor map, the in-process substitute for
// plugin discovery.
type Registry struct {
	mu  sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds a named data-source constructor.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = ctor
}

// Names lists every registered data-source name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New constructs a named Source.
func (r *Registry) New(name string) (Source, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no data source registered under %q", name)
	}
	return ctor(), nil
}

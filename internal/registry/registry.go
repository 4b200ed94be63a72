// Package registry is the process-global Plugin Registry (spec §4.1):
// two independent maps, kind -> ConnectorFactory and kind -> DestinationFactory.
// Generalizes the teacher's internal/bundle environment/set pattern
// (internal/bundle/environment.go, internal/bundle/inputs.go) from a single
// immutable global bundle to connector/destination factories.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/warpstreamlabs/cdcengine/internal/connector"
	"github.com/warpstreamlabs/cdcengine/internal/destination"
	"github.com/warpstreamlabs/cdcengine/internal/errs"
)

// Registry holds the two kind->factory maps. A Registry is safe for
// concurrent reads once bootstrap registration is complete; it is not
// intended to be mutated after the process finishes wiring up its plugins.
type Registry struct {
	mu           sync.RWMutex
	connectors   map[string]connector.Factory
	destinations map[string]destination.Factory
	sealed       bool
}

// New creates an empty, mutable Registry.
func New() *Registry {
	return &Registry{
		connectors:   map[string]connector.Factory{},
		destinations: map[string]destination.Factory{},
	}
}

// Global is the process-wide registry populated at bootstrap by
// cmd/cdcengine, which calls each connector/destination kind's Register
// function, mirroring the teacher's bundle.GlobalEnvironment singleton.
var Global = New()

// Seal marks the registry immutable; subsequent RegisterConnector/
// RegisterDestination calls return an error. Call once bootstrap
// registration completes; reads still take the read lock.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// RegisterConnector adds a connector factory under its own Kind(). Called
// from a kind package's Register function.
func (r *Registry) RegisterConnector(f connector.Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("registry: cannot register connector %q after Seal", f.Kind())
	}
	if _, exists := r.connectors[f.Kind()]; exists {
		return fmt.Errorf("registry: connector kind %q already registered", f.Kind())
	}
	r.connectors[f.Kind()] = f
	return nil
}

// RegisterDestination adds a destination factory under its own Kind().
func (r *Registry) RegisterDestination(f destination.Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("registry: cannot register destination %q after Seal", f.Kind())
	}
	if _, exists := r.destinations[f.Kind()]; exists {
		return fmt.Errorf("registry: destination kind %q already registered", f.Kind())
	}
	r.destinations[f.Kind()] = f
	return nil
}

// Connector looks up a connector factory by kind.
func (r *Registry) Connector(kind string) (connector.Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.connectors[kind]
	if !ok {
		return nil, errs.NotFound("connector kind %q is not registered", kind)
	}
	return f, nil
}

// Destination looks up a destination factory by kind.
func (r *Registry) Destination(kind string) (destination.Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.destinations[kind]
	if !ok {
		return nil, errs.NotFound("destination kind %q is not registered", kind)
	}
	return f, nil
}

// ConnectorKinds lists all registered connector kinds, sorted.
func (r *Registry) ConnectorKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ks := make([]string, 0, len(r.connectors))
	for k := range r.connectors {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// DestinationKinds lists all registered destination kinds, sorted.
func (r *Registry) DestinationKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ks := make([]string, 0, len(r.destinations))
	for k := range r.destinations {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

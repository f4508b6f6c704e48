// Package registry holds ComponentDescriptor and Binding records and
// exposes lookups by name, capability, and annotation.
// The registry is frozen after bootstrap phase P3; mutation is refused
// from then on. Lookups take a shared read lock (sync.RWMutex) both
// before and after Freeze; they are not lock-free.
package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Parameter is one constructor argument of a ComponentDescriptor.
type Parameter struct {
	Name             string
	RequiredContract string
	Optional         bool
	HasDefault       bool
}

// ComponentDescriptor is the registry's unit of record.
type ComponentDescriptor struct {
	QualifiedName string
	Package       string
	Capabilities  []string
	Parameters    []Parameter
	// GenericParams maps a type-parameter name to the concrete contract
	// it was resolved to.
	GenericParams map[string]string
	Annotations   []string
}

// HasCapability reports whether the descriptor declares contract.
func (d ComponentDescriptor) HasCapability(contract string) bool {
	for _, c := range d.Capabilities {
		if c == contract {
			return true
		}
	}
	return false
}

// Scope is always Singleton in the core.
type Scope string

const ScopeSingleton Scope = "singleton"

// Binding is a (contract, descriptor) pair with a scope and a
// priority. Higher priority wins among multiple bindings for a
// multi-binding contract ordering, and determines which binding is
// primary for a single-binding contract.
type Binding struct {
	Contract   string
	Descriptor ComponentDescriptor
	Scope      Scope
	Priority   int
	Primary    bool
	// MultiBinding marks contracts that permit more than one binding
	// (e.g. Initializer, EventHandler, Hook, Feature).
	MultiBinding bool
}

// Registry holds discovered descriptors and their bindings. Safe for
// concurrent reads once Freeze has been called; writes before Freeze
// are serialized by mu.
type Registry struct {
	mu                sync.RWMutex
	frozen            bool
	overridePermitted bool

	descriptors map[string]ComponentDescriptor
	// bindingsByContract holds every binding registered for a contract,
	// in registration order until Freeze sorts it by descending priority.
	// The single-primary rule is checked in Bind (unless overrides are
	// permitted) and reported by AmbiguousContracts.
	bindingsByContract map[string][]Binding
}

// New creates an empty, mutable Registry.
func New(overridePermitted bool) *Registry {
	return &Registry{
		overridePermitted:  overridePermitted,
		descriptors:        make(map[string]ComponentDescriptor),
		bindingsByContract: make(map[string][]Binding),
	}
}

// ErrFrozen is returned by mutating calls once Freeze has run.
var ErrFrozen = fmt.Errorf("registry is frozen")

// Register adds a descriptor to the registry. It is an error to call
// after Freeze.
func (r *Registry) Register(d ComponentDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	r.descriptors[d.QualifiedName] = d
	return nil
}

// Bind registers a (contract, descriptor) binding. Overrides (rebinding
// an existing primary) are only allowed when the registry was created
// with overridePermitted=true.
func (r *Registry) Bind(b Binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	existing := r.bindingsByContract[b.Contract]
	if b.Primary && !b.MultiBinding && !r.overridePermitted {
		for _, e := range existing {
			if e.Primary && !e.MultiBinding {
				return fmt.Errorf("override not permitted: contract %q already has a primary binding (%s)", b.Contract, e.Descriptor.QualifiedName)
			}
		}
	}
	r.bindingsByContract[b.Contract] = append(existing, b)
	return nil
}

// Freeze locks the registry against further mutation. Safe to call once.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	for contract := range r.bindingsByContract {
		bindings := r.bindingsByContract[contract]
		sort.SliceStable(bindings, func(i, j int) bool { return bindings[i].Priority > bindings[j].Priority })
		r.bindingsByContract[contract] = bindings
	}
}

// Frozen reports whether the registry has been frozen.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Descriptor looks up a descriptor by qualified name.
func (r *Registry) Descriptor(qualifiedName string) (ComponentDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[qualifiedName]
	return d, ok
}

// DescriptorNames returns every registered descriptor's qualified name
// in sorted order.
func (r *Registry) DescriptorNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.descriptors))
	for n := range r.descriptors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Primary returns the single primary binding for contract, or false if
// none exists. Callers needing multi-binding collections should use
// Bindings instead.
func (r *Registry) Primary(contract string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.bindingsByContract[contract] {
		if b.Primary {
			return b, true
		}
	}
	return Binding{}, false
}

// Bindings returns every binding for contract in descending priority
// order.
func (r *Registry) Bindings(contract string) []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Binding, len(r.bindingsByContract[contract]))
	copy(out, r.bindingsByContract[contract])
	return out
}

// AmbiguousContracts returns, for every contract with more than one
// primary binding, the list of offending descriptor names. The resolver
// raises AmbiguousBinding from this during validation.
func (r *Registry) AmbiguousContracts() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string)
	for contract, bindings := range r.bindingsByContract {
		var primaries []string
		for _, b := range bindings {
			if b.Primary && !b.MultiBinding {
				primaries = append(primaries, b.Descriptor.QualifiedName)
			}
		}
		if len(primaries) > 1 {
			out[contract] = primaries
		}
	}
	return out
}

// ByCapability returns descriptors declaring contract as a capability,
// sorted by qualified name.
func (r *Registry) ByCapability(contract string) []ComponentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ComponentDescriptor
	for _, d := range r.descriptors {
		if d.HasCapability(contract) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName < out[j].QualifiedName })
	return out
}

// ByAnnotation returns descriptors carrying annotation, sorted by
// qualified name.
func (r *Registry) ByAnnotation(annotation string) []ComponentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ComponentDescriptor
	for _, d := range r.descriptors {
		for _, a := range d.Annotations {
			if a == annotation {
				out = append(out, d)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName < out[j].QualifiedName })
	return out
}

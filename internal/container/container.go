package container

import (
	"context"
	"fmt"
	"sync"

	kerrors "katalyst/internal/errors"
	"katalyst/internal/registry"
)

// ConstructorFunc builds one instance of a component. It may call
// Container.Resolve/ResolveMulti to obtain its own dependencies; the
// Container guarantees those calls observe a consistent, cycle-free
// graph because ValidateAll has already run during bootstrap phase P3.
type ConstructorFunc func(ctx context.Context, c *Container) (any, error)

// Container lazily instantiates and caches singletons. Each component
// (keyed by descriptor qualified name) gets its own lock so that building
// one branch of the graph never blocks an unrelated one; sync.Once
// semantics are implemented by hand per component because the set of
// components is not known at compile time.
type Container struct {
	reg *registry.Registry

	ctorMu sync.RWMutex
	ctors  map[string]ConstructorFunc // keyed by descriptor qualified name

	instMu    sync.Mutex
	locks     map[string]*sync.Mutex
	instances map[string]any
	building  map[string]bool
}

// New builds a Container over a frozen registry. Resolve/ResolveMulti
// panic if reg is not yet frozen, matching the bootstrap invariant that
// P3 (discovery + validation) completes before P4/P5 ever touch the
// container.
func New(reg *registry.Registry) *Container {
	return &Container{
		reg:       reg,
		ctors:     make(map[string]ConstructorFunc),
		locks:     make(map[string]*sync.Mutex),
		instances: make(map[string]any),
		building:  make(map[string]bool),
	}
}

// RegisterConstructor associates a descriptor's qualified name with the
// function that builds it. Called during bootstrap phase P1/P2 as
// modules register themselves; must happen before the first Resolve.
func (c *Container) RegisterConstructor(qualifiedName string, fn ConstructorFunc) {
	c.ctorMu.Lock()
	defer c.ctorMu.Unlock()
	c.ctors[qualifiedName] = fn
}

// Resolve returns the singleton instance bound to contract, building it
// on first use. Concurrent callers resolving the same contract block on
// the lock of the component bound to it, not a global one.
func (c *Container) Resolve(ctx context.Context, contract string) (any, error) {
	if !c.reg.Frozen() {
		panic("container: Resolve called before registry.Freeze")
	}
	b, ok := c.reg.Primary(contract)
	if !ok {
		return nil, kerrors.NewMissingDependency("<container>", contract, contract)
	}
	return c.resolveDescriptor(ctx, b.Descriptor.QualifiedName)
}

// ResolveMulti returns every binding's instance for a multi-binding
// contract (e.g. Initializer, EventHandler, Hook), in the registry's
// priority order.
func (c *Container) ResolveMulti(ctx context.Context, contract string) ([]any, error) {
	if !c.reg.Frozen() {
		panic("container: ResolveMulti called before registry.Freeze")
	}
	bindings := c.reg.Bindings(contract)
	out := make([]any, 0, len(bindings))
	for _, b := range bindings {
		inst, err := c.resolveDescriptor(ctx, b.Descriptor.QualifiedName)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

func (c *Container) resolveDescriptor(ctx context.Context, qualifiedName string) (any, error) {
	lock := c.lockFor(qualifiedName)
	lock.Lock()
	defer lock.Unlock()

	c.instMu.Lock()
	if inst, ok := c.instances[qualifiedName]; ok {
		c.instMu.Unlock()
		return inst, nil
	}
	if c.building[qualifiedName] {
		c.instMu.Unlock()
		return nil, kerrors.NewInstantiationFailure(qualifiedName,
			fmt.Errorf("re-entrant resolution detected; this should have been caught as a CircularDependencyError during validation"))
	}
	c.building[qualifiedName] = true
	c.instMu.Unlock()

	defer func() {
		c.instMu.Lock()
		delete(c.building, qualifiedName)
		c.instMu.Unlock()
	}()

	c.ctorMu.RLock()
	fn, ok := c.ctors[qualifiedName]
	c.ctorMu.RUnlock()
	if !ok {
		return nil, kerrors.NewInstantiationFailure(qualifiedName, fmt.Errorf("no constructor registered"))
	}

	inst, err := fn(ctx, c)
	if err != nil {
		return nil, kerrors.NewInstantiationFailure(qualifiedName, err)
	}

	c.instMu.Lock()
	c.instances[qualifiedName] = inst
	c.instMu.Unlock()
	return inst, nil
}

func (c *Container) lockFor(qualifiedName string) *sync.Mutex {
	c.instMu.Lock()
	defer c.instMu.Unlock()
	l, ok := c.locks[qualifiedName]
	if !ok {
		l = &sync.Mutex{}
		c.locks[qualifiedName] = l
	}
	return l
}

// Instances returns a snapshot of every instance built so far, keyed by
// qualified name. Used by the bootstrap orchestrator's teardown path to
// find shutdown-capable components without re-triggering construction.
func (c *Container) Instances() map[string]any {
	c.instMu.Lock()
	defer c.instMu.Unlock()
	out := make(map[string]any, len(c.instances))
	for k, v := range c.instances {
		out[k] = v
	}
	return out
}

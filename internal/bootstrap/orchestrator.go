// Package bootstrap implements BootstrapOrchestrator: a
// linear P1-P5 state machine that loads modules, runs feature
// readiness hooks, discovers and validates components, materializes
// persistence schema, and registers adapters/initializers, with
// best-effort teardown on fatal failure. Phase progress is logged
// through internal/logging as structured per-phase events.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"katalyst/internal/container"
	"katalyst/internal/discovery"
	kerrors "katalyst/internal/errors"
	"katalyst/internal/logging"
	"katalyst/internal/metrics"
	"katalyst/internal/registry"
	"katalyst/internal/scheduler"
	"katalyst/internal/txn"
)

// Phase names one of the five bootstrap phases.
type Phase string

const (
	PhaseModuleLoad          Phase = "P1_MODULE_LOAD"
	PhaseHookReadiness       Phase = "P2_HOOK_READINESS"
	PhaseDiscoveryValidation Phase = "P3_DISCOVERY_VALIDATION"
	PhaseSchemaBootstrap     Phase = "P4_SCHEMA_BOOTSTRAP"
	PhaseAdapterInit         Phase = "P5_ADAPTER_INITIALIZER"
)

// Capability contract names the orchestrator resolves multi-bindings
// for during P4/P5.
const (
	CapabilityInitializer = "Initializer"
	CapabilityAdapter     = "Adapter"
	CapabilityTable       = "Table"
)

// BindingSpec is one (descriptor, binding, constructor) triple a Module
// contributes during P1.
type BindingSpec struct {
	Descriptor  registry.ComponentDescriptor
	Binding     registry.Binding
	Constructor container.ConstructorFunc
}

// Module is a feature module the orchestrator loads in P1 and notifies
// of readiness in P2.
type Module interface {
	Name() string
	Bindings() []BindingSpec
	OnReady(ctx context.Context) error
}

// ScanSpec configures one P3 discovery walk: find every TypeHandle
// assignable to Contract under Roots (filtered by Predicate) and turn
// each into a registry binding via Factory.
type ScanSpec struct {
	Contract  string
	Roots     []string
	Predicate discovery.Predicate
	Factory   func(discovery.TypeHandle) (registry.ComponentDescriptor, container.ConstructorFunc)
}

// SchemaBootstrapper is the external persistence schema materializer
// consumed in P4; out of scope for the core itself.
type SchemaBootstrapper interface {
	Bootstrap(ctx context.Context, tables []registry.ComponentDescriptor) error
}

// Initializer is the multi-binding capability run, in declared order,
// at the end of P5.
type Initializer interface {
	Init(ctx context.Context) error
}

// Stopper is implemented by any container-built instance that needs
// best-effort teardown on a fatal bootstrap failure or on Stop.
type Stopper interface {
	Stop(ctx context.Context) error
}

// ProgressFunc observes phase transitions for logging/telemetry.
type ProgressFunc func(phase Phase, status string)

// Orchestrator drives the five-phase startup sequence over a Registry
// and Container it owns for the lifetime of the process.
type Orchestrator struct {
	Registry  *registry.Registry
	Container *container.Container
	resolver  *container.Resolver

	Modules []Module
	Scans   []ScanSpec

	SchemaBootstrapper SchemaBootstrapper
	Scheduler          *scheduler.Scheduler

	Verbose  bool
	Logger   *slog.Logger
	Metrics  *metrics.Registry
	Progress ProgressFunc

	// Adapters accumulates txn.Adapter instances resolved from the
	// registry's Adapter capability during P5, for the caller to build a
	// txn.Manager with.
	Adapters []txn.Adapter
}

// New builds an Orchestrator over a fresh, unfrozen registry/container
// pair.
func New(overridePermitted bool) *Orchestrator {
	reg := registry.New(overridePermitted)
	cont := container.New(reg)
	return &Orchestrator{
		Registry:  reg,
		Container: cont,
		resolver:  container.NewResolver(reg),
	}
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) report(phase Phase, status string) {
	o.logger().Info("bootstrap phase", "phase", string(phase), "status", status)
	if o.Progress != nil {
		o.Progress(phase, status)
	}
}

// Init drives P1 through P5 serially; no phase's work begins before the
// prior phase completes. A fatal failure runs best-
// effort teardown before returning.
func (o *Orchestrator) Init(ctx context.Context) error {
	phases := []func(context.Context) error{
		o.phaseModuleLoad,
		o.phaseHookReadiness,
		o.phaseDiscoveryValidation,
		o.phaseSchemaBootstrap,
		o.phaseAdapterInit,
	}
	names := []Phase{PhaseModuleLoad, PhaseHookReadiness, PhaseDiscoveryValidation, PhaseSchemaBootstrap, PhaseAdapterInit}

	for i, fn := range phases {
		o.report(names[i], "starting")
		if err := fn(ctx); err != nil {
			o.report(names[i], "failed")
			o.teardown(ctx)
			return err
		}
		o.report(names[i], "completed")
	}
	return nil
}

// phaseModuleLoad is P1: load core + declared feature modules, register
// their bindings.
func (o *Orchestrator) phaseModuleLoad(ctx context.Context) error {
	for _, m := range o.Modules {
		for _, bs := range m.Bindings() {
			if err := o.Registry.Register(bs.Descriptor); err != nil {
				return kerrors.NewLifecyclePhaseError(string(PhaseModuleLoad),
					fmt.Sprintf("module %q: register %q", m.Name(), bs.Descriptor.QualifiedName), err)
			}
			binding := bs.Binding
			binding.Descriptor = bs.Descriptor
			if err := o.Registry.Bind(binding); err != nil {
				return kerrors.NewLifecyclePhaseError(string(PhaseModuleLoad),
					fmt.Sprintf("module %q: bind %q", m.Name(), bs.Descriptor.QualifiedName), err)
			}
			if bs.Constructor != nil {
				o.Container.RegisterConstructor(bs.Descriptor.QualifiedName, bs.Constructor)
			}
		}
	}
	return nil
}

// phaseHookReadiness is P2: call each feature's onReady hook in
// registration order.
func (o *Orchestrator) phaseHookReadiness(ctx context.Context) error {
	for _, m := range o.Modules {
		if err := m.OnReady(ctx); err != nil {
			return kerrors.NewLifecyclePhaseError(string(PhaseHookReadiness), fmt.Sprintf("module %q onReady", m.Name()), err)
		}
	}
	return nil
}

// phaseDiscoveryValidation is P3: walk scan packages, produce
// descriptors, register bindings, call validateAll(). Abort on
// FatalValidation.
func (o *Orchestrator) phaseDiscoveryValidation(ctx context.Context) error {
	for _, scan := range o.Scans {
		handles := discovery.Discover(scan.Contract, scan.Roots, scan.Predicate)
		for _, h := range handles {
			desc, ctor := scan.Factory(h)
			if _, exists := o.Registry.Descriptor(desc.QualifiedName); exists {
				continue
			}
			if err := o.Registry.Register(desc); err != nil {
				return kerrors.NewLifecyclePhaseError(string(PhaseDiscoveryValidation), "register discovered "+desc.QualifiedName, err)
			}
			for _, cap := range desc.Capabilities {
				b := registry.Binding{
					Contract: cap, Descriptor: desc, Scope: registry.ScopeSingleton,
					Primary: true, MultiBinding: cap != scan.Contract || isMultiBindingCapability(cap),
				}
				if err := o.Registry.Bind(b); err != nil {
					return kerrors.NewLifecyclePhaseError(string(PhaseDiscoveryValidation), "bind discovered "+desc.QualifiedName, err)
				}
			}
			if ctor != nil {
				o.Container.RegisterConstructor(desc.QualifiedName, ctor)
			}
		}
	}

	o.Registry.Freeze()

	if o.Metrics != nil {
		o.Metrics.Container().SetDiscovered(len(o.Registry.DescriptorNames()))
	}

	if fv := o.resolver.ValidateAll(o.Verbose); fv != nil {
		if o.Metrics != nil {
			for kind, count := range fv.TotalsByKind() {
				for i := 0; i < count; i++ {
					o.Metrics.Container().RecordValidationError(kind)
				}
			}
		}
		o.logger().Error("bootstrap validation failed", "report", fv.Report(topNForVerbose(o.Verbose)))
		return fv
	}
	return nil
}

func topNForVerbose(verbose bool) int {
	if verbose {
		return 0
	}
	return 10
}

func isMultiBindingCapability(cap string) bool {
	switch cap {
	case CapabilityInitializer, CapabilityAdapter, "EventHandler", "Hook", "Feature", CapabilityTable:
		return true
	default:
		return false
	}
}

// phaseSchemaBootstrap is P4: if any Table descriptors exist, hand them
// to the external persistence interface for schema materialization;
// otherwise skip.
func (o *Orchestrator) phaseSchemaBootstrap(ctx context.Context) error {
	tables := o.Registry.ByCapability(CapabilityTable)
	if len(tables) == 0 {
		return nil
	}
	if o.SchemaBootstrapper == nil {
		return nil
	}
	if err := o.SchemaBootstrapper.Bootstrap(ctx, tables); err != nil {
		return kerrors.NewLifecyclePhaseError(string(PhaseSchemaBootstrap), "schema materialization", err)
	}
	return nil
}

// phaseAdapterInit is P5: register transaction adapters present in the
// registry and run all Initializer components in declared order. A
// fatal initializer error aborts startup.
func (o *Orchestrator) phaseAdapterInit(ctx context.Context) error {
	adapterInstances, err := o.Container.ResolveMulti(ctx, CapabilityAdapter)
	if err != nil {
		return kerrors.NewLifecyclePhaseError(string(PhaseAdapterInit), "resolve adapters", err)
	}
	for _, inst := range adapterInstances {
		if a, ok := inst.(txn.Adapter); ok {
			o.Adapters = append(o.Adapters, a)
		}
	}

	initInstances, err := o.Container.ResolveMulti(ctx, CapabilityInitializer)
	if err != nil {
		return kerrors.NewLifecyclePhaseError(string(PhaseAdapterInit), "resolve initializers", err)
	}
	for _, inst := range initInstances {
		init, ok := inst.(Initializer)
		if !ok {
			continue
		}
		if err := init.Init(ctx); err != nil {
			return kerrors.NewLifecyclePhaseError(string(PhaseAdapterInit), "run initializer", err)
		}
	}
	return nil
}

// Stop releases scheduler and any Stopper-implementing container
// instances in unspecified order; errors are logged, not returned, so a
// shutdown sequence always runs to completion.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.teardown(ctx)
}

func (o *Orchestrator) teardown(ctx context.Context) {
	if o.Scheduler != nil {
		o.Scheduler.Stop()
	}
	for name, inst := range o.Container.Instances() {
		if s, ok := inst.(Stopper); ok {
			if err := s.Stop(ctx); err != nil {
				logging.FromContext(ctx, o.logger()).Warn("teardown: component stop failed", "component", name, "error", err)
			}
		}
	}
}

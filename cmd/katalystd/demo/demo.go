// Package demo is a self-contained feature module that exercises the
// runtime core end to end: a repository/service pair wired through
// container DI, an Initializer that schedules a recurring job, and a
// transaction that publishes an event through the TxAwareBus. It exists
// to give cmd/katalystd something real to bootstrap.
package demo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"katalyst/internal/bootstrap"
	"katalyst/internal/container"
	"katalyst/internal/events"
	"katalyst/internal/registry"
	"katalyst/internal/scheduler"
	"katalyst/internal/txn"
)

// Repository is the contract the demo service depends on.
type Repository interface {
	Save(ctx context.Context, note string) error
	Count() int
}

// InMemoryRepository is the only Repository implementation registered
// by this module; a real deployment would bind a Postgres-backed one
// from internal/adapter/postgres instead.
type InMemoryRepository struct {
	mu    sync.Mutex
	notes []string
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

func (r *InMemoryRepository) Save(ctx context.Context, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
	return nil
}

func (r *InMemoryRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notes)
}

// Service is resolved through the container via the "DemoService"
// contract and receives its Repository through the "DemoRepository"
// contract, demonstrating constructor-parameter dependency wiring.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) RecordHeartbeat(ctx context.Context, tc *txn.Context, bus *events.TxAwareBus, seq int) error {
	note := fmt.Sprintf("heartbeat-%d", seq)
	if err := s.repo.Save(ctx, note); err != nil {
		return err
	}
	bus.Publish(ctx, events.Event{
		ID:         note,
		Type:       "demo.heartbeat",
		OccurredAt: time.Now(),
		Source:     "demo.Service",
		Payload:    note,
	})
	return nil
}

// Listener is the module's event handler: it observes committed
// heartbeats on the bus. Subscription happens in its constructor, so
// resolving the component during bootstrap is what wires it up.
type Listener struct {
	logger *slog.Logger
}

func NewListener(bus *events.TxAwareBus, logger *slog.Logger) *Listener {
	l := &Listener{logger: logger}
	bus.Subscribe("demo.heartbeat", "demo.Listener", l.onHeartbeat)
	return l
}

func (l *Listener) onHeartbeat(ctx context.Context, e events.Event) error {
	l.logger.Info("heartbeat committed", "event_id", e.ID, "source", e.Source)
	return nil
}

// Startup is the module's Initializer: it schedules a fixed-delay job
// that runs the service inside a managed transaction on every tick.
type Startup struct {
	svc    *Service
	txm    *txn.Manager
	bus    *events.TxAwareBus
	sched  *scheduler.Scheduler
	logger *slog.Logger
	seq    int
	mu     sync.Mutex
}

func NewStartup(svc *Service, txm *txn.Manager, bus *events.TxAwareBus, sched *scheduler.Scheduler, logger *slog.Logger) *Startup {
	return &Startup{svc: svc, txm: txm, bus: bus, sched: sched, logger: logger}
}

func (s *Startup) Init(ctx context.Context) error {
	_, err := s.sched.ScheduleFixedDelay(
		scheduler.ScheduleConfig{
			Name: "demo.heartbeat",
			OnError: func(name string, cause error, consecutiveFailures int) bool {
				s.logger.Warn("demo task failed", "task", name, "error", cause, "consecutive_failures", consecutiveFailures)
				return true
			},
		},
		time.Second,
		5*time.Second,
		s.tick,
	)
	if err != nil {
		return err
	}
	s.logger.Info("demo module initialized")
	return nil
}

func (s *Startup) tick(ctx context.Context) error {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	return s.txm.Execute(ctx, txn.DefaultConfig(), func(ctx context.Context, tc *txn.Context) error {
		return s.svc.RecordHeartbeat(ctx, tc, s.bus, seq)
	})
}

// Module wires Repository, Service and Startup into the orchestrator's
// registry during bootstrap phase P1. It closes over the transaction
// manager, bus and scheduler built by the host process rather than
// resolving them from the container, since those are core runtime
// singletons the host owns for the life of the process.
type Module struct {
	TxManager *txn.Manager
	Bus       *events.TxAwareBus
	Scheduler *scheduler.Scheduler
	Logger    *slog.Logger
	// DBEnabled adds the module's Table descriptor so bootstrap phase P4
	// hands it to the host's schema bootstrapper; without a database the
	// in-memory repository needs no schema.
	DBEnabled bool
}

func (m *Module) Name() string { return "demo" }

func (m *Module) Bindings() []bootstrap.BindingSpec {
	repoDesc := registry.ComponentDescriptor{
		QualifiedName: "demo.InMemoryRepository",
		Package:       "cmd/katalystd/demo",
		Capabilities:  []string{"DemoRepository"},
	}
	repoCtor := func(ctx context.Context, c *container.Container) (any, error) {
		return NewInMemoryRepository(), nil
	}

	svcDesc := registry.ComponentDescriptor{
		QualifiedName: "demo.Service",
		Package:       "cmd/katalystd/demo",
		Capabilities:  []string{"DemoService"},
		Parameters: []registry.Parameter{
			{Name: "repo", RequiredContract: "DemoRepository"},
		},
	}
	svcCtor := func(ctx context.Context, c *container.Container) (any, error) {
		repo, err := c.Resolve(ctx, "DemoRepository")
		if err != nil {
			return nil, err
		}
		return NewService(repo.(Repository), m.Logger), nil
	}

	startupDesc := registry.ComponentDescriptor{
		QualifiedName: "demo.Startup",
		Package:       "cmd/katalystd/demo",
		Capabilities:  []string{bootstrap.CapabilityInitializer},
		Parameters: []registry.Parameter{
			{Name: "svc", RequiredContract: "DemoService"},
		},
	}
	startupCtor := func(ctx context.Context, c *container.Container) (any, error) {
		svc, err := c.Resolve(ctx, "DemoService")
		if err != nil {
			return nil, err
		}
		// Building the handlers here wires their bus subscriptions before
		// the first scheduled tick can publish.
		if _, err := c.ResolveMulti(ctx, "EventHandler"); err != nil {
			return nil, err
		}
		return NewStartup(svc.(*Service), m.TxManager, m.Bus, m.Scheduler, m.Logger), nil
	}

	listenerDesc := registry.ComponentDescriptor{
		QualifiedName: "demo.Listener",
		Package:       "cmd/katalystd/demo",
		Capabilities:  []string{"EventHandler"},
	}
	listenerCtor := func(ctx context.Context, c *container.Container) (any, error) {
		return NewListener(m.Bus, m.Logger), nil
	}

	specs := []bootstrap.BindingSpec{
		{
			Descriptor:  repoDesc,
			Binding:     registry.Binding{Contract: "DemoRepository", Scope: registry.ScopeSingleton, Primary: true},
			Constructor: repoCtor,
		},
		{
			Descriptor:  svcDesc,
			Binding:     registry.Binding{Contract: "DemoService", Scope: registry.ScopeSingleton, Primary: true},
			Constructor: svcCtor,
		},
		{
			Descriptor:  listenerDesc,
			Binding:     registry.Binding{Contract: "EventHandler", Scope: registry.ScopeSingleton, Primary: true, MultiBinding: true},
			Constructor: listenerCtor,
		},
		{
			Descriptor:  startupDesc,
			Binding:     registry.Binding{Contract: bootstrap.CapabilityInitializer, Scope: registry.ScopeSingleton, Primary: true, MultiBinding: true},
			Constructor: startupCtor,
		},
	}

	if m.DBEnabled {
		tableDesc := registry.ComponentDescriptor{
			QualifiedName: "demo.NotesTable",
			Package:       "cmd/katalystd/demo",
			Capabilities:  []string{bootstrap.CapabilityTable},
		}
		specs = append(specs, bootstrap.BindingSpec{
			Descriptor: tableDesc,
			Binding:    registry.Binding{Contract: bootstrap.CapabilityTable, Scope: registry.ScopeSingleton, Primary: true, MultiBinding: true},
		})
	}
	return specs
}

func (m *Module) OnReady(ctx context.Context) error {
	m.Logger.Info("demo module ready")
	return nil
}

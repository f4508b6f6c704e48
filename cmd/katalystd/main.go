// Command katalystd hosts the runtime core: it loads configuration,
// builds logging/metrics, bootstraps the demo feature module through
// BootstrapOrchestrator, and runs until an OS signal requests shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"katalyst/cmd/katalystd/demo"
	"katalyst/internal/adapter/postgres"
	"katalyst/internal/bootstrap"
	"katalyst/internal/config"
	"katalyst/internal/events"
	"katalyst/internal/logging"
	"katalyst/internal/metrics"
	"katalyst/internal/resilience"
	"katalyst/internal/scheduler"
	"katalyst/internal/txn"
)

func main() {
	rootCmd := &cobra.Command{
		Use:               "katalystd",
		Short:             "Run the katalyst runtime core with its demo feature module",
		Args:              cobra.NoArgs,
		RunE:              run,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}
	rootCmd.Flags().String("config", "", "path to a YAML configuration file (optional)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	provider, err := config.NewViperProvider(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	rc, err := config.LoadRuntimeConfig(provider)
	if err != nil {
		return fmt.Errorf("resolve runtime configuration: %w", err)
	}

	logger := logging.New(logging.Config{Level: "info", JSON: true})
	logger.Info("katalystd starting", "profile", rc.Profile)

	metricsRegistry := metrics.NewRegistry("katalyst")
	hooks := txn.NewHookRegistry()
	bus := events.NewBus(events.LoggingErrorSink{})
	txBus := events.NewTxAwareBus(bus, hooks)
	sched := scheduler.New(rc.SchedulerGracePeriod, metricsRegistry.Scheduler(), logger)

	orch := bootstrap.New(false)
	orch.Logger = logger
	orch.Metrics = metricsRegistry
	orch.Verbose = rc.DIVerbose
	orch.Scheduler = sched

	// The demo module's Initializer needs a live transaction manager at
	// P5 resolution time, so the manager (and any driver adapters) are
	// built here, ahead of Init. With katalyst.db.enabled set, a Postgres
	// pool is opened and its TxAdapter participates in every transaction
	// alongside the event-publishing hook; otherwise the manager runs
	// with no driver adapter and only the in-memory demo repository.
	var pool *postgres.Pool
	var adapters []txn.Adapter
	if rc.DBEnabled {
		pgCfg := postgres.Load(provider)
		breaker := postgres.NewCircuitBreaker(3, 10*time.Second)
		pool, err = postgres.OpenWithRetry(cmd.Context(), pgCfg, resilience.DefaultPolicy(), breaker, logger, metricsRegistry.Adapter())
		if err != nil {
			return fmt.Errorf("open postgres pool: %w", err)
		}
		adapters = append(adapters, postgres.NewTxAdapter(pool))
		orch.SchemaBootstrapper = postgres.NewMigrator(pgCfg, os.Getenv("DB_MIGRATIONS_DIR"), logger)

		// Database liveness runs through the core scheduler so the probe
		// gets the same overlap guard and failure accounting as every
		// other background task.
		_, err = sched.ScheduleFixedDelay(scheduler.ScheduleConfig{
			Name: "katalyst.db.health",
			Tags: []string{"adapter"},
			OnError: func(name string, cause error, consecutiveFailures int) bool {
				logger.Warn("database health probe failed",
					"consecutive_failures", consecutiveFailures, "error", cause)
				return true
			},
		}, 30*time.Second, 30*time.Second, pool.HealthTask())
		if err != nil {
			return fmt.Errorf("schedule database health probe: %w", err)
		}
	}

	txManager := txn.NewManager(hooks, metricsRegistry.Transaction(), adapters...)
	orch.Modules = []bootstrap.Module{
		&demo.Module{TxManager: txManager, Bus: txBus, Scheduler: sched, Logger: logger, DBEnabled: rc.DBEnabled},
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start()
	if err := orch.Init(ctx); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	logger.Info("katalystd ready")

	<-ctx.Done()
	logger.Info("katalystd shutting down")
	orch.Stop(context.Background())
	if pool != nil {
		if err := pool.Stop(context.Background()); err != nil {
			logger.Error("postgres pool shutdown failed", "error", err)
		}
	}
	return nil
}

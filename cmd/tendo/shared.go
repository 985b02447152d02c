package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tendolabs/tendo/internal/approval"
	"github.com/tendolabs/tendo/internal/audit"
	"github.com/tendolabs/tendo/internal/budget"
	"github.com/tendolabs/tendo/internal/config"
	"github.com/tendolabs/tendo/internal/execution"
	"github.com/tendolabs/tendo/internal/observability"
	"github.com/tendolabs/tendo/internal/orchestrator"
	"github.com/tendolabs/tendo/internal/skill"
	"github.com/tendolabs/tendo/internal/storage"
	pgstore "github.com/tendolabs/tendo/internal/storage/postgres"
	sqlitestore "github.com/tendolabs/tendo/internal/storage/sqlite"
)

// SharedComponents holds all initialized subsystems the server requires.
// Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store // Unified store (SQLite or PostgreSQL).

	Obs       *observability.Observability
	Registry  *skill.Registry
	Machine   *execution.StateMachine
	Ledger    *budget.Ledger
	Approvals *approval.Manager
	Auditor   *audit.Recorder
	Engine    *orchestrator.Engine

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs all common initialization for serve mode.
// Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	// Storage (unified: SQLite default, PostgreSQL optional).
	store, err := initStore(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	if err := store.Migrate(context.Background()); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("database", store.Ping)
	}

	// Skill registry.
	registry := skill.NewRegistry()
	if err := registerBuiltinSkills(registry); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("registering skills: %w", err)
	}
	sc.Registry = registry
	logger.Debug("skills registered", slog.Int("count", len(registry.List())))

	// Engine collaborators.
	sc.Machine = execution.NewStateMachine(store.Executions(), store.Transitions(), logger)
	sc.Ledger = budget.NewLedger(store.Budgets(), logger)
	sc.Approvals = approval.NewManager(store.Approvals(), cfg.Approval.TTL(), logger)
	sc.Auditor = audit.NewRecorder(store.Audit(), logger)

	var engineMetrics *orchestrator.Metrics
	var tracer trace.Tracer
	if obs != nil {
		if obs.Metrics != nil {
			engineMetrics = orchestrator.NewMetrics(obs.Metrics.Registry)
		}
		if ts := obs.TracerOrNil(); ts != nil {
			tracer = ts.Tracer()
		}
	}

	sc.Engine = orchestrator.NewEngine(orchestrator.Deps{
		Executions: store.Executions(),
		Machine:    sc.Machine,
		Ledger:     sc.Ledger,
		Registry:   registry,
		Approvals:  sc.Approvals,
		Audit:      sc.Auditor,
		Metrics:    engineMetrics,
		Tracer:     tracer,
		Logger:     logger,
	})

	return sc, nil
}

// initStore creates the appropriate storage backend from config.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.Storage.StorageDriver(); driver {
	case storage.DriverPostgres:
		return initPostgresStore(cfg, logger)
	case storage.DriverSQLite:
		return sqlitestore.Open(sqlitestore.Config{
			Path: cfg.Storage.DatabasePath(),
		}, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	var pgCfg pgstore.Config
	if cfg.Storage != nil && cfg.Storage.Postgres != nil {
		pgCfg.DSN = cfg.Storage.Postgres.DSN
		pgCfg.MaxOpenConns = cfg.Storage.Postgres.MaxOpenConns
		pgCfg.MaxIdleConns = cfg.Storage.Postgres.MaxIdleConns
		pgCfg.ConnMaxLifetime = time.Duration(cfg.Storage.Postgres.ConnMaxLifetimeS) * time.Second
	}
	if pgCfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or TENDO_DB_DSN)")
	}

	db, err := pgstore.Open(pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return pgstore.NewStore(db), nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/tendolabs/tendo/internal/approval"
	"github.com/tendolabs/tendo/internal/config"
	"github.com/tendolabs/tendo/internal/gateway/httpapi"
	"github.com/tendolabs/tendo/internal/ratelimit"
)

var (
	serveConfigPath string
	serveAddr       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the execution engine HTTP API",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `tendo --config path` and `tendo serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveAddr, "addr", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts the engine and serves the HTTP API until interrupted.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	logger.Info("starting tendo",
		slog.String("addr", cfg.Server.ListenAddr()),
		slog.String("storage", cfg.Storage.StorageDriver()),
	)

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Approval expiry sweeper: an expired approval cancels its gated execution.
	sweeper := approval.NewSweeper(sc.Approvals, func(ctx context.Context, r approval.Request) {
		if err := sc.Engine.Cancel(ctx, r.ExecutionID, "system:approval-sweeper", "approval expired"); err != nil {
			logger.WarnContext(ctx, "canceling expired execution",
				slog.String("execution_id", r.ExecutionID.String()),
				slog.String("error", err.Error()),
			)
		}
	}, logger)
	stopSweeper, err := sweeper.Start(ctx, cfg.Approval.Schedule())
	if err != nil {
		return err
	}
	defer stopSweeper()

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.Server.RateLimitPerMinute,
		BurstSize:         cfg.Server.RateLimitBurst,
	})

	gwCfg := httpapi.Config{
		ListenAddr: cfg.Server.ListenAddr(),
		EnableDocs: cfg.Server.EnableDocs,
		APIKeys:    cfg.Server.APIKeys,
	}
	if sc.Obs != nil {
		gwCfg.Metrics = sc.Obs.Metrics
		gwCfg.HealthChecker = sc.Obs.Health
		if sc.Obs.Metrics != nil {
			gwCfg.MetricsRegistry = sc.Obs.Metrics.Registry
		}
		if ts := sc.Obs.TracerOrNil(); ts != nil {
			gwCfg.Tracer = ts.Tracer()
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			gwCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
		}
	}

	gw := httpapi.NewGateway(gwCfg, httpapi.Deps{
		Engine:      sc.Engine,
		Executions:  sc.Store.Executions(),
		Transitions: sc.Store.Transitions(),
		Approvals:   sc.Approvals,
		Ledger:      sc.Ledger,
		Audit:       sc.Auditor,
	}, limiter, logger)

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("http api exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return gw.Stop(shutdownCtx)
}

// loadServeConfig resolves the config path from flag or env. When no file
// exists at the default location the engine runs with defaults: SQLite under
// the home directory, env overrides applied.
func loadServeConfig() (*config.Config, error) {
	path := goutils.Env("TENDO_CONFIG", serveConfigPath)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && path == config.DefaultConfigPath() {
			return config.Default(), nil
		}
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config.Load(path)
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tideflow-io/tideflow/internal/engine"
	"github.com/tideflow-io/tideflow/internal/events"
	"github.com/tideflow-io/tideflow/internal/executors"
	"github.com/tideflow-io/tideflow/internal/expressions"
	"github.com/tideflow-io/tideflow/internal/logging"
	"github.com/tideflow-io/tideflow/internal/registry"
	"github.com/tideflow-io/tideflow/internal/scheduler"
	"github.com/tideflow-io/tideflow/internal/secrets"
	"github.com/tideflow-io/tideflow/internal/store"
	"github.com/tideflow-io/tideflow/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	// Stdout carries the MCP transport, so logs go to stderr.
	logger := slog.New(logging.NewCorrelationHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}),
	))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, err := openSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	defs, err := openRegistry(cfg, logger)
	if err != nil {
		return err
	}

	var agent executors.AgentInvoker
	if cfg.AgentEndpoint != "" {
		agent = newHTTPAgentInvoker(cfg.AgentEndpoint)
	}

	cel, err := expressions.NewCELEngine()
	if err != nil {
		return fmt.Errorf("init cel engine: %w", err)
	}

	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		return fmt.Errorf("create workspace root: %w", err)
	}

	execs, err := executors.DefaultRegistry(executors.Deps{
		Agent:         agent,
		HTTPClient:    &http.Client{},
		WorkspaceRoot: cfg.WorkspaceRoot,
		CEL:           cel,
		Expr:          expressions.NewExprEngine(),
	})
	if err != nil {
		return fmt.Errorf("init executors: %w", err)
	}

	bus := events.NewMemoryBus()
	eng, err := engine.New(engine.Options{
		Executors:          execs,
		Definitions:        defs,
		Bus:                bus,
		Sink:               sink,
		Logger:             logger,
		MaxDepth:           cfg.MaxDepth,
		DefaultNodeTimeout: cfg.nodeTimeout(),
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	sched := scheduler.New(eng, logger)
	if n := addScheduledJobs(sched, defs, logger); n > 0 {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	refs, err := loadSecrets(ctx, logger)
	if err != nil {
		return err
	}

	srv := mcp.NewFlowServer(mcp.FlowServerDeps{
		Engine:   eng,
		Registry: defs,
		Refs:     refs,
		Logger:   logger,
	})

	notifier := mcp.NewNotifier(bus, srv.MCPServer(), srv.Sessions(), logger)
	go func() {
		if err := notifier.Run(ctx); err != nil {
			logger.Warn("notifier stopped", slog.String("error", err.Error()))
		}
	}()

	logger.Info("tideflow started",
		slog.String("db_path", cfg.DBPath),
		slog.String("definitions_dir", cfg.DefinitionsDir),
	)

	serveErr := srv.Serve(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Warn("engine shutdown incomplete", slog.String("error", err.Error()))
	}

	if serveErr != nil && ctx.Err() == nil {
		return serveErr
	}
	return nil
}

// openSink opens the libSQL audit sink, creating the parent directory.
func openSink(ctx context.Context, cfg Config, logger *slog.Logger) (store.Sink, error) {
	if cfg.DBPath == "" {
		logger.Warn("no db_path configured, audit log disabled")
		return store.NewNopSink(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	sink, err := store.NewLibSQLSink(ctx, "file:"+cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	return sink, nil
}

// openRegistry loads definitions from the configured directory, or starts
// with an empty registry populated via flow.define.
func openRegistry(cfg Config, logger *slog.Logger) (*registry.MemorySource, error) {
	if cfg.DefinitionsDir == "" {
		return registry.NewMemorySource(), nil
	}
	src, err := registry.LoadDirectory(cfg.DefinitionsDir)
	if err != nil {
		return nil, fmt.Errorf("load definitions: %w", err)
	}
	logger.Info("definitions loaded",
		slog.String("dir", cfg.DefinitionsDir),
		slog.Int("count", len(src.List())),
	)
	return src, nil
}

// loadSecrets opens the vault when a passphrase is set and decrypts all
// secrets into a refs map. The passphrase lives in the environment only.
func loadSecrets(ctx context.Context, logger *slog.Logger) (map[string]any, error) {
	passphrase := os.Getenv("TIDEFLOW_VAULT_KEY")
	if passphrase == "" {
		return nil, nil
	}
	vault, err := secrets.OpenFileVault(filepath.Join(tideflowDir(), "secrets.vault"), passphrase)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	refs, err := vault.ResolveAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("decrypt secrets: %w", err)
	}
	logger.Info("vault opened", slog.Int("secrets", len(refs)))
	return refs, nil
}

// addScheduledJobs registers a cron job for each definition carrying a
// "schedule" metadata entry. Returns the number of jobs registered.
func addScheduledJobs(sched *scheduler.Scheduler, defs *registry.MemorySource, logger *slog.Logger) int {
	count := 0
	for _, def := range defs.List() {
		expr, ok := def.Metadata["schedule"].(string)
		if !ok || expr == "" {
			continue
		}
		job := scheduler.Job{
			ID:           "def:" + def.ID,
			CronExpr:     expr,
			DefinitionID: def.ID,
			Version:      def.Version,
			Enabled:      true,
		}
		if err := sched.Add(job); err != nil {
			logger.Warn("invalid schedule, skipping",
				slog.String("definition_id", def.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		count++
	}
	return count
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

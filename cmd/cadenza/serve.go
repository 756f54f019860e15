package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cadenzahq/cadenza/autopause"
	"github.com/cadenzahq/cadenza/budget"
	"github.com/cadenzahq/cadenza/bus"
	"github.com/cadenzahq/cadenza/config"
	"github.com/cadenzahq/cadenza/db"
	"github.com/cadenzahq/cadenza/docstore"
	"github.com/cadenzahq/cadenza/engine"
	"github.com/cadenzahq/cadenza/errors"
	"github.com/cadenzahq/cadenza/history"
	"github.com/cadenzahq/cadenza/logger"
	"github.com/cadenzahq/cadenza/registry"
	"github.com/cadenzahq/cadenza/server"
	"github.com/cadenzahq/cadenza/services/webhook"
	"github.com/cadenzahq/cadenza/task"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Cadenza daemon (scheduler + API server)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	logger.SetTheme(cfg.Server.LogTheme)

	dbPath := cfg.GetDatabasePath()
	if override, _ := cmd.Flags().GetString("db"); override != "" {
		dbPath = override
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database, logger.Logger); err != nil {
		return err
	}

	cp, err := buildControlPlane(cmd.Context(), database, cfg)
	if err != nil {
		return err
	}

	// Restore persisted schedules, then reconcile the task table against
	// whatever happened while the daemon was down.
	if err := cp.engine.LoadState(); err != nil {
		return errors.Wrap(err, "failed to restore scheduler state")
	}
	if err := cp.executor.ReloadScheduledTasks(); err != nil {
		return errors.Wrap(err, "failed to reconcile task table")
	}
	if err := cp.engine.Start(); err != nil {
		return err
	}

	var pauser *autopause.Consumer
	if cfg.Budget.AutoPauseOnExhaust {
		pauser = autopause.New(cp.events, cp.engine, cp.executor, logger.Logger)
		pauser.Start()
	}

	startConfigWatcher(cfg)

	apiServer := server.New(cfg, cp.engine, cp.executor, cp.budget, cp.history, cp.events, logger.Logger)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- apiServer.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Logger.Infow("Shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			return errors.Wrap(err, "API server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Warnw("API server shutdown incomplete", "error", err)
	}
	if pauser != nil {
		pauser.Stop()
	}
	if err := cp.engine.Shutdown(); err != nil {
		logger.Logger.Warnw("Engine shutdown incomplete", "error", err)
	}
	logger.Sync()
	return nil
}

// controlPlane bundles the wired subsystems shared by serve and mcp.
type controlPlane struct {
	registry *registry.Registry
	events   *bus.Bus
	budget   *budget.Manager
	history  *history.Store
	engine   *engine.Engine
	executor *task.Executor
}

func buildControlPlane(ctx context.Context, database *sql.DB, cfg *config.Config) (*controlPlane, error) {
	reg := registry.New()
	reg.Register(webhook.ServiceID, webhook.New(
		cfg.Services.Webhook.URL,
		cfg.Services.Webhook.AllowPrivate,
		logger.ComponentLogger("webhook")))

	events := bus.New(logger.ComponentLogger("bus"))
	budgetMgr := budget.NewManager(database, logger.ComponentLogger("budget"))
	histStore := history.NewStore(database)
	docStore := docstore.New(database)

	eng := engine.NewWithContext(ctx, reg, docStore, budgetMgr, events, histStore,
		logger.ComponentLogger("engine"))
	exec := task.NewExecutorWithContext(ctx, task.NewStore(database), reg, eng, budgetMgr,
		events, cfg.Tasks.ServiceIDs, logger.ComponentLogger("task"))

	return &controlPlane{
		registry: reg,
		events:   events,
		budget:   budgetMgr,
		history:  histStore,
		engine:   eng,
		executor: exec,
	}, nil
}

// startConfigWatcher wires hot reload of the overlay config file. Watch
// failures are non-fatal: the daemon runs with the boot-time config.
func startConfigWatcher(cfg *config.Config) {
	overlayPath := config.OverlayConfigPath()
	if overlayPath == "" {
		return
	}
	if _, err := os.Stat(overlayPath); err != nil {
		return
	}

	watcher, err := config.NewWatcher(overlayPath)
	if err != nil {
		logger.Logger.Warnw("Config watcher unavailable", "error", err)
		return
	}
	watcher.OnReload(func(newCfg *config.Config) error {
		*cfg = *newCfg
		return nil
	})
	config.SetGlobalWatcher(watcher)
	watcher.Start()
}

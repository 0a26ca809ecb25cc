// Command supervisor is the composition root: it wires configuration,
// storage, the event bus, the Session Manager and Agent Runner (closing
// their circular dependency), the Workflow Engine, and the Control API,
// then serves until an interrupt triggers graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kdlbs/agentsupervisor/internal/agentrunner"
	"github.com/kdlbs/agentsupervisor/internal/common/config"
	"github.com/kdlbs/agentsupervisor/internal/common/logger"
	"github.com/kdlbs/agentsupervisor/internal/controlapi"
	"github.com/kdlbs/agentsupervisor/internal/events"
	"github.com/kdlbs/agentsupervisor/internal/events/natsbus"
	"github.com/kdlbs/agentsupervisor/internal/logbuffer"
	"github.com/kdlbs/agentsupervisor/internal/repository/sqlite"
	"github.com/kdlbs/agentsupervisor/internal/session"
	"github.com/kdlbs/agentsupervisor/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "supervisor:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	sessionRepo := sqlite.NewSessionRepository(db)
	workflowRepo := sqlite.NewWorkflowRepository(db)
	logWriter := sqlite.NewLogWriter(db)

	bus, closeBus, err := newEventBus(cfg, log)
	if err != nil {
		return fmt.Errorf("init event bus: %w", err)
	}
	defer closeBus()
	emitter := events.NewEmitter(bus)

	logBuffer := logbuffer.New(logWriter, log)

	manager := session.New(emitter, logBuffer, sessionRepo, log)
	manager.SetProjectDir(cfg.Agent.ProjectDir)

	runner := agentrunner.New(agentrunner.Config{
		BinaryPath: cfg.Agent.BinaryPath,
		ProjectDir: cfg.Agent.ProjectDir,
	}, log, manager)
	manager.SetRunner(runner)

	engine, err := workflow.New(workflowRepo, manager, logBuffer, emitter, log)
	if err != nil {
		return fmt.Errorf("init workflow engine: %w", err)
	}

	handlers := controlapi.NewHandlers(manager, engine, workflowRepo, workflowRepo, bus, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	controlapi.RegisterRoutes(router, handlers)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("control API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("control API server failed: %w", err)
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("control API shutdown did not complete cleanly")
	}

	manager.ShutdownAll(shutdownCtx)
	logBuffer.Flush(shutdownCtx)
	if err := logBuffer.Stop(); err != nil {
		log.WithError(err).Warn("log buffer shutdown did not complete cleanly")
	}

	return nil
}

// newEventBus selects the NATS-backed bus when cfg.NATS.URL is set,
// falling back to the in-memory bus for a single-process local run.
func newEventBus(cfg *config.Config, log *logger.Logger) (events.Bus, func(), error) {
	if cfg.NATS.URL == "" {
		bus := events.NewMemoryBus(log)
		return bus, bus.Close, nil
	}

	bus, err := natsbus.Connect(cfg.NATS.URL, cfg.NATS.ClientID, cfg.NATS.MaxReconnects)
	if err != nil {
		return nil, nil, err
	}
	bus = bus.WithLogger(log)
	return bus, bus.Close, nil
}

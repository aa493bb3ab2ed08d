package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/careerforge/orchestrator/internal/agent"
	"github.com/careerforge/orchestrator/internal/agent/providers"
	"github.com/careerforge/orchestrator/internal/auth"
	"github.com/careerforge/orchestrator/internal/config"
	"github.com/careerforge/orchestrator/internal/evaluator"
	"github.com/careerforge/orchestrator/internal/goals"
	"github.com/careerforge/orchestrator/internal/negotiator"
	"github.com/careerforge/orchestrator/internal/observability"
	"github.com/careerforge/orchestrator/internal/orchestrator"
	"github.com/careerforge/orchestrator/internal/push"
	"github.com/careerforge/orchestrator/internal/registry"
	"github.com/careerforge/orchestrator/internal/router"
	"github.com/careerforge/orchestrator/internal/storage"
	"github.com/careerforge/orchestrator/internal/tasks"
	"github.com/careerforge/orchestrator/internal/tools/career"
	"github.com/careerforge/orchestrator/internal/tools/reminders"
	"github.com/careerforge/orchestrator/pkg/models"
)

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	return cmd
}

// app bundles every wired component that needs a clean shutdown.
type app struct {
	store     storage.Store
	fabric    *push.Fabric
	scheduler *tasks.Scheduler
	server    *http.Server
	metrics   *http.Server
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(observability.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	metrics := observability.NewMetrics()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}

	agentRegistry, err := registry.Load(cfg.Agents.RegistryFile)
	if err != nil {
		store.Close()
		return fmt.Errorf("load agent registry: %w", err)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		store.Close()
		return fmt.Errorf("build llm provider: %w", err)
	}

	toolRegistry := buildToolRegistry(logger)

	runtime := agent.NewRuntime(provider, toolRegistry, agent.Options{
		MaxToolRounds: cfg.LLM.MaxToolRounds,
		ToolTimeout:   cfg.LLM.ToolTimeout,
		Logger:        func(msg string, args ...any) { logger.Warn(context.Background(), msg, args...) },
	})

	routerTable, err := router.LoadTable(cfg.Router.TableFile)
	if err != nil {
		store.Close()
		return fmt.Errorf("load router table: %w", err)
	}
	intentRouter := router.New(routerTable, agentRegistry.Names(), provider, cfg.LLM.DefaultModel)

	eval := evaluator.New(provider, cfg.LLM.DefaultModel, cfg.Evaluator.MaxLoopBacksPerTarget, logger)

	neg := negotiator.New(provider, cfg.LLM.DefaultModel, negotiator.Config{
		MaxRounds:                cfg.Negotiator.MaxRounds,
		ConfidenceSpreadTrigger:  cfg.Negotiator.ConfidenceSpreadTrigger,
		ConvergenceConfidenceMin: cfg.Negotiator.ConvergenceConfidenceMin,
	}, logger, metrics)

	fabric := push.New(cfg.Push, logger, metrics)

	orch := orchestrator.New(store, agentRegistry, provider, runtime, intentRouter, eval, neg,
		cfg.Orchestrator, cfg.Negotiator, cfg.LLM.DefaultModel, logger, metrics)

	planner := goals.NewPlanner(provider, cfg.LLM.DefaultModel, agentRegistry)
	executor := goals.NewExecutor(store, orch, planner, cfg.Goals.RetryBudget, logger)
	publisher := push.TaskPublisher{Fabric: fabric}
	autonomousHandler := goals.NewAutonomousHandler(executor, planner, func(userID string, e models.Event) {
		publisher.Publish(userID, e)
	})

	scheduler := buildScheduler(store, publisher, cfg, autonomousHandler)

	// Reminder tools wrap the Scheduler, which in turn needs the autonomous
	// Goal handler built from the Orchestrator/Runtime/ToolRegistry above —
	// so these two tools are registered into the already-shared ToolRegistry
	// only now, after the Scheduler exists, rather than at buildToolRegistry
	// time. Safe: nothing has started dispatching against the registry yet.
	mustRegister(toolRegistry, reminders.NewSetTool(scheduler))
	mustRegister(toolRegistry, reminders.NewCancelTool(scheduler))
	mustRegister(toolRegistry, reminders.NewListTool(store))

	scheduler.Start(ctx)

	jwtService := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)

	mux := http.NewServeMux()
	mux.Handle("/v1/stream", push.NewHandler(fabric, cfg.Push, jwtService.Validate))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	httpServer := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort), Handler: mux}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort), Handler: metricsMux}

	a := &app{store: store, fabric: fabric, scheduler: scheduler, server: httpServer, metrics: metricsServer}
	return a.runUntilSignal(ctx, logger)
}

func (a *app) runUntilSignal(ctx context.Context, logger *observability.Logger) error {
	errCh := make(chan error, 2)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := a.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error(ctx, "server error, shutting down", "error", err)
	case <-sigCh:
		logger.Info(ctx, "received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.fabric.Stop()
	_ = a.scheduler.Stop(shutdownCtx)
	_ = a.server.Shutdown(shutdownCtx)
	_ = a.metrics.Shutdown(shutdownCtx)
	return a.store.Close()
}

func buildStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	store, err := storage.NewSQLStore(storage.SQLConfig{
		Dialect:         storage.Dialect(cfg.Database.Dialect),
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	return providers.NewAnthropicProvider(providers.AnthropicConfig{
		APIKey:       cfg.LLM.APIKey,
		DefaultModel: cfg.LLM.DefaultModel,
		MaxRetries:   cfg.LLM.MaxRetries,
		RetryDelay:   cfg.LLM.RetryDelay,
	})
}

func buildToolRegistry(logger *observability.Logger) *agent.ToolRegistry {
	reg := agent.NewToolRegistry(func(msg string, args ...any) { logger.Warn(context.Background(), msg, args...) })

	fixtureBoard := career.NewFixtureBoard("fixture", nil)
	companyDirectory := career.NewMapDirectory(nil)
	applicationTracker := career.NewMapTracker()

	mustRegister(reg, career.NewSearchJobsTool(fixtureBoard))
	mustRegister(reg, career.NewAnalyzeResumeTool())
	mustRegister(reg, career.NewResearchCompanyTool(companyDirectory))
	mustRegister(reg, career.NewDraftOutreachTool())
	mustRegister(reg, career.NewFetchApplicationStatusTool(applicationTracker))

	return reg
}

func mustRegister(reg *agent.ToolRegistry, tool agent.Tool) {
	if err := reg.Register(tool); err != nil {
		panic(fmt.Sprintf("register tool %s: %v", tool.Name(), err))
	}
}

func buildScheduler(store storage.Store, publisher tasks.Publisher, cfg *config.Config, autonomousHandler *goals.AutonomousHandler) *tasks.Scheduler {
	reminderHandler := &tasks.NotifyHandler{
		NotificationType: reminders.TaskType,
		TitleTemplate:    "Application status check-in",
		BodyTemplate:     "Time to check in on your application{{if .company}} at {{.company}}{{end}}.",
	}

	defs := []tasks.Definition{
		{Type: reminders.TaskType, Handler: reminderHandler},
		{Type: goals.AutonomousTaskType, Handler: autonomousHandler, Timeout: 30 * time.Minute},
	}

	return tasks.NewScheduler(store, store, store, publisher, defs, tasks.SchedulerConfig{
		PollInterval:   cfg.Tasks.PollInterval,
		MaxConcurrency: cfg.Tasks.MaxConcurrentTasks,
	})
}

// sqlchat - hospital operations NL-to-SQL chat server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/sqlchat/internal/agent"
	"github.com/ashureev/sqlchat/internal/api"
	"github.com/ashureev/sqlchat/internal/config"
	"github.com/ashureev/sqlchat/internal/hospitaldb"
	"github.com/ashureev/sqlchat/internal/metrics"
	"github.com/ashureev/sqlchat/internal/middleware"
	"github.com/ashureev/sqlchat/internal/session"
	"github.com/ashureev/sqlchat/internal/sqlagent"
	"github.com/ashureev/sqlchat/internal/store"
	"github.com/ashureev/sqlchat/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "debug", cfg.Debug, "agent_runtime", cfg.Agent.Runtime)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	m := metrics.New()
	guarantor := session.NewGuarantor(repo,
		session.WithMaxRetries(cfg.Session.MaxRetries),
		session.WithBaseDelay(cfg.Session.BaseDelay),
		session.WithLogger(logger),
		session.WithObserver(m),
	)

	checks := map[string]api.Pinger{"sessions_db": repo}

	// Build the agent runtime once and inject it.
	var runtime agent.Runtime
	switch cfg.Agent.Runtime {
	case config.RuntimeGrpc:
		client, err := agent.NewGrpcRuntime(agent.DefaultGrpcClientConfig(cfg.Agent.GrpcAddr), logger)
		if err != nil {
			return err
		}
		defer client.Close()
		runtime = client
		checks["agent"] = client
	default:
		hdb, err := hospitaldb.Open(cfg.HospitalDBPath)
		if err != nil {
			return err
		}
		defer hdb.Close()
		seeded, err := hdb.EnsureSeeded(ctx)
		if err != nil {
			return err
		}
		slog.Info("Hospital database ready", "path", cfg.HospitalDBPath, "seeded", seeded)
		if cfg.LLM.APIKey == "" {
			slog.Warn("LLM_API_KEY is not set, chat requests will fail")
		}
		runtime = sqlagent.New(sqlagent.NewOpenAIModel(cfg.LLM.BaseURL, cfg.LLM.APIKey), repo, repo, hdb, sqlagent.Config{
			Model:    cfg.LLM.Model,
			MaxSteps: cfg.LLM.MaxSteps,
			Logger:   logger,
		})
		checks["hospital_db"] = hdb
	}

	executor := agent.NewTurnExecutor(runtime, guarantor, agent.TurnExecutorConfig{
		MaxAttempts:   cfg.Turn.MaxAttempts,
		RecoveryDelay: cfg.Turn.RecoveryDelay,
		SettleDelay:   cfg.Turn.SettleDelay,
		Logger:        logger,
		Observer:      m,
	})
	service := agent.NewService(agent.ServiceConfig{
		AppName:     cfg.AppName,
		Sessions:    repo,
		Preferences: repo,
		Ensurer:     guarantor,
		Executor:    executor,
		Logger:      logger,
	})
	chatHandler := agent.NewHandler(service, agent.HandlerConfig{
		RequestTimeout: cfg.RequestTimeout,
		Debug:          cfg.Debug,
		RateLimiter:    agent.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, 10*time.Minute),
		Observer:       m,
		Logger:         logger,
	})
	defer chatHandler.Close()
	healthHandler := api.NewHealthHandler(checks, 5*time.Second)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", m.Handler())
	chatHandler.RegisterRoutes(r)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// Chat turns may run up to REQUEST_TIMEOUT.
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return store.RunCleanupWorker(gctx, repo, cfg.SessionTTL, store.DefaultCleanupInterval, logger)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

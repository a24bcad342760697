// agentd serves the in-process SQL agent over gRPC so the chat server can run
// with AGENT_RUNTIME=grpc. It listens on AGENT_GRPC_ADDR and must share DB_PATH
// with the chat server.
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ashureev/sqlchat/internal/agent"
	"github.com/ashureev/sqlchat/internal/config"
	"github.com/ashureev/sqlchat/internal/hospitaldb"
	"github.com/ashureev/sqlchat/internal/sqlagent"
	"github.com/ashureev/sqlchat/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	// The agent service always runs the local runtime.
	if err := os.Setenv("AGENT_RUNTIME", config.RuntimeLocal); err != nil {
		slog.Error("Failed to set AGENT_RUNTIME", "error", err)
		os.Exit(1)
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
		slog.Error("Agent service failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	hdb, err := hospitaldb.Open(cfg.HospitalDBPath)
	if err != nil {
		return err
	}
	defer hdb.Close()
	if _, err := hdb.EnsureSeeded(ctx); err != nil {
		return err
	}

	rt := sqlagent.New(sqlagent.NewOpenAIModel(cfg.LLM.BaseURL, cfg.LLM.APIKey), repo, repo, hdb, sqlagent.Config{
		Model:    cfg.LLM.Model,
		MaxSteps: cfg.LLM.MaxSteps,
		Logger:   logger,
	})

	lis, err := net.Listen("tcp", cfg.Agent.GrpcAddr)
	if err != nil {
		return err
	}

	srv := grpc.NewServer()
	agent.RegisterGrpcRuntimeServer(srv, rt)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Agent service listening", "addr", lis.Addr().String())
		return srv.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down agent service...")
		healthSrv.Shutdown()
		srv.GracefulStop()
		return nil
	})
	return g.Wait()
}

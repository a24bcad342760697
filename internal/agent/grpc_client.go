package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ashureev/sqlchat/internal/domain"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

var runStreamDesc = &grpc.StreamDesc{
	StreamName:    runMethodName,
	ServerStreams: true,
}

// GrpcRuntime is a Runtime backed by a remote agent service.
type GrpcRuntime struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration for addr.
func DefaultGrpcClientConfig(addr string) GrpcClientConfig {
	if addr == "" {
		addr = "localhost:50051"
	}
	return GrpcClientConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcRuntime connects to the agent service and waits until the
// connection is ready. Extra dial options are appended to the defaults.
func NewGrpcRuntime(cfg GrpcClientConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcRuntime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to agent service at %s: %w", cfg.Address, err)
	}

	// Fail fast on bad agent endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("agent service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to agent service", "address", cfg.Address)

	return &GrpcRuntime{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcRuntime) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Ping checks the agent service through the standard gRPC health service.
func (c *GrpcRuntime) Ping(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("agent service status %s", resp.GetStatus())
	}
	return nil
}

// Submit runs one turn on the remote agent service.
func (c *GrpcRuntime) Submit(ctx context.Context, key domain.SessionKey, msg domain.Content) iter.Seq2[*domain.Event, error] {
	return func(yield func(*domain.Event, error) bool) {
		req, err := requestToStruct(key, msg)
		if err != nil {
			yield(nil, fmt.Errorf("encode run request: %w", err))
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := c.conn.NewStream(ctx, runStreamDesc, runFullMethod)
		if err != nil {
			yield(nil, mapStatusError("run request failed", err))
			return
		}
		if err := stream.SendMsg(req); err != nil && !errors.Is(err, io.EOF) {
			yield(nil, mapStatusError("run request failed", err))
			return
		}
		if err := stream.CloseSend(); err != nil {
			yield(nil, mapStatusError("run request failed", err))
			return
		}

		for {
			resp := &structpb.Struct{}
			err := stream.RecvMsg(resp)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				c.logger.Debug("Run stream error", "error", err, "user_id", key.UserID, "session_id", key.SessionID)
				yield(nil, mapStatusError("run stream error", err))
				return
			}
			if !yield(eventFromStruct(resp), nil) {
				return
			}
		}
	}
}

// mapStatusError turns a NotFound status into ErrSessionNotFound.
func mapStatusError(op string, err error) error {
	st, ok := status.FromError(err)
	if ok && st.Code() == codes.NotFound {
		return fmt.Errorf("%s: %w: %s", op, ErrSessionNotFound, st.Message())
	}
	return fmt.Errorf("%s: %w", op, err)
}

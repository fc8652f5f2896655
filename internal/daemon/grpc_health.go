package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"podscribe/internal/logging"
)

// QueueServiceName is the health service name reflecting the task store.
// The empty name reports the same status for clients that probe the server
// as a whole.
const QueueServiceName = "podscribe.Queue"

// pinger is satisfied by the task store.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthServer publishes grpc.health.v1 status derived from the task store.
type healthServer struct {
	bind     string
	target   pinger
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	serving  bool
	done     chan struct{}
}

func newHealthServer(bind string, target pinger, interval time.Duration, logger *slog.Logger) *healthServer {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &healthServer{
		bind:     strings.TrimSpace(bind),
		target:   target,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "grpc-health"),
	}
}

func (h *healthServer) start(ctx context.Context) error {
	if h == nil || h.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", h.bind)
	if err != nil {
		return fmt.Errorf("grpc health listen: %w", err)
	}

	server := grpc.NewServer()
	status := health.NewServer()
	healthpb.RegisterHealthServer(server, status)
	done := make(chan struct{})

	h.mu.Lock()
	h.listener = listener
	h.server = server
	h.health = status
	h.done = done
	h.mu.Unlock()

	h.refresh(ctx)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			h.logger.Error("grpc health server error", logging.Error(err))
		}
	}()
	go h.loop(ctx, done)

	h.logger.Info("grpc health listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (h *healthServer) loop(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			h.refresh(ctx)
		}
	}
}

// refresh pings the store and updates the published status. Transitions
// are logged once.
func (h *healthServer) refresh(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := h.target.Ping(pingCtx)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.health == nil {
		return
	}
	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(QueueServiceName, status)

	serving := err == nil
	if serving != h.serving {
		if serving {
			h.logger.Info("queue store healthy")
		} else {
			logging.WarnWithContext(h.logger, "queue store unhealthy", "queue_unhealthy",
				logging.Error(err),
				logging.String(logging.FieldImpact, "grpc health reports NOT_SERVING"),
			)
		}
		h.serving = serving
	}
}

func (h *healthServer) stop() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server == nil {
		return
	}
	close(h.done)
	h.health.Shutdown()
	h.server.Stop()
	h.server = nil
	h.health = nil
	h.listener = nil
}

func (h *healthServer) addr() string {
	if h == nil {
		return ""
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}
